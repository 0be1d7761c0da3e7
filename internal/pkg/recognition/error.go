package recognition

import (
	"errors"
	"fmt"
)

// ErrNoTextRecognized is returned when a vendor answered without error but
// nothing usable was recognized.
var ErrNoTextRecognized = errors.New("no text recognized")

// ErrUpstream marks transport failures and non-2xx answers from a vendor.
var ErrUpstream = errors.New("recognition upstream unavailable")

// Error carries a vendor error code plus a short hint for the user.
type Error struct {
	Provider   string
	Code       string
	Message    string
	Suggestion string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s recognition failed (%s): %s", e.Provider, e.Code, e.Message)
}

// NewError resolves the suggestion for code from table, falling back to a
// generic retry hint.
func NewError(provider, code, message string, table map[string]string) *Error {
	suggestion, ok := table[code]
	if !ok {
		suggestion = "识别服务暂时不可用，请稍后重试"
	}
	return &Error{Provider: provider, Code: code, Message: message, Suggestion: suggestion}
}
