package ai

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is reported before any network I/O when the credential,
	// endpoint or model is missing, or the key is a known placeholder.
	ErrConfiguration = errors.New("llm configuration error")
	// ErrInvalidMessages is reported before any network I/O when the message
	// list has no system/user entry or contains an empty entry.
	ErrInvalidMessages = errors.New("llm messages are invalid")

	errStreamCanceled = errors.New("stream canceled")
)

// TransportError wraps connection level failures: refused, DNS, reset, or a
// caller context that was canceled.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("llm transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError is a non-2xx answer or a body that never carried a frame.
type ProtocolError struct {
	StatusCode int
	Body       string
}

func (e *ProtocolError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("llm protocol error: %s", e.Body)
	}
	return fmt.Sprintf("llm response status %d: %s", e.StatusCode, e.Body)
}

const (
	PhaseFirstByte = "first_byte"
	PhaseIdle      = "idle"
)

// TimeoutError fires when no byte arrived within the first-byte window or
// the stream went silent longer than the idle window.
type TimeoutError struct {
	Phase string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("llm stream timeout (%s)", e.Phase)
}
