package labreport

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// LabEntry is one recognized row of a lab report.
type LabEntry struct {
	ItemName       string `json:"item_name"`
	TestName       string `json:"test_name"`
	Result         string `json:"result"`
	Unit           string `json:"unit"`
	ReferenceRange string `json:"reference_range"`
	ResultHint     string `json:"result_hint,omitempty"`
}

// AbnormalFinding is the rendered one-line description of a flagged value.
type AbnormalFinding struct {
	Text string `json:"text"`
}

var rangePattern = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*-\s*(\d+(?:\.\d+)?)\s*$`)

// Markers that lab systems print next to out-of-range results.
var hintMarkers = []string{"↑", "↓", "⬆", "⬇", "▲", "▼"}

// ExtractFromStructured flags entries whose result lies outside the
// reference range or whose hint carries an up/down marker. Entries with an
// unparseable result or range are skipped. The output never contains two
// findings with the same text.
func ExtractFromStructured(entries []LabEntry) []AbnormalFinding {
	findings := make([]AbnormalFinding, 0)
	seen := make(map[string]struct{})

	for _, entry := range entries {
		value, err := strconv.ParseFloat(strings.TrimSpace(entry.Result), 64)
		if err != nil {
			continue
		}
		low, high, ok := ParseRange(entry.ReferenceRange)
		if !ok {
			continue
		}
		if !(value < low || value > high || HasAnomalyHint(entry.ResultHint)) {
			continue
		}

		text := RenderFinding(entry)
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		findings = append(findings, AbnormalFinding{Text: text})
	}
	return findings
}

// ParseRange reads a "min-max" reference range.
func ParseRange(raw string) (low, high float64, ok bool) {
	m := rangePattern.FindStringSubmatch(raw)
	if m == nil {
		return 0, 0, false
	}
	low, errLow := strconv.ParseFloat(m[1], 64)
	high, errHigh := strconv.ParseFloat(m[2], 64)
	if errLow != nil || errHigh != nil {
		return 0, 0, false
	}
	return low, high, true
}

// HasAnomalyHint reports whether a vendor hint marks the value abnormal.
// Single-letter H/L flags count as well.
func HasAnomalyHint(hint string) bool {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return false
	}
	for _, marker := range hintMarkers {
		if strings.Contains(hint, marker) {
			return true
		}
	}
	switch strings.ToUpper(hint) {
	case "H", "L":
		return true
	}
	return false
}

// RenderFinding formats an entry as
// "<test>: <result> <unit> (参考范围: <range>) <hint>".
func RenderFinding(entry LabEntry) string {
	name := strings.TrimSpace(entry.TestName)
	if name == "" {
		name = strings.TrimSpace(entry.ItemName)
	}
	text := fmt.Sprintf("%s: %s %s (参考范围: %s) %s",
		name,
		strings.TrimSpace(entry.Result),
		strings.TrimSpace(entry.Unit),
		strings.TrimSpace(entry.ReferenceRange),
		strings.TrimSpace(entry.ResultHint),
	)
	return strings.TrimRight(text, " ")
}
