package tools

import "fmt"

// Risk classifies the blast radius of a tool call. Ordering matters: the
// autonomy policy compares a plan's maximum risk against the session's
// autonomy level, so higher values mean more dangerous.
type Risk string

const (
	RiskReadOnly  Risk = "read_only"
	RiskWriteLow  Risk = "write_low"
	RiskWriteHigh Risk = "write_high"
)

var riskOrder = map[Risk]int{
	RiskReadOnly:  0,
	RiskWriteLow:  1,
	RiskWriteHigh: 2,
}

// Valid reports whether r is one of the known risk levels.
func (r Risk) Valid() bool {
	_, ok := riskOrder[r]
	return ok
}

// AtMost reports whether r is at or below the ceiling.
func (r Risk) AtMost(ceiling Risk) bool {
	return riskOrder[r] <= riskOrder[ceiling]
}

// Max returns the higher of the two risk levels.
func Max(a, b Risk) Risk {
	if riskOrder[a] >= riskOrder[b] {
		return a
	}
	return b
}

// ParseRisk validates a risk string from config or wire input.
func ParseRisk(s string) (Risk, error) {
	r := Risk(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown risk level %q", s)
	}
	return r, nil
}
