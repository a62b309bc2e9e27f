package authz

import (
	"fmt"
	"regexp"
)

// dangerousPattern pairs a compiled regex with the reason reported on match.
type dangerousPattern struct {
	re     *regexp.Regexp
	reason string
}

// dangerousPatterns is the fixed set of known-dangerous argument shapes.
// These are deliberately coarse: a match denies the single step, never the
// whole plan, so false positives cost one step and an event, not a run.
var dangerousPatterns = []dangerousPattern{
	{regexp.MustCompile(`\.\./`), "path traversal sequence"},
	{regexp.MustCompile("[;&|`]"), "shell metacharacter"},
	{regexp.MustCompile(`\$\(`), "shell command substitution"},
	{regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`), "prompt injection marker"},
	{regexp.MustCompile(`(?i)(;\s*drop\s+table|union\s+select|'\s*or\s+'?1'?\s*=\s*'?1)`), "SQL injection marker"},
}

// scanArguments walks every string value in the argument map (including
// nested maps and slices) and returns a deny reason for the first dangerous
// match, or "" when clean.
func scanArguments(args map[string]any) string {
	for key, value := range args {
		if reason := scanValue(key, value); reason != "" {
			return reason
		}
	}
	return ""
}

func scanValue(key string, value any) string {
	switch v := value.(type) {
	case string:
		for _, p := range dangerousPatterns {
			if p.re.MatchString(v) {
				return fmt.Sprintf("argument %q contains %s", key, p.reason)
			}
		}
	case map[string]any:
		return scanArguments(v)
	case []any:
		for _, item := range v {
			if reason := scanValue(key, item); reason != "" {
				return reason
			}
		}
	}
	return ""
}
