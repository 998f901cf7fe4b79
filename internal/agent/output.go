package agent

import (
	"regexp"
	"strings"
)

var (
	costLineRe = regexp.MustCompile(`(?i)total cost[^$]*(\$[0-9]+(?:\.[0-9]+)?)`)
	costAnyRe  = regexp.MustCompile(`\$[0-9]+\.[0-9]{2}`)

	errorLineRe = regexp.MustCompile(`(?i)\b(error|fatal|panic|exception|denied|failed)\b`)
)

// ParseCost scans captured agent output for the run cost. It prefers an
// explicit "total cost" line and otherwise takes the last dollar amount
// printed; returns "" when the agent reported nothing.
func ParseCost(output string) string {
	if m := costLineRe.FindStringSubmatch(output); m != nil {
		return m[1]
	}
	if all := costAnyRe.FindAllString(output, -1); len(all) > 0 {
		return all[len(all)-1]
	}
	return ""
}

// ErrorTail returns up to maxLines of trailing diagnostic lines from the
// captured output. Lines that look like errors are preferred; if none
// match, the raw tail is returned so a failed job always carries context.
func ErrorTail(output string, maxLines int) string {
	if maxLines <= 0 {
		maxLines = 10
	}
	lines := nonEmptyLines(output)
	if len(lines) == 0 {
		return ""
	}

	var errLines []string
	for _, l := range lines {
		if errorLineRe.MatchString(l) {
			errLines = append(errLines, l)
		}
	}
	picked := errLines
	if len(picked) == 0 {
		picked = lines
	}
	if len(picked) > maxLines {
		picked = picked[len(picked)-maxLines:]
	}
	return strings.Join(picked, "\n")
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(l); t != "" {
			out = append(out, t)
		}
	}
	return out
}
