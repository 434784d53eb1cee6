// Package safety screens command text against a fixed list of patterns
// known to destroy hosts. The check is advisory string matching, not a
// sandbox: it catches accidents, not adversaries.
package safety

import "regexp"

// Match describes why a command was flagged.
type Match struct {
	// Pattern is the source text of the matching expression.
	Pattern string

	// Reason explains the hazard in one line.
	Reason string
}

// rule pairs a compiled pattern with its reason.
type rule struct {
	re     *regexp.Regexp
	reason string
}

var rules = []rule{
	{regexp.MustCompile(`(^|[;&|]\s*)rm\s+(-[a-zA-Z]*f[a-zA-Z]*\s+)+(/|/\*)(\s|$)`), "recursive removal of the filesystem root"},
	{regexp.MustCompile(`(^|[;&|]\s*)rm\s+-rf?\s+--no-preserve-root`), "recursive removal with root preservation disabled"},
	{regexp.MustCompile(`(^|[;&|]\s*)mkfs(\.[a-z0-9]+)?\s`), "filesystem creation wipes the target device"},
	{regexp.MustCompile(`(^|[;&|]\s*)dd\s+[^;|&]*of=/dev/(sd|vd|nvme|hd|xvd)`), "raw write to a block device"},
	{regexp.MustCompile(`>\s*/dev/(sd|vd|nvme|hd|xvd)[a-z0-9]*(\s|$)`), "redirect onto a block device"},
	{regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`), "fork bomb"},
	{regexp.MustCompile(`(^|[;&|]\s*)chmod\s+(-[a-zA-Z]+\s+)*777\s+/(\s|$)`), "world-writable filesystem root"},
	{regexp.MustCompile(`(^|[;&|]\s*)shred\s+[^;|&]*/dev/`), "shredding a device node"},
}

// Check returns a Match when cmd trips one of the danger patterns, nil
// otherwise.
func Check(cmd string) *Match {
	for _, r := range rules {
		if r.re.MatchString(cmd) {
			return &Match{Pattern: r.re.String(), Reason: r.reason}
		}
	}
	return nil
}
