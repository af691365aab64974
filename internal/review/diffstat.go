// Package review implements the one-shot review pipeline and the session
// services shared by the HTTP API and the CLI.
package review

import (
	"regexp"
	"strconv"
	"strings"
)

var hunkHeaderRegex = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// PatchStat reports, per diff side, the highest line number covered by the
// patch. Citations are diff-bounded, so these maxima are the validity bounds
// for citation line ranges.
type PatchStat struct {
	OldLines int
	NewLines int
}

// StatPatch walks a unified patch and tracks both side counters. Malformed
// hunk headers are skipped rather than guessed at.
func StatPatch(patch string) PatchStat {
	var stat PatchStat
	oldLine, newLine := -1, -1

	for _, line := range strings.Split(patch, "\n") {
		if strings.HasPrefix(line, "@@") {
			m := hunkHeaderRegex.FindStringSubmatch(line)
			if m == nil {
				oldLine, newLine = -1, -1
				continue
			}
			oldLine, _ = strconv.Atoi(m[1])
			newLine, _ = strconv.Atoi(m[3])
			continue
		}
		if oldLine < 0 {
			continue
		}

		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case line == "":
			// Usually the blank tail of the patch; never count it.
		case strings.HasPrefix(line, "+"):
			stat.NewLines = max(stat.NewLines, newLine)
			newLine++
		case strings.HasPrefix(line, "-"):
			stat.OldLines = max(stat.OldLines, oldLine)
			oldLine++
		case strings.HasPrefix(line, " "):
			stat.OldLines = max(stat.OldLines, oldLine)
			stat.NewLines = max(stat.NewLines, newLine)
			oldLine++
			newLine++
		}
	}
	return stat
}
