package translate

import (
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// FileDiff is the before and after text of the hunks touching one file.
type FileDiff struct {
	Path    string
	OldText string
	NewText string
}

// ParseUnifiedDiff extracts per-file hunk text from a unified diff. Text that
// is not a diff yields nil.
func ParseUnifiedDiff(text string) []FileDiff {
	if !strings.Contains(text, "@@") || !strings.Contains(text, "--- ") {
		return nil
	}
	fds, err := godiff.ParseMultiFileDiff([]byte(text))
	if err != nil {
		return nil
	}

	var out []FileDiff
	for _, fd := range fds {
		if fd == nil || len(fd.Hunks) == 0 {
			continue
		}
		var oldB, newB strings.Builder
		for i, h := range fd.Hunks {
			if i > 0 {
				oldB.WriteString("\n")
				newB.WriteString("\n")
			}
			for _, line := range strings.SplitAfter(string(h.Body), "\n") {
				if line == "" {
					continue
				}
				switch line[0] {
				case ' ':
					oldB.WriteString(line[1:])
					newB.WriteString(line[1:])
				case '-':
					oldB.WriteString(line[1:])
				case '+':
					newB.WriteString(line[1:])
				}
			}
		}
		out = append(out, FileDiff{
			Path:    diffPath(fd),
			OldText: oldB.String(),
			NewText: newB.String(),
		})
	}
	return out
}

func diffPath(fd *godiff.FileDiff) string {
	name := strings.TrimSpace(fd.NewName)
	if name == "" || name == "/dev/null" {
		name = strings.TrimSpace(fd.OrigName)
	}
	name = strings.Trim(name, "\"")
	name = strings.TrimPrefix(name, "a/")
	name = strings.TrimPrefix(name, "b/")
	return name
}
