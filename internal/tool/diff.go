package tool

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// diffContext is the number of unchanged lines kept around each hunk.
const diffContext = 3

type lineOp struct {
	kind byte // ' ', '-' or '+'
	text string
}

// UnifiedDiff renders the change from before to after as a unified diff with
// path in both file headers. Equal inputs yield "".
func UnifiedDiff(path, before, after string) string {
	if before == after {
		return ""
	}
	ops := lineDiff(before, after)

	oldName, newName := path, path
	if before == "" {
		oldName = "/dev/null"
	}
	if after == "" {
		newName = "/dev/null"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s\n+++ %s\n", oldName, newName)
	for _, h := range hunks(ops) {
		writeHunk(&sb, ops, h)
	}
	return sb.String()
}

// DiffStats counts added and deleted lines between before and after.
func DiffStats(before, after string) (additions, deletions int) {
	for _, op := range lineDiff(before, after) {
		switch op.kind {
		case '+':
			additions++
		case '-':
			deletions++
		}
	}
	return additions, deletions
}

func lineDiff(before, after string) []lineOp {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var ops []lineOp
	for _, d := range diffs {
		var kind byte
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			kind = ' '
		case diffmatchpatch.DiffDelete:
			kind = '-'
		case diffmatchpatch.DiffInsert:
			kind = '+'
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line != "" {
				ops = append(ops, lineOp{kind: kind, text: line})
			}
		}
	}
	return ops
}

type hunkRange struct {
	start, end int // op indexes, end exclusive
}

// hunks groups changed ops with their context, merging groups whose context
// overlaps.
func hunks(ops []lineOp) []hunkRange {
	var out []hunkRange
	for i, op := range ops {
		if op.kind == ' ' {
			continue
		}
		start := max(i-diffContext, 0)
		end := min(i+1+diffContext, len(ops))
		if n := len(out); n > 0 && start <= out[n-1].end {
			out[n-1].end = max(out[n-1].end, end)
			continue
		}
		out = append(out, hunkRange{start: start, end: end})
	}
	return out
}

func writeHunk(sb *strings.Builder, ops []lineOp, h hunkRange) {
	// Line numbers of the hunk's first op on each side.
	oldLine, newLine := 1, 1
	for _, op := range ops[:h.start] {
		if op.kind != '+' {
			oldLine++
		}
		if op.kind != '-' {
			newLine++
		}
	}

	oldCount, newCount := 0, 0
	for _, op := range ops[h.start:h.end] {
		if op.kind != '+' {
			oldCount++
		}
		if op.kind != '-' {
			newCount++
		}
	}
	if oldCount == 0 {
		oldLine--
	}
	if newCount == 0 {
		newLine--
	}

	fmt.Fprintf(sb, "@@ -%d,%d +%d,%d @@\n", oldLine, oldCount, newLine, newCount)
	for _, op := range ops[h.start:h.end] {
		sb.WriteByte(op.kind)
		sb.WriteString(op.text)
		if !strings.HasSuffix(op.text, "\n") {
			sb.WriteString("\n\\ No newline at end of file\n")
		}
	}
}
