package tool

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// DefaultReadLimit is the number of lines returned when no limit is given.
	DefaultReadLimit = 2000

	maxLineLength = 2000
)

// Window is a slice of a file's lines.
type Window struct {
	// Text holds the selected lines prefixed with their 1-based line numbers.
	Text string
	// Start is the first line returned (1-based); End is the last.
	Start, End int
	// Total is the file's line count.
	Total int
}

// More reports whether lines follow the window.
func (w Window) More() bool {
	return w.End < w.Total
}

// ReadWindow returns up to limit lines of content starting at the 1-based line
// offset. Zero or negative values fall back to line 1 and DefaultReadLimit.
func ReadWindow(content string, offset, limit int) Window {
	if offset <= 0 {
		offset = 1
	}
	if limit <= 0 {
		limit = DefaultReadLimit
	}

	lines := splitLines(content)
	w := Window{Total: len(lines), Start: offset, End: offset - 1}
	if offset > len(lines) {
		return w
	}

	end := min(offset-1+limit, len(lines))
	var sb strings.Builder
	for i := offset - 1; i < end; i++ {
		line := lines[i]
		if len(line) > maxLineLength {
			line = line[:maxLineLength] + "..."
		}
		fmt.Fprintf(&sb, "%6d\t%s\n", i+1, line)
	}
	w.Text = sb.String()
	w.End = end
	return w
}

// Format renders the window the way the Read tool returns it.
func (w Window) Format() string {
	if w.Total == 0 {
		return "<system-reminder>The file exists but has empty contents.</system-reminder>"
	}
	if w.End < w.Start {
		return fmt.Sprintf("<system-reminder>The file has %d lines; offset %d is past the end.</system-reminder>", w.Total, w.Start)
	}
	var sb strings.Builder
	sb.WriteString(w.Text)
	if w.More() {
		fmt.Fprintf(&sb, "\n(File has more lines. Use 'offset' to read beyond line %d)", w.End)
	}
	return sb.String()
}

// SliceLines returns the raw text of lines [offset, offset+limit) without
// numbering, for clients that do the windowing themselves.
func SliceLines(content string, offset, limit int) string {
	lines := splitLines(content)
	if offset <= 0 {
		offset = 1
	}
	if offset > len(lines) {
		return ""
	}
	end := len(lines)
	if limit > 0 {
		end = min(offset-1+limit, len(lines))
	}
	return strings.Join(lines[offset-1:end], "\n")
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = normalizeLineEndings(content)
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n")
}

// IsImageFile reports whether path names an image the runtime can view.
func IsImageFile(path string) bool {
	return DetectMediaType(path) != "application/octet-stream"
}

// DetectMediaType maps image extensions to their MIME type.
func DetectMediaType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// IsBinary applies a null-byte and control-character heuristic to the head of
// data.
func IsBinary(data []byte) bool {
	n := min(len(data), 8000)
	if n == 0 {
		return false
	}
	nonPrintable := 0
	for _, b := range data[:n] {
		if b == 0 {
			return true
		}
		if b < 32 && b != '\n' && b != '\r' && b != '\t' {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(n) > 0.3
}
