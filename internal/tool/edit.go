package tool

import (
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
)

// fuzzyThreshold is the minimum similarity accepted when no exact match exists.
const fuzzyThreshold = 0.7

// Edit is one string replacement.
type Edit struct {
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

// EditResult describes an applied edit.
type EditResult struct {
	Content      string
	Replacements int
	// Similarity is below 1 when the match was found fuzzily.
	Similarity float64
}

// ApplyEdit replaces e.OldString in content. Without ReplaceAll the old string
// must occur exactly once. When it does not occur at all, a line-ending
// normalized match and then a Levenshtein-similar block are tried.
func ApplyEdit(content string, e Edit) (EditResult, error) {
	if e.OldString == e.NewString {
		return EditResult{}, ErrNoChange
	}
	if e.OldString == "" {
		if content != "" {
			return EditResult{}, ErrNotFound
		}
		return EditResult{Content: e.NewString, Replacements: 1, Similarity: 1}, nil
	}

	count := strings.Count(content, e.OldString)
	switch {
	case count == 0:
		return fuzzyReplace(content, e)
	case e.ReplaceAll:
		return EditResult{
			Content:      strings.ReplaceAll(content, e.OldString, e.NewString),
			Replacements: count,
			Similarity:   1,
		}, nil
	case count > 1:
		return EditResult{}, &AmbiguousError{Count: count}
	}
	return EditResult{
		Content:      strings.Replace(content, e.OldString, e.NewString, 1),
		Replacements: 1,
		Similarity:   1,
	}, nil
}

// ApplyEdits applies edits in order, each against the previous result. Nothing
// is returned unless every edit applies.
func ApplyEdits(content string, edits []Edit) (string, error) {
	if len(edits) == 0 {
		return "", fmt.Errorf("no edits given")
	}
	for i, e := range edits {
		res, err := ApplyEdit(content, e)
		if err != nil {
			return "", fmt.Errorf("edit %d: %w", i+1, err)
		}
		content = res.Content
	}
	return content, nil
}

func fuzzyReplace(content string, e Edit) (EditResult, error) {
	normalizedOld := normalizeLineEndings(e.OldString)
	normalized := normalizeLineEndings(content)
	if n := strings.Count(normalized, normalizedOld); n > 0 {
		if n > 1 && !e.ReplaceAll {
			return EditResult{}, &AmbiguousError{Count: n}
		}
		if !e.ReplaceAll {
			n = 1
		}
		return EditResult{
			Content:      strings.Replace(normalized, normalizedOld, e.NewString, n),
			Replacements: n,
			Similarity:   1,
		}, nil
	}

	match, sim := findBestMatch(content, e.OldString)
	if match == "" || sim < fuzzyThreshold {
		return EditResult{}, ErrNotFound
	}
	return EditResult{
		Content:      strings.Replace(content, match, e.NewString, 1),
		Replacements: 1,
		Similarity:   sim,
	}, nil
}

func normalizeLineEndings(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// findBestMatch returns the line block of text most similar to target, with
// the block height equal to target's.
func findBestMatch(text, target string) (string, float64) {
	lines := strings.Split(text, "\n")
	targetLen := len(strings.Split(target, "\n"))

	bestMatch := ""
	bestSimilarity := 0.0
	for i := 0; i+targetLen <= len(lines); i++ {
		block := strings.Join(lines[i:i+targetLen], "\n")
		if sim := similarity(block, target); sim > bestSimilarity {
			bestSimilarity = sim
			bestMatch = block
		}
	}
	return bestMatch, bestSimilarity
}

// similarity is 1 minus the normalized Levenshtein distance.
func similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	maxLen := max(len(a), len(b))
	if maxLen > 10000 {
		return float64(min(len(a), len(b))) / float64(maxLen)
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(maxLen)
}
