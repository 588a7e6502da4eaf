// Package species extracts the structured species list from a model
// answer.
//
// The model is instructed to open its answer with a SPECIES DETECTED
// block listing one species per dash line. Parsing is best effort: an
// answer without the block yields an empty list, and the raw text is
// kept for the caller either way.
package species

import "strings"

const (
	headerPrefix     = "species detected:"
	terminatorPrefix = "detailed analysis:"
)

// Report pairs the untouched model answer with the species parsed out
// of it.
type Report struct {
	RawText string
	Species []string
}

// Parse scans text for the species block. It never fails: text without
// a recognizable block produces a Report with an empty species list.
func Parse(text string) Report {
	return Report{RawText: text, Species: List(text)}
}

// List returns the species named in the block, deduplicated by exact
// match and ordered by first appearance. The block starts after a
// SPECIES DETECTED: line (any case) and ends at the first blank line
// or DETAILED ANALYSIS: line.
func List(text string) []string {
	lines := strings.Split(text, "\n")

	start := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), headerPrefix) {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return nil
	}

	var (
		out  []string
		seen = make(map[string]struct{})
	)
	for _, line := range lines[start:] {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			break
		}
		if strings.HasPrefix(strings.ToLower(trimmed), terminatorPrefix) {
			break
		}
		if !strings.HasPrefix(trimmed, "-") {
			continue
		}
		name := strings.TrimSpace(strings.TrimPrefix(trimmed, "-"))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
