package engine

import "strings"

// NoiseFilter drops known-benign diagnostic lines from the worker's output
// before they are published. Matching is plain substring containment; the
// patterns come from configuration rather than being baked into the read loop.
type NoiseFilter struct {
	patterns []string
}

// NewNoiseFilter creates a filter over the given substring patterns.
func NewNoiseFilter(patterns []string) *NoiseFilter {
	return &NoiseFilter{patterns: patterns}
}

// Match reports whether the line should be suppressed.
func (f *NoiseFilter) Match(line string) bool {
	for _, p := range f.patterns {
		if strings.Contains(line, p) {
			return true
		}
	}
	return false
}
