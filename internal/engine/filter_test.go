package engine_test

import (
	"testing"

	"github.com/trawler-io/trawler/internal/engine"
)

func TestNoiseFilter(t *testing.T) {
	f := engine.NewNoiseFilter([]string{
		"Exception ignored in: <function Chrome.__del__",
		"OSError: [WinError 6]",
	})

	tests := []struct {
		line string
		want bool
	}{
		{"Scraped 42 items from page 3", false},
		{"Exception ignored in: <function Chrome.__del__ at 0x7f>", true},
		{"  OSError: [WinError 6] The handle is invalid", true},
		{"", false},
		{"exception ignored in: <function chrome.__del__", false},
	}
	for _, tc := range tests {
		if got := f.Match(tc.line); got != tc.want {
			t.Errorf("Match(%q) = %v, want %v", tc.line, got, tc.want)
		}
	}
}

func TestNoiseFilterNoPatterns(t *testing.T) {
	f := engine.NewNoiseFilter(nil)
	if f.Match("anything at all") {
		t.Error("empty filter matched a line")
	}
}
