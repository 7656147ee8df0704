package cli

import (
	"strings"
	"testing"
)

func TestBarWidthClamped(t *testing.T) {
	if got := bar(100); strings.Count(got, "█") != barWidth {
		t.Fatalf("full bar = %q", got)
	}
	if got := bar(0); strings.Count(got, "░") != barWidth {
		t.Fatalf("empty bar = %q", got)
	}
	// Out-of-range upstream fractions must not break rendering.
	if got := bar(150); strings.Count(got, "█") != barWidth {
		t.Fatalf("overfull bar = %q", got)
	}
	if got := bar(-10); strings.Count(got, "░") != barWidth {
		t.Fatalf("negative bar = %q", got)
	}
}

func TestColorThresholds(t *testing.T) {
	if color(10) != "\033[31m" {
		t.Fatal("low remaining should be red")
	}
	if color(30) != "\033[33m" {
		t.Fatal("middling remaining should be yellow")
	}
	if color(90) != "\033[32m" {
		t.Fatal("high remaining should be green")
	}
}
