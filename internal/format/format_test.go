package format

import (
	"strings"
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0ms"},
		{-time.Second, "0ms"},
		{850 * time.Millisecond, "850ms"},
		{time.Second, "1s"},
		{1500 * time.Millisecond, "1.5s"},
		{1234 * time.Millisecond, "1.23s"},
		{90 * time.Second, "90s"},
	}
	for _, tt := range tests {
		if got := Duration(tt.in); got != tt.want {
			t.Errorf("Duration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTrimTrailingZeros(t *testing.T) {
	tests := map[string]string{
		"1.50": "1.5",
		"2.00": "2",
		"10":   "10",
		"0.05": "0.05",
	}
	for in, want := range tests {
		if got := trimTrailingZeros(in); got != want {
			t.Errorf("trimTrailingZeros(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTail(t *testing.T) {
	if got := Tail("  short  ", 100); got != "short" {
		t.Errorf("Tail() = %q", got)
	}
	got := Tail("line one\nline two\nFAIL: TestX", 11)
	if got != OmittedMarker+"FAIL: TestX" {
		t.Errorf("Tail() = %q", got)
	}
	got = Tail(strings.Repeat("é", 10), 5)
	if got != OmittedMarker+"éé" {
		t.Errorf("Tail() split a rune: %q", got)
	}
}

func TestPlural(t *testing.T) {
	if got := Plural(1, "check"); got != "1 check" {
		t.Errorf("Plural(1) = %q", got)
	}
	if got := Plural(3, "check"); got != "3 checks" {
		t.Errorf("Plural(3) = %q", got)
	}
}
