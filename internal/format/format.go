// Package format renders durations and command output for reports.
package format

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Duration renders d as "850ms" below one second and as seconds with up to
// two decimals otherwise ("1.5s", "12s").
func Duration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return trimTrailingZeros(fmt.Sprintf("%.2f", d.Seconds())) + "s"
}

// trimTrailingZeros turns "1.50" into "1.5" and "2.00" into "2".
func trimTrailingZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

// OmittedMarker prefixes output shortened by Tail.
const OmittedMarker = "[... output truncated ...]\n"

// Tail keeps at most max bytes from the end of s, never splitting a rune.
// Failures are usually reported last, so the head is dropped.
func Tail(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := len(s) - max
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return OmittedMarker + s[cut:]
}

// Plural returns "1 check" or "3 checks".
func Plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
