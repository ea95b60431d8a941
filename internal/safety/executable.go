// Package safety provides input validation helpers shared by hooks, checks
// and formatters.
package safety

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// shellMetachars matches characters that could enable command injection.
	shellMetachars = regexp.MustCompile(`[;&|` + "`" + `$<>]`)

	controlChars = regexp.MustCompile(`[\r\n]`)

	quoteChars = regexp.MustCompile(`["']`)

	// bareName matches executable names without a path component.
	bareName = regexp.MustCompile(`^[A-Za-z0-9._+-]+$`)

	windowsDrive = regexp.MustCompile(`^[A-Za-z]:[\\/]`)
)

// Executable validation errors.
var (
	ErrEmptyValue           = errors.New("executable value is empty")
	ErrNullByte             = errors.New("executable value contains null byte")
	ErrControlChar          = errors.New("executable value contains control characters")
	ErrShellMetachar        = errors.New("executable value contains shell metacharacters")
	ErrQuoteChar            = errors.New("executable value contains quote characters")
	ErrOptionInjection      = errors.New("executable value starts with dash (option injection)")
	ErrInvalidBareNameChars = errors.New("executable value contains invalid characters for bare name")
)

// IsLikelyPath reports whether value looks like a file path rather than a
// bare program name.
func IsLikelyPath(value string) bool {
	if value == "" {
		return false
	}
	if strings.HasPrefix(value, ".") || strings.HasPrefix(value, "~") {
		return true
	}
	if strings.ContainsAny(value, `/\`) {
		return true
	}
	return windowsDrive.MatchString(value)
}

// SanitizeExecutable validates argv[0] of a configured check or formatter and
// returns it trimmed.
func SanitizeExecutable(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	switch {
	case trimmed == "":
		return "", ErrEmptyValue
	case strings.Contains(trimmed, "\x00"):
		return "", ErrNullByte
	case controlChars.MatchString(trimmed):
		return "", ErrControlChar
	case shellMetachars.MatchString(trimmed):
		return "", ErrShellMetachar
	case quoteChars.MatchString(trimmed):
		return "", ErrQuoteChar
	}
	if IsLikelyPath(trimmed) {
		return trimmed, nil
	}
	if strings.HasPrefix(trimmed, "-") {
		return "", ErrOptionInjection
	}
	if !bareName.MatchString(trimmed) {
		return "", ErrInvalidBareNameChars
	}
	return trimmed, nil
}

// IsSafeExecutable is the boolean form of SanitizeExecutable.
func IsSafeExecutable(value string) bool {
	_, err := SanitizeExecutable(value)
	return err == nil
}

// ArgvError reports which element of an argv vector failed validation.
type ArgvError struct {
	Index int
	Value string
	Err   error
}

func (e *ArgvError) Error() string {
	return fmt.Sprintf("argv[%d] %q: %v", e.Index, e.Value, e.Err)
}

func (e *ArgvError) Unwrap() error {
	return e.Err
}

// ErrArgumentNullByte is returned for argv elements containing NUL.
var ErrArgumentNullByte = errors.New("argument contains null byte")

// ValidateArgv checks a configured argv vector. The executable must pass
// SanitizeExecutable; remaining arguments may contain anything except NUL,
// since they are passed to exec directly and never through a shell.
func ValidateArgv(argv []string) error {
	if len(argv) == 0 {
		return &ArgvError{Index: 0, Err: ErrEmptyValue}
	}
	if _, err := SanitizeExecutable(argv[0]); err != nil {
		return &ArgvError{Index: 0, Value: argv[0], Err: err}
	}
	for i, arg := range argv[1:] {
		if strings.Contains(arg, "\x00") {
			return &ArgvError{Index: i + 1, Value: arg, Err: ErrArgumentNullByte}
		}
	}
	return nil
}
