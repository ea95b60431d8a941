package safety

import (
	"errors"
	"regexp"
	"strings"
)

// MaxPathLength is the longest file path accepted from a tool invocation.
const MaxPathLength = 4096

// MaxCommitMessageLength bounds sanitized commit messages.
const MaxCommitMessageLength = 500

// Path validation errors.
var (
	ErrEmptyPath     = errors.New("file path is empty")
	ErrPathTraversal = errors.New("file path contains traversal sequence")
	ErrPathNullByte  = errors.New("file path contains null byte")
	ErrPathTooLong   = errors.New("file path exceeds maximum length")
)

// ValidateFilePath rejects empty paths, any ".." sequence, NUL bytes and
// paths longer than MaxPathLength.
func ValidateFilePath(path string) error {
	switch {
	case path == "":
		return ErrEmptyPath
	case strings.Contains(path, ".."):
		return ErrPathTraversal
	case strings.Contains(path, "\x00"):
		return ErrPathNullByte
	case len(path) > MaxPathLength:
		return ErrPathTooLong
	}
	return nil
}

var commitMessageStripper = strings.NewReplacer(
	";", "", "&", "", "|", "", "$", "", "`", "",
	"(", "", ")", "", "{", "", "}", "",
	"<", "", ">", "", `\`, "", "\n", "", "\r", "",
)

// SanitizeCommitMessage removes shell metacharacters and line breaks from a
// commit message, truncates it and trims surrounding whitespace.
func SanitizeCommitMessage(message string) string {
	if message == "" {
		return ""
	}
	out := commitMessageStripper.Replace(message)
	if r := []rune(out); len(r) > MaxCommitMessageLength {
		out = string(r[:MaxCommitMessageLength])
	}
	return strings.TrimSpace(out)
}

// MatchesAnyPattern reports whether command matches one of the anchored
// regular expressions. Invalid patterns never match.
func MatchesAnyPattern(command string, patterns []string) bool {
	if command == "" {
		return false
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		if loc := re.FindStringIndex(command); loc != nil && loc[0] == 0 {
			return true
		}
	}
	return false
}
