package config

import (
	"errors"
	"fmt"
)

// CurrentVersion is the config file format this build reads. Both the main
// config and standalone rule tables carry it.
const CurrentVersion = 1

// ErrUnsupportedVersion matches every *VersionError via errors.Is.
var ErrUnsupportedVersion = errors.New("unsupported config version")

// VersionProblem classifies a rejected version.
type VersionProblem string

const (
	VersionMissing VersionProblem = "missing"
	VersionOld     VersionProblem = "outdated"
	VersionNewer   VersionProblem = "newer than this build"
)

// VersionError reports a config whose version this build cannot read.
type VersionError struct {
	Version int
	Current int
	Problem VersionProblem
}

func (e *VersionError) Error() string {
	if e == nil {
		return ""
	}
	switch e.Problem {
	case VersionNewer:
		return fmt.Sprintf("config version %d is newer than this build (current: %d); upgrade hookguard", e.Version, e.Current)
	case VersionMissing:
		return fmt.Sprintf("config version is missing; add `version: %d` at the top of the file", e.Current)
	case "":
		return fmt.Sprintf("config version %d is unsupported (current: %d); set `version: %d`", e.Version, e.Current, e.Current)
	}
	return fmt.Sprintf("config version %d is %s (current: %d); set `version: %d` and compare with `hookguard schema config`",
		e.Version, e.Problem, e.Current, e.Current)
}

func (e *VersionError) Is(target error) bool { return target == ErrUnsupportedVersion }

// ValidateVersion accepts only CurrentVersion.
func ValidateVersion(version int) error {
	var problem VersionProblem
	switch {
	case version == CurrentVersion:
		return nil
	case version <= 0:
		problem = VersionMissing
	case version < CurrentVersion:
		problem = VersionOld
	default:
		problem = VersionNewer
	}
	return &VersionError{Version: version, Current: CurrentVersion, Problem: problem}
}
