package gate

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/haasonsaas/hookguard/internal/format"
	"github.com/haasonsaas/hookguard/internal/policy"
	"github.com/haasonsaas/hookguard/internal/safety"
)

const (
	// DefaultCheckTimeout bounds a command check without its own timeout.
	DefaultCheckTimeout = 5 * time.Minute
	// MaxDetailBytes bounds the output kept in a failed check's details.
	MaxDetailBytes = 4000
)

// CommandSpec is the configuration of a command check.
type CommandSpec struct {
	Name    string        `yaml:"name" json:"name" jsonschema:"required"`
	Argv    []string      `yaml:"argv" json:"argv" jsonschema:"required,minItems=1"`
	Dir     string        `yaml:"dir,omitempty" json:"dir,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// OnlyIfChanged skips the check unless a changed file matches one of
	// these path globs.
	OnlyIfChanged []string `yaml:"only_if_changed,omitempty" json:"only_if_changed,omitempty"`
}

// CommandCheck runs an external command; exit status 0 passes.
type CommandCheck struct {
	name    string
	argv    []string
	dir     string
	timeout time.Duration
	globs   []*policy.Glob

	run     func(ctx context.Context, argv []string, dir string) ([]byte, error)
	changed func(ctx context.Context, dir string) ([]string, error)
}

// NewCommandCheck validates spec. A relative Dir is resolved against baseDir.
func NewCommandCheck(spec CommandSpec, baseDir string) (*CommandCheck, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, errors.New("check name is required")
	}
	if err := safety.ValidateArgv(spec.Argv); err != nil {
		return nil, fmt.Errorf("check %s: %w", spec.Name, err)
	}
	dir := spec.Dir
	if dir == "" {
		dir = baseDir
	} else if !filepath.IsAbs(dir) && baseDir != "" {
		dir = filepath.Join(baseDir, dir)
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	c := &CommandCheck{
		name:    spec.Name,
		argv:    append([]string(nil), spec.Argv...),
		dir:     dir,
		timeout: timeout,
		run:     runCommand,
		changed: GitChangedFiles,
	}
	for _, pattern := range spec.OnlyIfChanged {
		g, err := policy.CompilePathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("check %s: only_if_changed %q: %w", spec.Name, pattern, err)
		}
		c.globs = append(c.globs, g)
	}
	return c, nil
}

// Name implements Check.
func (c *CommandCheck) Name() string { return c.name }

// Run implements Check.
func (c *CommandCheck) Run(ctx context.Context) (res CheckResult) {
	res.Name = c.name
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	if c.dir != "" {
		if info, err := os.Stat(c.dir); err != nil || !info.IsDir() {
			res.Status = StatusSkipped
			res.Details = fmt.Sprintf("working directory %s is not available", c.dir)
			return res
		}
	}
	if len(c.globs) > 0 {
		if skip, reason := c.unchanged(ctx); skip {
			res.Status = StatusSkipped
			res.Details = reason
			return res
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out, err := c.run(runCtx, c.argv, c.dir)

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.Status = StatusPassed
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		// A bare name not on PATH or a path-qualified program that is absent.
		res.Status = StatusSkipped
		res.Details = fmt.Sprintf("%s is not installed", c.argv[0])
	case ctx.Err() != nil:
		res.Status = StatusSkipped
		res.Details = fmt.Sprintf("canceled: %v", ctx.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.Status = StatusFailed
		res.ExitCode = -1
		res.Details = format.Tail(fmt.Sprintf("timed out after %s\n%s", format.Duration(c.timeout), out), MaxDetailBytes)
	case errors.As(err, &exitErr):
		res.Status = StatusFailed
		res.ExitCode = exitErr.ExitCode()
		res.Details = format.Tail(string(out), MaxDetailBytes)
	default:
		res.Status = StatusFailed
		res.ExitCode = -1
		res.Details = format.Tail(fmt.Sprintf("%v\n%s", err, out), MaxDetailBytes)
	}
	return res
}

// unchanged reports whether no changed file matches the check's globs. When
// the change set cannot be determined the check runs.
func (c *CommandCheck) unchanged(ctx context.Context) (bool, string) {
	files, err := c.changed(ctx, c.dir)
	if err != nil {
		return false, ""
	}
	for _, f := range files {
		for _, g := range c.globs {
			if g.Match(f) {
				return false, ""
			}
		}
	}
	return true, "no changed files match only_if_changed"
}

func runCommand(ctx context.Context, argv []string, dir string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}

// GitChangedFiles lists modified, added and untracked paths in the work tree
// rooted at dir.
func GitChangedFiles(ctx context.Context, dir string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}
	return ParsePorcelain(out), nil
}

// ParsePorcelain extracts paths from `git status --porcelain` output. For
// renames the destination path is returned.
func ParsePorcelain(out []byte) []string {
	var files []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if len(line) < 4 {
			continue
		}
		path := line[3:]
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		files = append(files, strings.Trim(path, `"`))
	}
	return files
}
