package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/haasonsaas/hookguard/internal/policy"
	"github.com/haasonsaas/hookguard/internal/safety"
	"github.com/haasonsaas/hookguard/internal/shell"
)

// Built-in hook names. They double as the rule id of decisions they produce.
const (
	HookPolicy        = "policy"
	HookFileGuard     = "file-guard"
	HookCommitMessage = "commit-message"
	HookFormatter     = "formatter"
)

// PolicyHook adapts an evaluator to a pre-hook.
func PolicyHook(ev *policy.Evaluator) PreHook {
	return func(ctx context.Context, call *Call) (policy.Decision, error) {
		return ev.Evaluate(ctx, call.Invocation), nil
	}
}

// FileGuard rejects writes to unsafe or protected paths.
type FileGuard struct {
	protected []*policy.Glob
}

// NewFileGuard compiles the protected path globs.
func NewFileGuard(protected []string) (*FileGuard, error) {
	g := &FileGuard{}
	for _, pattern := range protected {
		glob, err := policy.CompilePathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("protected path %q: %w", pattern, err)
		}
		g.protected = append(g.protected, glob)
	}
	return g, nil
}

// Hook is the pre-hook for file-writing tools. Other tools get NoOpinion.
func (g *FileGuard) Hook(_ context.Context, call *Call) (policy.Decision, error) {
	if !call.Invocation.IsFileWrite() {
		return policy.Decision{}, nil
	}
	path := call.Invocation.FilePath()
	if err := safety.ValidateFilePath(path); err != nil {
		return policy.Denied(HookFileGuard, fmt.Sprintf("unsafe file path: %v", err)), nil
	}
	for _, glob := range g.protected {
		if glob.Match(path) {
			return policy.Denied(HookFileGuard, fmt.Sprintf("%s is a protected path (%s)", path, glob)), nil
		}
	}
	return policy.Decision{}, nil
}

// DefaultForbiddenCommitChars are rejected in commit messages unless
// configured otherwise.
const DefaultForbiddenCommitChars = "$`\\"

// CommitMessageGuard inspects `git commit -m` messages in shell commands.
type CommitMessageGuard struct {
	forbidden string
	maxLength int
}

// NewCommitMessageGuard creates a guard. Empty forbidden or a non-positive
// maxLength select the defaults.
func NewCommitMessageGuard(forbidden string, maxLength int) *CommitMessageGuard {
	if forbidden == "" {
		forbidden = DefaultForbiddenCommitChars
	}
	if maxLength <= 0 {
		maxLength = safety.MaxCommitMessageLength
	}
	return &CommitMessageGuard{forbidden: forbidden, maxLength: maxLength}
}

// Hook denies commits whose message is too long or contains forbidden
// characters. The reason carries a sanitized suggestion.
func (g *CommitMessageGuard) Hook(_ context.Context, call *Call) (policy.Decision, error) {
	if !call.Invocation.IsShell() {
		return policy.Decision{}, nil
	}
	cmd, err := shell.Parse(call.Invocation.Command())
	if err != nil {
		// The policy hook decides what to do with unparsable commands.
		return policy.Decision{}, nil
	}
	for _, seg := range cmd.Segments {
		for _, msg := range CommitMessages(seg.Argv) {
			if reason := g.check(msg); reason != "" {
				return policy.Denied(HookCommitMessage, fmt.Sprintf("%s; suggested message: %q", reason, safety.SanitizeCommitMessage(msg))), nil
			}
		}
	}
	return policy.Decision{}, nil
}

func (g *CommitMessageGuard) check(msg string) string {
	if len(msg) > g.maxLength {
		return fmt.Sprintf("commit message is %d bytes, limit is %d", len(msg), g.maxLength)
	}
	if i := strings.IndexAny(msg, g.forbidden); i >= 0 {
		return fmt.Sprintf("commit message contains forbidden character %q", msg[i])
	}
	return ""
}

// CommitMessages extracts the -m/--message values of a `git commit` argv.
func CommitMessages(argv []string) []string {
	if len(argv) < 2 || filepath.Base(argv[0]) != "git" {
		return nil
	}
	i := 1
	// Skip global options such as -C dir or -c key=value.
	for i < len(argv) && strings.HasPrefix(argv[i], "-") {
		if argv[i] == "-C" || argv[i] == "-c" {
			i++
		}
		i++
	}
	if i >= len(argv) || argv[i] != "commit" {
		return nil
	}

	var msgs []string
	args := argv[i+1:]
	for j := 0; j < len(args); j++ {
		a := args[j]
		switch {
		case a == "--":
			return msgs
		case a == "--message" || a == "-m":
			if j+1 < len(args) {
				msgs = append(msgs, args[j+1])
				j++
			}
		case strings.HasPrefix(a, "--message="):
			msgs = append(msgs, strings.TrimPrefix(a, "--message="))
		case strings.HasPrefix(a, "-m="):
			msgs = append(msgs, strings.TrimPrefix(a, "-m="))
		case len(a) > 1 && a[0] == '-' && a[1] != '-' && strings.Contains(a, "m"):
			// Combined short flags: -am msg, or -mmsg.
			k := strings.IndexByte(a, 'm')
			if rest := a[k+1:]; rest != "" {
				msgs = append(msgs, rest)
			} else if j+1 < len(args) {
				msgs = append(msgs, args[j+1])
				j++
			}
		}
	}
	return msgs
}

// Formatter runs a configured command on files written by the agent.
type Formatter struct {
	commands map[string][]string
	timeout  time.Duration
	logger   *slog.Logger
	run      func(ctx context.Context, argv []string, dir string) ([]byte, error)
}

// NewFormatter maps file extensions (".go") to argv templates. The
// placeholder {file} is replaced by the path; without one the path is
// appended.
func NewFormatter(commands map[string][]string, timeout time.Duration, logger *slog.Logger) (*Formatter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	normalized := make(map[string][]string, len(commands))
	for ext, argv := range commands {
		if err := safety.ValidateArgv(argv); err != nil {
			return nil, fmt.Errorf("formatter for %s: %w", ext, err)
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized[strings.ToLower(ext)] = append([]string(nil), argv...)
	}
	return &Formatter{
		commands: normalized,
		timeout:  timeout,
		logger:   logger.With("component", "formatter"),
		run:      runCommand,
	}, nil
}

// Hook is the post-hook. It only acts on successful writes.
func (f *Formatter) Hook(ctx context.Context, call *Call, outcome Outcome) error {
	if !call.Invocation.IsFileWrite() || outcome.Failed() {
		return nil
	}
	path := call.Invocation.FilePath()
	template, ok := f.commands[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil
	}
	if !filepath.IsAbs(path) && call.Cwd != "" {
		path = filepath.Join(call.Cwd, path)
	}
	argv := expandFile(template, path)

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	out, err := f.run(ctx, argv, call.Cwd)
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return fmt.Errorf("formatter %s not installed", argv[0])
	case ctx.Err() == context.DeadlineExceeded:
		return fmt.Errorf("formatter %s timed out after %v", argv[0], f.timeout)
	case err != nil:
		return fmt.Errorf("formatter %s: %w: %s", argv[0], err, strings.TrimSpace(string(out)))
	}
	f.logger.Debug("formatted file", "path", path, "command", argv[0])
	return nil
}

func expandFile(template []string, path string) []string {
	argv := make([]string, 0, len(template)+1)
	replaced := false
	for _, a := range template {
		if strings.Contains(a, "{file}") {
			a = strings.ReplaceAll(a, "{file}", path)
			replaced = true
		}
		argv = append(argv, a)
	}
	if !replaced {
		argv = append(argv, path)
	}
	return argv
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
