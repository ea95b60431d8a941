package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/hookguard/internal/policy"
)

// ErrNoExecutor is returned by Run when the pipeline has no executor.
var ErrNoExecutor = errors.New("hooks: no executor configured")

// ReasonConfirmationDenied is the reason attached when a human declines.
const ReasonConfirmationDenied = "confirmation denied"

type hookEntry struct {
	id       string
	name     string
	priority Priority
	seq      int
	tools    []string
	pre      PreHook
	post     PostHook
}

func (e *hookEntry) applies(tool string) bool {
	if len(e.tools) == 0 {
		return true
	}
	normalized := policy.NormalizeTool(tool)
	for _, t := range e.tools {
		if strings.HasPrefix(t, "group:") {
			if policy.InGroup(t, normalized) {
				return true
			}
			continue
		}
		if policy.NormalizeTool(t) == normalized {
			return true
		}
	}
	return false
}

// Pipeline owns the ordered pre-hook and post-hook chains.
type Pipeline struct {
	logger    *slog.Logger
	executor  Executor
	confirmer Confirmer
	observer  Observer

	mu   sync.RWMutex
	pre  []*hookEntry
	post []*hookEntry
	seq  int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithExecutor sets the executor used by Run.
func WithExecutor(e Executor) Option {
	return func(p *Pipeline) { p.executor = e }
}

// WithConfirmer sets the confirmer consulted for AskUser and NoOpinion.
// Without one, such calls stop in StateAwaitingConfirmation.
func WithConfirmer(c Confirmer) Option {
	return func(p *Pipeline) { p.confirmer = c }
}

// WithObserver attaches an observer. Repeated use fans out to all of them.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		switch existing := p.observer.(type) {
		case nil:
			p.observer = o
		case Observers:
			p.observer = append(existing, o)
		default:
			p.observer = Observers{existing, o}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPipeline creates an empty pipeline.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "hooks")
	return p
}

type hookConfig struct {
	priority Priority
	tools    []string
}

// HookOption configures hook registration.
type HookOption func(*hookConfig)

// ForTools limits the hook to specific tools. Entries may name tool groups
// such as "group:write".
func ForTools(tools ...string) HookOption {
	return func(c *hookConfig) { c.tools = tools }
}

// WithHookPriority sets the hook priority.
func WithHookPriority(p Priority) HookOption {
	return func(c *hookConfig) { c.priority = p }
}

// RegisterPreHook adds a pre-execution hook and returns its id.
func (p *Pipeline) RegisterPreHook(name string, hook PreHook, opts ...HookOption) string {
	entry := p.newEntry(name, opts)
	entry.pre = hook

	p.mu.Lock()
	p.pre = insertSorted(p.pre, entry)
	p.mu.Unlock()

	p.logger.Debug("registered pre-hook", "id", entry.id, "name", name, "priority", entry.priority, "tools", entry.tools)
	return entry.id
}

// RegisterPostHook adds a post-execution hook and returns its id.
func (p *Pipeline) RegisterPostHook(name string, hook PostHook, opts ...HookOption) string {
	entry := p.newEntry(name, opts)
	entry.post = hook

	p.mu.Lock()
	p.post = insertSorted(p.post, entry)
	p.mu.Unlock()

	p.logger.Debug("registered post-hook", "id", entry.id, "name", name, "priority", entry.priority, "tools", entry.tools)
	return entry.id
}

// Unregister removes a hook by id.
func (p *Pipeline) Unregister(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, list := range []*[]*hookEntry{&p.pre, &p.post} {
		for i, e := range *list {
			if e.id == id {
				*list = append((*list)[:i:i], (*list)[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Hooks returns the names of registered pre- and post-hooks in call order.
func (p *Pipeline) Hooks() (pre, post []string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, e := range p.pre {
		pre = append(pre, e.name)
	}
	for _, e := range p.post {
		post = append(post, e.name)
	}
	return pre, post
}

func (p *Pipeline) newEntry(name string, opts []HookOption) *hookEntry {
	cfg := &hookConfig{priority: PriorityNormal}
	for _, opt := range opts {
		opt(cfg)
	}
	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.mu.Unlock()
	return &hookEntry{
		id:       uuid.New().String(),
		name:     name,
		priority: cfg.priority,
		seq:      seq,
		tools:    cfg.tools,
	}
}

func insertSorted(list []*hookEntry, e *hookEntry) []*hookEntry {
	out := append(append([]*hookEntry(nil), list...), e)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority < out[j].priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

func (p *Pipeline) snapshot(pre bool) []*hookEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if pre {
		return p.pre
	}
	return p.post
}

// PreCheck runs every applicable pre-hook. The first hook with an opinion
// sets the result, except that a Deny from any hook wins immediately. A hook
// that fails or panics denies the call.
func (p *Pipeline) PreCheck(ctx context.Context, call *Call) policy.Decision {
	var result policy.Decision
	tool := call.Invocation.ToolName

	for _, entry := range p.snapshot(true) {
		if !entry.applies(tool) {
			continue
		}
		decision, err := callPre(ctx, entry, call)
		if err != nil {
			p.logger.Warn("pre-hook failed; denying",
				"hook", entry.name,
				"tool", tool,
				"call_id", call.ID,
				"error", err,
			)
			p.observeFailure("pre", entry.name)
			result = policy.Denied(entry.name, fmt.Sprintf("pre-hook %s failed: %v", entry.name, err))
			break
		}
		if decision.Kind == policy.Deny {
			if decision.RuleID == "" {
				decision.RuleID = entry.name
			}
			result = decision
			break
		}
		if !result.HasOpinion() && decision.HasOpinion() {
			result = decision
		}
	}

	if p.observer != nil {
		p.observer.ObserveDecision(call, result)
	}
	p.logger.Debug("pre-check complete", "tool", tool, "call_id", call.ID, "decision", result.Kind.String(), "rule", result.RuleID)
	return result
}

// Run drives a call from Proposed to a terminal state, or to
// StateAwaitingConfirmation when no confirmer is configured.
func (p *Pipeline) Run(ctx context.Context, call *Call) (*Result, error) {
	if p.executor == nil {
		return nil, ErrNoExecutor
	}
	if call.ID == "" {
		call.ID = uuid.New().String()
	}

	res := &Result{}
	res.transition(StateProposed)

	res.Decision = p.PreCheck(ctx, call)
	res.transition(StatePreChecked)

	switch res.Decision.Kind {
	case policy.Deny:
		res.transition(StateBlocked)
		return res, nil
	case policy.Approve:
	default:
		res.transition(StateAwaitingConfirmation)
		if p.confirmer == nil {
			return res, nil
		}
		approved, err := p.confirmer.Confirm(ctx, call, res.Decision)
		if err != nil || !approved {
			reason := ReasonConfirmationDenied
			if err != nil {
				reason = fmt.Sprintf("%s: %v", ReasonConfirmationDenied, err)
			}
			res.Decision = policy.Denied("confirmation", reason)
			res.transition(StateBlocked)
			return res, nil
		}
		res.Decision = policy.Approved("confirmation", "confirmed by user")
	}

	start := time.Now()
	outcome := p.executor.Execute(ctx, call)
	if outcome.Duration == 0 {
		outcome.Duration = time.Since(start)
	}
	if outcome.Err != nil && outcome.ErrorMsg == "" {
		outcome.ErrorMsg = outcome.Err.Error()
	}
	res.Outcome = &outcome
	res.transition(StateExecuted)

	res.Warnings = p.RunPost(ctx, call, outcome)
	return res, nil
}

// RunPost runs every applicable post-hook and returns their failures as
// warnings. The outcome is passed by value so hooks cannot alter it.
func (p *Pipeline) RunPost(ctx context.Context, call *Call, outcome Outcome) []string {
	var warnings []string
	tool := call.Invocation.ToolName
	for _, entry := range p.snapshot(false) {
		if !entry.applies(tool) {
			continue
		}
		if err := callPost(ctx, entry, call, outcome); err != nil {
			p.logger.Warn("post-hook failed",
				"hook", entry.name,
				"tool", tool,
				"call_id", call.ID,
				"error", err,
			)
			p.observeFailure("post", entry.name)
			warnings = append(warnings, fmt.Sprintf("%s: %v", entry.name, err))
		}
	}
	return warnings
}

func (p *Pipeline) observeFailure(stage, hook string) {
	if p.observer != nil {
		p.observer.ObserveHookFailure(stage, hook)
	}
}

// PanicError is returned when a hook panics.
type PanicError struct {
	Hook  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("hook %s panicked: %v", e.Hook, e.Value)
}

func callPre(ctx context.Context, entry *hookEntry, call *Call) (decision policy.Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Hook: entry.name, Value: r, Stack: debug.Stack()}
		}
	}()
	return entry.pre(ctx, call)
}

func callPost(ctx context.Context, entry *hookEntry, call *Call, outcome Outcome) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Hook: entry.name, Value: r, Stack: debug.Stack()}
		}
	}()
	return entry.post(ctx, call, outcome)
}
