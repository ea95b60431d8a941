// Package engine wires the configured components into a single handler for
// lifecycle events. One Engine serves one process; every component it holds
// is immutable after New except the lazily opened stores.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/haasonsaas/hookguard/internal/artifacts"
	"github.com/haasonsaas/hookguard/internal/audit"
	"github.com/haasonsaas/hookguard/internal/config"
	"github.com/haasonsaas/hookguard/internal/gate"
	"github.com/haasonsaas/hookguard/internal/hooks"
	"github.com/haasonsaas/hookguard/internal/loop"
	"github.com/haasonsaas/hookguard/internal/observability"
	"github.com/haasonsaas/hookguard/internal/policy"
	"github.com/haasonsaas/hookguard/internal/skills"
	"github.com/haasonsaas/hookguard/internal/storage"
)

// Engine dispatches lifecycle events to the matcher, policy pipeline,
// completion gate and loop controller.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger
	getenv func(string) string
	now    func() time.Time

	registry  *skills.Registry
	injector  *skills.Injector
	evaluator *policy.Evaluator
	fileGuard *hooks.FileGuard
	commit    *hooks.CommitMessageGuard
	formatter *hooks.Formatter

	checks     []gate.Check
	gate       *gate.Gate
	controller *loop.Controller

	audit   *audit.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	openStore     func(context.Context) (loop.Store, error)
	openArtifacts func(context.Context) (artifacts.Store, error)

	mu        sync.Mutex
	store     loop.Store
	artifacts artifacts.Store
	closers   []func() error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithGetenv overrides environment lookup for HOOKGUARD_STRICT.
func WithGetenv(getenv func(string) string) Option {
	return func(e *Engine) { e.getenv = getenv }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStore uses store for loop state instead of the configured database.
func WithStore(store loop.Store) Option {
	return func(e *Engine) { e.store = store }
}

// WithArtifacts uses store for halt reports instead of the configured backend.
func WithArtifacts(store artifacts.Store) Option {
	return func(e *Engine) { e.artifacts = store }
}

// WithAudit replaces the configured audit logger.
func WithAudit(l *audit.Logger) Option {
	return func(e *Engine) { e.audit = l }
}

// WithMetrics attaches metrics. Without it nothing is counted.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer attaches a tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithChecks replaces the configured gate checks.
func WithChecks(checks ...gate.Check) Option {
	return func(e *Engine) { e.checks = checks }
}

// New builds an engine from a validated configuration.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine: config is required")
	}
	e := &Engine{
		cfg:    cfg,
		logger: slog.Default(),
		getenv: os.Getenv,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")

	registry, err := skills.Load(skills.LoadOptions{
		Triggers: cfg.Triggers,
		TableDir: cfg.BaseDir,
		Dirs:     cfg.Skills.Dirs,
		Logger:   e.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("load skills: %w", err)
	}
	e.registry = registry
	e.injector = skills.NewInjector(registry,
		skills.WithMaxSkills(cfg.Injector.MaxSkills),
		skills.WithMaxBytes(cfg.Injector.MaxBytes),
		skills.WithLogger(e.logger),
	)

	table, err := policy.NewTable(cfg.Rules())
	if err != nil {
		return nil, fmt.Errorf("compile rules: %w", err)
	}
	e.evaluator = policy.NewEvaluator(table, e.logger)

	if e.fileGuard, err = hooks.NewFileGuard(cfg.Files.Protected); err != nil {
		return nil, fmt.Errorf("files: %w", err)
	}
	if !cfg.Commit.Disabled {
		e.commit = hooks.NewCommitMessageGuard(cfg.Commit.ForbiddenChars, cfg.Commit.MaxLength)
	}
	if len(cfg.Formatters.Commands) > 0 {
		if e.formatter, err = hooks.NewFormatter(cfg.Formatters.Commands, cfg.Formatters.Timeout, e.logger); err != nil {
			return nil, fmt.Errorf("formatters: %w", err)
		}
	}

	if e.checks == nil {
		for _, spec := range cfg.Gate.Checks {
			check, err := gate.NewCommandCheck(spec, cfg.BaseDir)
			if err != nil {
				return nil, fmt.Errorf("gate: %w", err)
			}
			e.checks = append(e.checks, check)
		}
	}
	e.gate = gate.New(gate.ResolveMode(cfg.Gate.Mode, e.getenv), e.checks, e.metrics, e.logger)

	e.controller, err = loop.NewController(cfg.Loop, e.logger, loop.WithStateChange(e.metrics.ObserveBreaker))
	if err != nil {
		return nil, fmt.Errorf("loop: %w", err)
	}

	if e.audit == nil {
		if e.audit, err = audit.NewLogger(cfg.Audit); err != nil {
			return nil, err
		}
		e.closers = append(e.closers, e.audit.Close)
	}

	e.openStore = func(ctx context.Context) (loop.Store, error) {
		store, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, store.Close)
		return store, nil
	}
	e.openArtifacts = func(ctx context.Context) (artifacts.Store, error) {
		store, err := artifacts.Open(ctx, cfg.Artifacts)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, store.Close)
		return store, nil
	}
	return e, nil
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config { return e.cfg }

// Registry returns the trigger registry.
func (e *Engine) Registry() *skills.Registry { return e.registry }

// Injector returns the context injector.
func (e *Engine) Injector() *skills.Injector { return e.injector }

// Gate returns the completion gate.
func (e *Engine) Gate() *gate.Gate { return e.gate }

// Controller returns the loop controller.
func (e *Engine) Controller() *loop.Controller { return e.controller }

// Pipeline builds the guarded execution pipeline for one event. Observers
// are bound to ctx so audit records carry its trace.
func (e *Engine) Pipeline(ctx context.Context) *hooks.Pipeline {
	opts := []hooks.Option{
		hooks.WithLogger(e.logger),
		hooks.WithObserver(e.audit.Observer(ctx)),
	}
	if e.metrics != nil {
		opts = append(opts, hooks.WithObserver(e.metrics))
	}
	p := hooks.NewPipeline(opts...)

	p.RegisterPreHook(hooks.HookFileGuard, e.fileGuard.Hook, hooks.ForTools("group:write"), hooks.WithHookPriority(hooks.PriorityHigh))
	if e.commit != nil {
		p.RegisterPreHook(hooks.HookCommitMessage, e.commit.Hook, hooks.ForTools("bash"), hooks.WithHookPriority(hooks.PriorityHigh))
	}
	p.RegisterPreHook(hooks.HookPolicy, hooks.PolicyHook(e.evaluator), hooks.WithHookPriority(hooks.PriorityNormal))

	if e.formatter != nil {
		p.RegisterPostHook(hooks.HookFormatter, e.formatter.Hook, hooks.ForTools("group:write"), hooks.WithHookPriority(hooks.PriorityNormal))
	}
	p.RegisterPostHook("audit", e.audit.PostHook(), hooks.WithHookPriority(hooks.PriorityLowest))
	return p
}

// Store returns the loop state store, opening it on first use.
func (e *Engine) Store(ctx context.Context) (loop.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		store, err := e.openStore(ctx)
		if err != nil {
			return nil, fmt.Errorf("open loop store: %w", err)
		}
		e.store = store
	}
	return e.store, nil
}

// Artifacts returns the artifact store, opening it on first use.
func (e *Engine) Artifacts(ctx context.Context) (artifacts.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.artifacts == nil {
		store, err := e.openArtifacts(ctx)
		if err != nil {
			return nil, fmt.Errorf("open artifact store: %w", err)
		}
		e.artifacts = store
	}
	return e.artifacts, nil
}

// Close releases stores and the audit output the engine opened itself.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
