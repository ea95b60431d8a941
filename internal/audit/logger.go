package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/hookguard/internal/format"
	"github.com/haasonsaas/hookguard/internal/hooks"
	"github.com/haasonsaas/hookguard/internal/observability"
	"github.com/haasonsaas/hookguard/internal/policy"
)

// Logger appends audit events as JSON lines. Writes are synchronous so
// each record is on disk before the hook process exits.
//
// A disabled Logger accepts every call and writes nothing.
//
// Usage:
//
//	logger, err := audit.NewLogger(cfg.Audit)
//	defer logger.Close()
//	pipeline := hooks.NewPipeline(hooks.WithObserver(logger.Observer(ctx)))
type Logger struct {
	config     Config
	output     io.WriteCloser
	slogger    *slog.Logger
	eventTypes map[EventType]bool
	now        func() time.Time

	mu sync.Mutex
}

// NewLogger opens the configured output.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}
	if config.MaxFieldSize <= 0 {
		config.MaxFieldSize = DefaultMaxFieldSize
	}

	output, err := openOutput(config.Output)
	if err != nil {
		return nil, err
	}
	return newLogger(config, output), nil
}

// NewWriterLogger writes to w. Close does not close w.
func NewWriterLogger(config Config, w io.Writer) *Logger {
	config.Enabled = true
	if config.MaxFieldSize <= 0 {
		config.MaxFieldSize = DefaultMaxFieldSize
	}
	return newLogger(config, nopCloser{w})
}

func newLogger(config Config, output io.WriteCloser) *Logger {
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// The event carries its own timestamp; drop slog's level and time.
			if len(groups) == 0 && (a.Key == slog.LevelKey || a.Key == slog.TimeKey) {
				return slog.Attr{}
			}
			return a
		},
	})
	l := &Logger{
		config:  config,
		output:  output,
		slogger: slog.New(observability.NewRedactingHandler(handler)),
		now:     time.Now,
	}
	if len(config.EventTypes) > 0 {
		l.eventTypes = make(map[EventType]bool, len(config.EventTypes))
		for _, et := range config.EventTypes {
			l.eventTypes[et] = true
		}
	}
	return l
}

func openOutput(output string) (io.WriteCloser, error) {
	switch {
	case output == "" || output == "stderr":
		return nopCloser{os.Stderr}, nil
	case output == "stdout":
		return nil, fmt.Errorf("audit: stdout is reserved for hook output")
	case strings.Contains(output, "://"):
		return nil, fmt.Errorf("audit: unsupported output %q", output)
	}
	path := strings.TrimPrefix(output, "file:")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Enabled reports whether events are written.
func (l *Logger) Enabled() bool {
	return l != nil && l.config.Enabled && l.slogger != nil
}

// Close closes the output.
func (l *Logger) Close() error {
	if !l.Enabled() {
		return nil
	}
	return l.output.Close()
}

// Log stamps and writes an event. Missing ids, timestamps and trace ids are
// filled in.
func (l *Logger) Log(ctx context.Context, event *Event) {
	if !l.Enabled() || event == nil {
		return
	}
	if l.eventTypes != nil && !l.eventTypes[event.Type] {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	if event.TraceID == "" {
		event.TraceID, event.SpanID = observability.SpanIDs(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeEvent(ctx, event)
}

func (l *Logger) writeEvent(ctx context.Context, event *Event) {
	attrs := []slog.Attr{
		slog.String("id", event.ID),
		slog.String("type", string(event.Type)),
		slog.String("timestamp", event.Timestamp.Format(time.RFC3339Nano)),
	}
	str := func(key, value string) {
		if value != "" {
			attrs = append(attrs, slog.String(key, l.truncate(value)))
		}
	}
	str("session_id", event.SessionID)
	str("hook_event", event.HookEvent)
	str("tool_name", event.ToolName)
	str("call_id", event.CallID)
	str("decision", event.Decision)
	str("rule_id", event.RuleID)
	str("reason", event.Reason)
	if event.Duration > 0 {
		attrs = append(attrs, slog.Int64("duration_ms", event.Duration.Milliseconds()))
	}
	str("error", event.Error)
	if len(event.Details) > 0 {
		details := make([]any, 0, len(event.Details))
		for k, v := range event.Details {
			if s, ok := v.(string); ok {
				v = l.truncate(s)
			}
			details = append(details, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("details", details...))
	}
	str("trace_id", event.TraceID)
	str("span_id", event.SpanID)

	l.slogger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}

func (l *Logger) truncate(s string) string {
	if len(s) <= l.config.MaxFieldSize {
		return s
	}
	return format.Tail(s, l.config.MaxFieldSize)
}

// LogDecision records a pre-check decision.
func (l *Logger) LogDecision(ctx context.Context, call *hooks.Call, decision policy.Decision) {
	if !l.Enabled() || call == nil {
		return
	}
	l.Log(ctx, &Event{
		Type:      EventDecision,
		SessionID: call.SessionID,
		HookEvent: "pre_tool_use",
		ToolName:  call.Invocation.ToolName,
		CallID:    call.ID,
		Decision:  decision.Kind.String(),
		RuleID:    decision.RuleID,
		Reason:    decision.Reason,
		Details:   map[string]any{"input": l.input(call.Invocation.Arguments)},
	})
}

// LogOutcome records an executed call.
func (l *Logger) LogOutcome(ctx context.Context, call *hooks.Call, outcome hooks.Outcome) {
	if !l.Enabled() || call == nil {
		return
	}
	details := map[string]any{"exit_code": outcome.ExitCode}
	if outcome.TimedOut {
		details["timed_out"] = true
	}
	l.Log(ctx, &Event{
		Type:      EventOutcome,
		SessionID: call.SessionID,
		HookEvent: "post_tool_use",
		ToolName:  call.Invocation.ToolName,
		CallID:    call.ID,
		Duration:  outcome.Duration,
		Error:     outcome.ErrorMsg,
		Details:   details,
	})
}

// input digests tool arguments unless full input is enabled.
func (l *Logger) input(args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	if l.config.IncludeToolInput {
		return string(data)
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// PostHook returns a post-hook that records every outcome.
func (l *Logger) PostHook() hooks.PostHook {
	return func(ctx context.Context, call *hooks.Call, outcome hooks.Outcome) error {
		l.LogOutcome(ctx, call, outcome)
		return nil
	}
}

// Observer adapts the logger to hooks.Observer. Events are stamped with the
// trace of ctx.
func (l *Logger) Observer(ctx context.Context) hooks.Observer {
	return &observer{ctx: ctx, logger: l}
}

type observer struct {
	ctx    context.Context
	logger *Logger
}

func (o *observer) ObserveDecision(call *hooks.Call, decision policy.Decision) {
	o.logger.LogDecision(o.ctx, call, decision)
}

func (o *observer) ObserveHookFailure(stage, hook string) {
	o.logger.Log(o.ctx, &Event{
		Type:    EventHookFailure,
		Details: map[string]any{"stage": stage, "hook": hook},
	})
}
