package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/hookguard/internal/artifacts"
	"github.com/haasonsaas/hookguard/internal/audit"
	"github.com/haasonsaas/hookguard/internal/changes"
	"github.com/haasonsaas/hookguard/internal/gate"
	"github.com/haasonsaas/hookguard/internal/loop"
	"github.com/haasonsaas/hookguard/internal/observability"
	"github.com/haasonsaas/hookguard/internal/protocol"
)

// Handle processes one lifecycle event. Internal failures that must not
// block the agent are returned as warnings on a continue response.
func (e *Engine) Handle(ctx context.Context, in *protocol.Input) protocol.Response {
	ctx = observability.WithSession(ctx, in.SessionID)
	ctx = observability.WithEvent(ctx, string(in.HookEventName))
	ctx, span := e.tracer.TraceEvent(ctx, in.HookEventName.Key(), in.SessionID)
	defer span.End()

	var resp protocol.Response
	switch in.HookEventName {
	case protocol.EventSessionStart:
		resp = e.sessionStart(ctx, in)
	case protocol.EventUserPromptSubmit:
		resp = e.promptSubmit(ctx, in)
	case protocol.EventPreToolUse:
		resp = e.preToolUse(ctx, in)
	case protocol.EventPostToolUse:
		resp = e.postToolUse(ctx, in)
	case protocol.EventStop:
		resp = e.stop(ctx, in)
	case protocol.EventLoopIteration:
		resp = e.loopIteration(ctx, in)
	default:
		resp = protocol.Response{ExitCode: protocol.ExitError, Warnings: []string{fmt.Sprintf("unknown event %q", in.HookEventName)}}
	}

	for _, w := range resp.Warnings {
		e.logger.WarnContext(ctx, "hook warning", "event", in.HookEventName, "session_id", in.SessionID, "warning", w)
	}
	e.tracer.SetAttributes(span, "hook.exit_code", resp.ExitCode, "hook.decision", resp.Output.Decision)
	e.metrics.RecordEvent(in.HookEventName.Key(), resp.ExitCode)
	return resp
}

func (e *Engine) sessionStart(ctx context.Context, in *protocol.Input) protocol.Response {
	e.audit.Log(ctx, &audit.Event{
		Type:      audit.EventSession,
		SessionID: in.SessionID,
		HookEvent: string(in.HookEventName),
		Details:   map[string]any{"cwd": in.Cwd},
	})
	return protocol.Continue()
}

func (e *Engine) promptSubmit(ctx context.Context, in *protocol.Input) protocol.Response {
	matches := e.registry.Match(in.Prompt)
	bundle := e.injector.Inject(matches)

	e.logger.DebugContext(ctx, "prompt matched", "matches", len(matches), "injected", bundle.Skills, "skipped", bundle.Skipped)
	if bundle.Empty() {
		return protocol.Continue()
	}
	e.audit.Log(ctx, &audit.Event{
		Type:      audit.EventContext,
		SessionID: in.SessionID,
		HookEvent: string(in.HookEventName),
		Details:   map[string]any{"skills": bundle.Skills, "skipped": bundle.Skipped},
	})
	return protocol.Context(bundle.Text)
}

func (e *Engine) preToolUse(ctx context.Context, in *protocol.Input) protocol.Response {
	call := in.Call()
	call.ID = uuid.NewString()
	decision := e.Pipeline(ctx).PreCheck(ctx, call)
	e.logger.InfoContext(ctx, "tool call classified",
		"tool", in.ToolName,
		"decision", decision.Kind.String(),
		"rule", decision.RuleID,
	)
	return protocol.FromDecision(decision)
}

func (e *Engine) postToolUse(ctx context.Context, in *protocol.Input) protocol.Response {
	call := in.Call()
	call.ID = uuid.NewString()
	outcome := in.Outcome()
	resp := protocol.Continue()
	resp.Warnings = e.Pipeline(ctx).RunPost(ctx, call, outcome)

	if !outcome.TimedOut {
		return resp
	}
	halted, warnings := e.recordTimeout(ctx, in)
	resp.Warnings = append(resp.Warnings, warnings...)
	if halted != nil {
		halted.Warnings = append(halted.Warnings, resp.Warnings...)
		return *halted
	}
	return resp
}

// recordTimeout counts an executor timeout against a session that is already
// running an autonomous loop. Sessions without loop state are left alone.
func (e *Engine) recordTimeout(ctx context.Context, in *protocol.Input) (*protocol.Response, []string) {
	store, err := e.Store(ctx)
	if err != nil {
		return nil, []string{err.Error()}
	}
	if _, err := store.Load(ctx, in.SessionID); err != nil {
		if errors.Is(err, loop.ErrNotFound) {
			return nil, nil
		}
		return nil, []string{err.Error()}
	}
	it := loop.Iteration{ErrorSignature: loop.TimeoutSignature(in.ToolName)}
	resp, _ := e.record(ctx, in, it, false)
	if resp.ExitCode == protocol.ExitBlock {
		return &resp, nil
	}
	return nil, resp.Warnings
}

func (e *Engine) stop(ctx context.Context, in *protocol.Input) protocol.Response {
	report := e.RunGate(ctx, in.SessionID)
	if in.Loop == nil {
		return gateResponse(report, nil)
	}

	// In a loop, only a granted exit lets the turn end.
	it := e.iteration(ctx, in)
	resp, step := e.record(ctx, in, it, report.Passed)
	switch {
	case step == nil:
		return gateResponse(report, resp.Warnings)
	case step.Action == loop.ActionContinue:
		block := protocol.Block(e.exitRefusal(it, report))
		block.Warnings = resp.Warnings
		return block
	case step.Action == loop.ActionExit && report.Verdict == gate.VerdictCompleteWithWarnings:
		resp.Warnings = append(resp.Warnings, report.Summary())
	}
	return resp
}

// gateResponse maps a gate verdict to the Stop response outside a loop.
func gateResponse(report *gate.Report, warnings []string) protocol.Response {
	switch report.Verdict {
	case gate.VerdictBlocked:
		resp := protocol.Block(report.Summary())
		resp.Warnings = warnings
		return resp
	case gate.VerdictCompleteWithWarnings:
		warnings = append(warnings, report.Summary())
	}
	resp := protocol.Continue()
	resp.Warnings = warnings
	return resp
}

// exitRefusal names the half of the exit condition that is missing.
func (e *Engine) exitRefusal(it loop.Iteration, report *gate.Report) string {
	var missing []string
	if !report.Passed {
		missing = append(missing, "the completion gate has not passed\n"+report.Summary())
	}
	if !e.controller.ExitRequested(it) {
		missing = append(missing, fmt.Sprintf("no exit signal was given (set exit_signal or end with %q)", e.controller.Config().ExitSentinel))
	}
	if len(missing) == 0 {
		missing = append(missing, "the exit condition was not met")
	}
	return "autonomous loop continues: " + strings.Join(missing, "; ")
}

func (e *Engine) loopIteration(ctx context.Context, in *protocol.Input) protocol.Response {
	it := e.iteration(ctx, in)
	// The gate only matters when the agent asks to exit.
	passed := false
	if e.controller.ExitRequested(it) {
		passed = e.RunGate(ctx, in.SessionID).Passed
	}
	resp, _ := e.record(ctx, in, it, passed)
	return resp
}

// iteration converts the loop report, inferring the category from the
// changed files when the agent did not state one.
func (e *Engine) iteration(ctx context.Context, in *protocol.Input) loop.Iteration {
	it := in.Iteration()
	if it.Category != "" || in.Loop == nil {
		return it
	}
	files := in.Loop.FilesChanged
	if len(files) == 0 && in.Cwd != "" {
		changed, err := gate.GitChangedFiles(ctx, in.Cwd)
		if err != nil {
			e.logger.DebugContext(ctx, "changed files unavailable", "error", err)
		}
		files = changed
	}
	it.Category = changes.LoopCategory(files)
	return it
}

// RunGate runs the completion gate and audits the report.
func (e *Engine) RunGate(ctx context.Context, sessionID string) *gate.Report {
	ctx, span := e.tracer.Start(ctx, "hookguard.gate", "gate.mode", string(e.gate.Mode()))
	defer span.End()

	report := e.gate.Run(ctx)
	e.tracer.SetAttributes(span, "gate.passed", report.Passed, "gate.verdict", string(report.Verdict))

	details := map[string]any{"mode": report.Mode, "verdict": report.Verdict}
	for _, res := range report.Results {
		details["check."+res.Name] = res.Status.String()
	}
	e.audit.Log(ctx, &audit.Event{
		Type:      audit.EventGate,
		SessionID: sessionID,
		Decision:  string(report.Verdict),
		Details:   details,
	})
	return report
}

// record applies one iteration to the session's persisted loop state. A halt
// blocks with the report and a granted exit approves; a continuing loop
// writes nothing. Storage failures are warnings and return a nil step.
func (e *Engine) record(ctx context.Context, in *protocol.Input, it loop.Iteration, gatePassed bool) (protocol.Response, *loop.Step) {
	ctx, span := e.tracer.Start(ctx, "hookguard.loop")
	defer span.End()

	store, err := e.Store(ctx)
	if err != nil {
		e.tracer.RecordError(span, err)
		return protocol.Response{Warnings: []string{err.Error()}}, nil
	}
	step, err := e.controller.Record(ctx, store, in.SessionID, it, gatePassed)
	if err != nil && !errors.Is(err, loop.ErrBreakerOpen) {
		e.tracer.RecordError(span, err)
		return protocol.Response{Warnings: []string{err.Error()}}, nil
	}
	e.tracer.SetAttributes(span, "loop.action", string(step.Action), "loop.breaker", string(step.State.Breaker))

	e.audit.Log(ctx, &audit.Event{
		Type:      audit.EventLoop,
		SessionID: in.SessionID,
		HookEvent: string(in.HookEventName),
		Decision:  string(step.Action),
		Reason:    step.State.TripReason,
		Details: map[string]any{
			"from":       step.From,
			"to":         step.State.Breaker,
			"iterations": step.State.Iterations,
		},
	})

	switch step.Action {
	case loop.ActionExit:
		return protocol.Approve(fmt.Sprintf("autonomous loop exit granted after %d iterations", step.State.Iterations)), &step
	case loop.ActionContinue:
		return protocol.Continue(), &step
	}
	resp := protocol.Block(step.Report.String())
	// A report already saved for an open breaker is not saved again.
	if err == nil {
		if ref, saveErr := e.SaveHaltReport(ctx, step.Report); saveErr != nil {
			resp.Warnings = append(resp.Warnings, saveErr.Error())
		} else {
			e.logger.InfoContext(ctx, "halt report saved", "ref", ref)
		}
	}
	return resp, &step
}

// SaveHaltReport writes the report as JSON to the artifact store and returns
// its reference.
func (e *Engine) SaveHaltReport(ctx context.Context, report *loop.HaltReport) (string, error) {
	var ref string
	err := e.tracer.Run(ctx, "hookguard.halt_report", func(ctx context.Context) error {
		store, err := e.Artifacts(ctx)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("encode halt report: %w", err)
		}
		name := "halts/" + safeName(report.SessionID) + "-" + strconv.FormatInt(e.now().UTC().Unix(), 10) + ".json"
		ref, err = store.Put(ctx, name, bytes.NewReader(data), artifacts.PutOptions{
			MimeType: artifacts.MimeType(name),
			Metadata: map[string]string{"session_id": report.SessionID, "reason": report.Reason},
		})
		if err != nil {
			return fmt.Errorf("save halt report: %w", err)
		}
		return nil
	})
	return ref, err
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
