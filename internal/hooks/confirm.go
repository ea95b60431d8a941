package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/hookguard/internal/policy"
)

var (
	// ErrConfirmationTimeout is returned when nobody answers in time.
	ErrConfirmationTimeout = errors.New("confirmation timed out")
	// ErrUnknownRequest is returned by Respond for an id that is not pending.
	ErrUnknownRequest = errors.New("no pending confirmation request")
)

// ConfirmationRequest describes a call waiting for a human.
type ConfirmationRequest struct {
	ID          string    `json:"id"`
	CallID      string    `json:"call_id"`
	SessionID   string    `json:"session_id,omitempty"`
	ToolName    string    `json:"tool_name"`
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ConfirmationResponse is a human's answer.
type ConfirmationResponse struct {
	RequestID   string    `json:"request_id"`
	Approved    bool      `json:"approved"`
	By          string    `json:"by,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	RespondedAt time.Time `json:"responded_at"`
}

// ChannelConfirmer parks each confirmation on a channel until Respond is
// called, the timeout passes or the context is canceled. Only the latter two
// and an explicit refusal deny the call.
type ChannelConfirmer struct {
	logger  *slog.Logger
	timeout time.Duration
	notify  func(ConfirmationRequest)
	now     func() time.Time

	mu        sync.Mutex
	pending   map[string]ConfirmationRequest
	responses map[string]chan ConfirmationResponse
}

// NewChannelConfirmer creates a confirmer. notify, when set, is called with
// every new request so a UI can surface it.
func NewChannelConfirmer(timeout time.Duration, notify func(ConfirmationRequest), logger *slog.Logger) *ChannelConfirmer {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &ChannelConfirmer{
		logger:    logger.With("component", "confirmer"),
		timeout:   timeout,
		notify:    notify,
		now:       time.Now,
		pending:   make(map[string]ConfirmationRequest),
		responses: make(map[string]chan ConfirmationResponse),
	}
}

// Confirm implements Confirmer.
func (c *ChannelConfirmer) Confirm(ctx context.Context, call *Call, decision policy.Decision) (bool, error) {
	now := c.now()
	req := ConfirmationRequest{
		ID:          uuid.New().String(),
		CallID:      call.ID,
		SessionID:   call.SessionID,
		ToolName:    call.Invocation.ToolName,
		Reason:      decision.Reason,
		RequestedAt: now,
		ExpiresAt:   now.Add(c.timeout),
	}
	ch := make(chan ConfirmationResponse, 1)

	c.mu.Lock()
	c.pending[req.ID] = req
	c.responses[req.ID] = ch
	c.mu.Unlock()
	defer c.cleanup(req.ID)

	c.logger.Info("confirmation requested", "request_id", req.ID, "tool", req.ToolName, "reason", req.Reason)
	if c.notify != nil {
		c.notify(req)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		c.logger.Info("confirmation answered", "request_id", req.ID, "approved", resp.Approved, "by", resp.By)
		return resp.Approved, nil
	case <-timer.C:
		return false, fmt.Errorf("%w after %v", ErrConfirmationTimeout, c.timeout)
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Respond delivers an answer to a pending request.
func (c *ChannelConfirmer) Respond(resp ConfirmationResponse) error {
	c.mu.Lock()
	ch, ok := c.responses[resp.RequestID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, resp.RequestID)
	}
	if resp.RespondedAt.IsZero() {
		resp.RespondedAt = c.now()
	}
	select {
	case ch <- resp:
	default:
	}
	return nil
}

// Pending returns the outstanding requests, oldest first.
func (c *ChannelConfirmer) Pending() []ConfirmationRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ConfirmationRequest, 0, len(c.pending))
	for _, r := range c.pending {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

func (c *ChannelConfirmer) cleanup(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	delete(c.responses, id)
	c.mu.Unlock()
}
