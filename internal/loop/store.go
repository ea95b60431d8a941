package loop

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned by a Store for an unknown session.
var ErrNotFound = errors.New("loop state not found")

// Store persists loop state between process invocations.
type Store interface {
	Load(ctx context.Context, sessionID string) (State, error)
	Save(ctx context.Context, st State) error
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]State, error)
}

// MemoryStore keeps state in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[sessionID]
	if !ok {
		return State{}, ErrNotFound
	}
	return st, nil
}

func (m *MemoryStore) Save(_ context.Context, st State) error {
	if st.SessionID == "" {
		return errors.New("loop: session id is required")
	}
	m.mu.Lock()
	m.states[st.SessionID] = st
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.states, sessionID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]State, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// Record loads the session state, applies the iteration and saves the
// result. A missing session starts closed. An open breaker is not saved
// again and yields ErrBreakerOpen. A granted exit ends the loop, so its
// state is deleted and the next loop in the session starts closed.
func (c *Controller) Record(ctx context.Context, store Store, sessionID string, it Iteration, gatePassed bool) (Step, error) {
	st, err := store.Load(ctx, sessionID)
	switch {
	case errors.Is(err, ErrNotFound):
		st = NewState(sessionID)
	case err != nil:
		return Step{}, fmt.Errorf("load loop state: %w", err)
	}

	step, err := c.Advance(st, it, gatePassed)
	if err != nil {
		return step, err
	}
	if step.Action == ActionExit {
		if err := store.Delete(ctx, sessionID); err != nil {
			return step, fmt.Errorf("delete loop state: %w", err)
		}
		return step, nil
	}
	if err := store.Save(ctx, step.State); err != nil {
		return step, fmt.Errorf("save loop state: %w", err)
	}
	return step, nil
}

// ResetSession closes the breaker for a session.
func ResetSession(ctx context.Context, store Store, sessionID string) (State, error) {
	st := Reset(sessionID)
	if err := store.Save(ctx, st); err != nil {
		return State{}, fmt.Errorf("reset loop state: %w", err)
	}
	return st, nil
}
