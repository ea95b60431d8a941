package doctor

import (
	"context"
	"time"

	"github.com/haasonsaas/hookguard/internal/loop"
	"github.com/haasonsaas/hookguard/internal/storage"
)

// StorageProbe captures a loop-state store health probe.
type StorageProbe struct {
	Driver        storage.Dialect
	SchemaVersion int
	Sessions      int
	Open          int
	Err           error
}

// ProbeStorage opens the store, which applies pending migrations, and
// counts the persisted sessions.
func ProbeStorage(ctx context.Context, cfg storage.Config) StorageProbe {
	probe := StorageProbe{Driver: cfg.Driver}
	if probe.Driver == "" {
		probe.Driver = storage.DialectSQLite
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	store, err := storage.Open(probeCtx, cfg)
	if err != nil {
		probe.Err = err
		return probe
	}
	defer store.Close()

	if probe.SchemaVersion, err = store.SchemaVersion(probeCtx); err != nil {
		probe.Err = err
		return probe
	}
	states, err := store.List(probeCtx)
	if err != nil {
		probe.Err = err
		return probe
	}
	probe.Sessions = len(states)
	for _, st := range states {
		if st.Breaker == loop.StateOpen {
			probe.Open++
		}
	}
	return probe
}
