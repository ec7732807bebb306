package rate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/joshp123/melcloud/internal/store"
)

// ThrottleState is the outcome of the last upstream call. It survives restarts
// so a fresh process keeps honoring the previous process's backoff.
type ThrottleState struct {
	LastCallAt time.Time `json:"last_call_at"`
	LastStatus int       `json:"last_status"`
}

// Guard tracks the last call and computes the delay owed before the next one.
type Guard struct {
	decl   Declaration
	store  store.Store
	logger Logger
	now    func() time.Time

	mu sync.Mutex
	// state is mutated under mu
	state ThrottleState
}

func NewGuard(decl Declaration, st store.Store, logger Logger) *Guard {
	if st == nil {
		st = store.NewMemory()
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Guard{
		decl:   decl,
		store:  st,
		logger: logger,
		now:    time.Now,
	}
}

// Load restores the persisted throttle state. A missing record is not an error.
func (g *Guard) Load(ctx context.Context) error {
	var state ThrottleState
	if err := store.LoadJSON(ctx, g.store, store.KeyThrottle, &state); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	g.mu.Lock()
	g.state = state
	g.mu.Unlock()
	lastStatusGauge.WithLabelValues(g.decl.ProviderName()).Set(float64(state.LastStatus))
	return nil
}

// Delay returns how long a call starting at now must wait.
func (g *Guard) Delay(now time.Time) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state.LastCallAt.IsZero() {
		return 0
	}
	next := g.state.LastCallAt.Add(g.decl.Interval(g.state.LastStatus))
	if !now.Before(next) {
		return 0
	}
	return next.Sub(now)
}

// NextCallAt is the earliest instant the next call may start.
func (g *Guard) NextCallAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.LastCallAt.IsZero() {
		return time.Time{}
	}
	return g.state.LastCallAt.Add(g.decl.Interval(g.state.LastStatus))
}

// Record stores the outcome of one completed attempt and persists it.
func (g *Guard) Record(ctx context.Context, status int) {
	state := ThrottleState{LastCallAt: g.now(), LastStatus: status}

	g.mu.Lock()
	g.state = state
	g.mu.Unlock()

	lastStatusGauge.WithLabelValues(g.decl.ProviderName()).Set(float64(status))
	if err := store.SaveJSON(context.WithoutCancel(ctx), g.store, store.KeyThrottle, state); err != nil {
		g.logger.Warn("persist throttle state failed", "provider", g.decl.ProviderName(), "error", err)
	}
}

func (g *Guard) State() ThrottleState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}
