package keeper

import (
	"sync"
	"time"

	"optionsfi-keeper/internal/guard"
)

// Runtime holds the process-wide mutable keeper state: per-vault run locks,
// the operation rate limiter and the operator pause switch. All of it is
// guarded by one mutex.
type Runtime struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
	limiter  *guard.RateLimiter
	paused   bool
}

func NewRuntime(limiter *guard.RateLimiter) *Runtime {
	if limiter == nil {
		limiter = guard.NewRateLimiter(0, nil)
	}
	return &Runtime{
		inFlight: make(map[string]struct{}),
		limiter:  limiter,
	}
}

// TryAcquire marks assetID as running. It returns false without blocking when
// a run for the vault is already in flight.
func (r *Runtime) TryAcquire(assetID string) (func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inFlight[assetID]; busy {
		return nil, false
	}
	r.inFlight[assetID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.inFlight, assetID)
			r.mu.Unlock()
		})
	}, true
}

func (r *Runtime) InFlight(assetID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, busy := r.inFlight[assetID]
	return busy
}

func (r *Runtime) Allow(op string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limiter.Allow(op)
}

func (r *Runtime) Record(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiter.Record(op)
}

func (r *Runtime) Remaining(op string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limiter.Remaining(op)
}

func (r *Runtime) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// SetPaused sets the operator pause and returns the previous value.
func (r *Runtime) SetPaused(paused bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := r.paused
	r.paused = paused
	return before
}
