package executor

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/saleskit/ltc-backend/internal/domain"
)

// runState is the cancellation flag for one active run. Chunks check it
// before being forwarded; Cancel flips it.
type runState struct {
	cancelled atomic.Bool
}

// registry tracks the one active run per interaction id. It is process-local
// by design; a multi-process deployment would externalize this state.
type registry struct {
	mu     sync.Mutex
	active map[uuid.UUID]*runState
}

func newRegistry() *registry {
	return &registry{active: map[uuid.UUID]*runState{}}
}

// register claims the interaction for a new run. A second concurrent run on
// the same interaction fails, which also serializes turn numbering.
func (r *registry) register(id uuid.UUID) (*runState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.active[id]; exists {
		return nil, domain.ErrExecutionActive
	}
	state := &runState{}
	r.active[id] = state
	return state, nil
}

func (r *registry) lookup(id uuid.UUID) (*runState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.active[id]
	return state, ok
}

func (r *registry) remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.active, id)
}
