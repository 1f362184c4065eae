package registry

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/acme/followup-call-service/internal/domain"
	apperrors "github.com/acme/followup-call-service/pkg/errors"
)

// Registry is the single source of truth for call status. Active records
// live under per-record locks so mutations of one call never contend with
// another; terminal records are retired into a bounded history so status
// reads and duplicate terminal events keep resolving.
type Registry struct {
	mu      sync.RWMutex
	active  map[uuid.UUID]*entry
	history map[uuid.UUID]*domain.Call
	order   []uuid.UUID
	maxHist int
}

type entry struct {
	mu   sync.Mutex
	call *domain.Call
}

// New constructs a registry retaining up to historySize terminal records.
func New(historySize int) *Registry {
	if historySize <= 0 {
		historySize = 1024
	}
	return &Registry{
		active:  make(map[uuid.UUID]*entry),
		history: make(map[uuid.UUID]*domain.Call),
		maxHist: historySize,
	}
}

// Create allocates a new pending record for the patient context.
func (r *Registry) Create(patient domain.PatientContext, maxAttempts int) (*domain.Call, error) {
	call := domain.NewCall(patient, maxAttempts)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.active[call.ID]; exists {
		return nil, fmt.Errorf("%w: call id %s", apperrors.ErrConflict, call.ID)
	}
	r.active[call.ID] = &entry{call: call}
	return call.Clone(), nil
}

// Get returns a snapshot of the record, looking through active calls first
// and retired history second.
func (r *Registry) Get(id uuid.UUID) (*domain.Call, error) {
	r.mu.RLock()
	e, ok := r.active[id]
	if !ok {
		if old, found := r.history[id]; found {
			r.mu.RUnlock()
			return old.Clone(), nil
		}
		r.mu.RUnlock()
		return nil, fmt.Errorf("%w: call %s", apperrors.ErrNotFound, id)
	}
	r.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.call.Clone(), nil
}

// Update applies the mutator atomically against the live record. Status
// changes made by the mutator are validated against the transition table;
// an illegal move rolls the record back and returns ErrInvalidTransition.
func (r *Registry) Update(id uuid.UUID, mutate func(*domain.Call) error) (*domain.Call, error) {
	r.mu.RLock()
	e, ok := r.active[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: call %s", apperrors.ErrNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.call.Status
	backup := e.call.Clone()
	if err := mutate(e.call); err != nil {
		e.call = backup
		return nil, err
	}

	after := e.call.Status
	if after != before && !domain.CanTransition(before, after) {
		e.call = backup
		return nil, fmt.Errorf("%w: %s -> %s for call %s", apperrors.ErrInvalidTransition, before, after, id)
	}

	return e.call.Clone(), nil
}

// ListActive returns snapshots of every non-retired call.
func (r *Registry) ListActive() []*domain.Call {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.active))
	for _, e := range r.active {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	calls := make([]*domain.Call, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		calls = append(calls, e.call.Clone())
		e.mu.Unlock()
	}
	return calls
}

// Remove retires a terminal record from the active set. The retired record
// becomes immutable history.
func (r *Registry) Remove(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.active[id]
	if !ok {
		return fmt.Errorf("%w: call %s", apperrors.ErrNotFound, id)
	}

	e.mu.Lock()
	call := e.call.Clone()
	e.mu.Unlock()

	if !call.Status.Terminal() {
		return fmt.Errorf("%w: cannot retire call %s in status %s", apperrors.ErrInvalidTransition, id, call.Status)
	}

	delete(r.active, id)
	r.history[id] = call
	r.order = append(r.order, id)
	for len(r.order) > r.maxHist {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.history, oldest)
	}
	return nil
}
