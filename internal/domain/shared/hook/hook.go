// Package hook provides ordered before/around/after callback slots for
// record lifecycle phases.
//
// Hooks wrap a mandatory operation; they never replace it. A before slot can
// abort the phase by returning Abort, in which case the operation is not run
// and the engine reports a failed (not erroneous) outcome. Around and after
// slots abort by returning an *AbortError.
package hook

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Phase names a lifecycle phase that accepts hooks.
type Phase string

const (
	RemoteCreation Phase = "remote_creation"
	RemoteDeletion Phase = "remote_deletion"
	SoftDestroy    Phase = "soft_destroy"
	SoftRestore    Phase = "soft_restore"
)

// String returns the string representation of Phase
func (p Phase) String() string {
	return string(p)
}

// Result is the outcome of running a phase.
type Result struct {
	Aborted bool
	Reason  string
}

// Proceed is the result of a before slot that lets the phase continue.
func Proceed() Result {
	return Result{}
}

// Abort stops the phase before its operation runs.
func Abort(reason string) Result {
	return Result{Aborted: true, Reason: reason}
}

// OK reports whether the phase ran to completion.
func (r Result) OK() bool {
	return !r.Aborted
}

// AbortError lets around and after slots, or the wrapped operation itself,
// abort a phase after it started.
type AbortError struct {
	Phase  Phase
	Reason string
}

// Error implements the error interface
func (e *AbortError) Error() string {
	if e.Phase == "" {
		return "aborted: " + e.Reason
	}
	return fmt.Sprintf("%s aborted: %s", e.Phase, e.Reason)
}

// ErrOperationSkipped is returned when an around slot returns without
// calling next. That is a defect in the slot, not an abort.
var ErrOperationSkipped = errors.New("hook: around slot did not invoke the wrapped operation")

// BeforeFunc runs before the operation.
type BeforeFunc[T any] func(ctx context.Context, rec T) Result

// AroundFunc wraps the operation and must call next exactly once.
type AroundFunc[T any] func(ctx context.Context, rec T, next func(context.Context) error) error

// AfterFunc runs after the operation succeeded.
type AfterFunc[T any] func(ctx context.Context, rec T) error

type slot int

const (
	slotBefore slot = iota
	slotAround
	slotAfter
)

// Handle identifies a registered slot so it can be removed.
type Handle struct {
	phase Phase
	slot  slot
	id    uint64
}

type entry[F any] struct {
	id uint64
	fn F
}

type chain[T any] struct {
	before []entry[BeforeFunc[T]]
	around []entry[AroundFunc[T]]
	after  []entry[AfterFunc[T]]
}

// Registry holds the hooks of one entity type. It is safe for concurrent use.
type Registry[T any] struct {
	mu     sync.RWMutex
	seq    uint64
	chains map[Phase]*chain[T]
}

// NewRegistry creates a registry accepting hooks for the given phases only.
func NewRegistry[T any](phases ...Phase) *Registry[T] {
	r := &Registry[T]{chains: make(map[Phase]*chain[T], len(phases))}
	for _, p := range phases {
		r.chains[p] = &chain[T]{}
	}
	return r
}

// Supports reports whether phase accepts hooks in this registry.
func (r *Registry[T]) Supports(phase Phase) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.chains[phase]
	return ok
}

// Before registers fn to run before the operation of phase.
func (r *Registry[T]) Before(phase Phase, fn BeforeFunc[T]) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.chainLocked(phase)
	if err != nil {
		return Handle{}, err
	}
	r.seq++
	c.before = append(c.before, entry[BeforeFunc[T]]{id: r.seq, fn: fn})
	return Handle{phase: phase, slot: slotBefore, id: r.seq}, nil
}

// Around registers fn to wrap the operation of phase. The first registered
// around slot is the outermost.
func (r *Registry[T]) Around(phase Phase, fn AroundFunc[T]) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.chainLocked(phase)
	if err != nil {
		return Handle{}, err
	}
	r.seq++
	c.around = append(c.around, entry[AroundFunc[T]]{id: r.seq, fn: fn})
	return Handle{phase: phase, slot: slotAround, id: r.seq}, nil
}

// After registers fn to run once the operation of phase succeeded.
func (r *Registry[T]) After(phase Phase, fn AfterFunc[T]) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.chainLocked(phase)
	if err != nil {
		return Handle{}, err
	}
	r.seq++
	c.after = append(c.after, entry[AfterFunc[T]]{id: r.seq, fn: fn})
	return Handle{phase: phase, slot: slotAfter, id: r.seq}, nil
}

// Remove unregisters the slot identified by h. It returns false if the slot
// was already removed.
func (r *Registry[T]) Remove(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chains[h.phase]
	if !ok {
		return false
	}
	switch h.slot {
	case slotBefore:
		return removeEntry(&c.before, h.id)
	case slotAround:
		return removeEntry(&c.around, h.id)
	default:
		return removeEntry(&c.after, h.id)
	}
}

// Len returns the number of slots registered for phase.
func (r *Registry[T]) Len(phase Phase) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chains[phase]
	if !ok {
		return 0
	}
	return len(c.before) + len(c.around) + len(c.after)
}

// Run executes phase for rec: before slots in registration order, then the
// around slots wrapping op, then after slots in registration order.
//
// An abort from any slot, or an *AbortError returned by op, yields an aborted
// Result and a nil error. Any other error is returned as is. Run never
// reports success unless op ran.
func (r *Registry[T]) Run(ctx context.Context, phase Phase, rec T, op func(context.Context) error) (Result, error) {
	before, around, after := r.snapshot(phase)

	for _, b := range before {
		if res := b.fn(ctx, rec); res.Aborted {
			return res, nil
		}
	}

	ran := false
	call := func(ctx context.Context) error {
		ran = true
		return op(ctx)
	}
	for i := len(around) - 1; i >= 0; i-- {
		fn, next := around[i].fn, call
		call = func(ctx context.Context) error {
			return fn(ctx, rec, next)
		}
	}

	if err := call(ctx); err != nil {
		return abortOrError(err)
	}
	if !ran {
		return Result{}, fmt.Errorf("%s: %w", phase, ErrOperationSkipped)
	}

	for _, a := range after {
		if err := a.fn(ctx, rec); err != nil {
			return abortOrError(err)
		}
	}
	return Proceed(), nil
}

func (r *Registry[T]) snapshot(phase Phase) ([]entry[BeforeFunc[T]], []entry[AroundFunc[T]], []entry[AfterFunc[T]]) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chains[phase]
	if !ok {
		return nil, nil, nil
	}
	return append([]entry[BeforeFunc[T]](nil), c.before...),
		append([]entry[AroundFunc[T]](nil), c.around...),
		append([]entry[AfterFunc[T]](nil), c.after...)
}

func (r *Registry[T]) chainLocked(phase Phase) (*chain[T], error) {
	c, ok := r.chains[phase]
	if !ok {
		return nil, fmt.Errorf("hook: phase %q is not supported", phase)
	}
	return c, nil
}

func abortOrError(err error) (Result, error) {
	var abort *AbortError
	if errors.As(err, &abort) {
		return Abort(abort.Reason), nil
	}
	return Result{}, err
}

func removeEntry[F any](entries *[]entry[F], id uint64) bool {
	for i, e := range *entries {
		if e.id == id {
			*entries = append((*entries)[:i], (*entries)[i+1:]...)
			return true
		}
	}
	return false
}
