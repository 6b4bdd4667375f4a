package comm

import "errors"

// Context ids are small integers disambiguating concurrent traffic. The low
// two bits are a sub-communicator suffix so that the node and node-roots
// communicators of a parent can derive their ids without a fresh allocation
// (which would have to be agreed on collectively).
const (
	ctxSuffixBits      = 2
	ctxSuffixIntranode = 1
	ctxSuffixInternode = 2

	// Fixed base ids of the builtin communicators.
	ctxBaseWorld        = 1
	ctxBaseSelf         = 2
	ctxBaseWorldPrivate = 3

	ctxBaseFirstDynamic = 4
	ctxBaseLimit        = 1 << 14
)

// ErrContextIDExhausted is returned when the allocator runs out of ids.
var ErrContextIDExhausted = errors.New("comm: context id space exhausted")

func ctxFromBase(base int) int { return base << ctxSuffixBits }

func intranodeCtx(parent int) int { return parent | ctxSuffixIntranode }
func internodeCtx(parent int) int { return parent | ctxSuffixInternode }

// contextIDAlloc hands out base context ids and recycles freed ones.
// Allocation order is deterministic: every rank performing the same
// creation sequence obtains the same ids.
type contextIDAlloc struct {
	next int
	free []int
}

func newContextIDAlloc() *contextIDAlloc {
	return &contextIDAlloc{next: ctxBaseFirstDynamic}
}

// alloc returns a fresh context id (with a zero suffix).
func (a *contextIDAlloc) alloc() (int, error) {
	if n := len(a.free); n > 0 {
		base := a.free[n-1]
		a.free = a.free[:n-1]
		return ctxFromBase(base), nil
	}
	if a.next >= ctxBaseLimit {
		return 0, ErrContextIDExhausted
	}
	base := a.next
	a.next++
	return ctxFromBase(base), nil
}

// release returns an id obtained from alloc to the free list. Builtin and
// derived (suffixed) ids are never passed here.
func (a *contextIDAlloc) release(id int) {
	a.free = append(a.free, id>>ctxSuffixBits)
}
