// Package group implements the rank-membership objects referenced by
// communicators. A Group is an ordered set of world ranks plus the caller's
// own position in it; groups are shared between communicators and
// reference-counted the same way communicators are.
package group

import "sync/atomic"

// RankUndefined marks a rank that has no counterpart in a translation target.
const RankUndefined = -1

// Group is an immutable, ordered set of world ranks. The zero position is
// rank 0 of any communicator built from the group.
type Group struct {
	ranks []int // world rank of each member, in group rank order
	myPos int   // caller's position, or RankUndefined when not a member
	ref   atomic.Int32
}

// New builds a group over the given world ranks. myPos is the caller's
// position within ranks (RankUndefined when the caller is not a member).
// The slice is copied; the group starts with one reference.
func New(ranks []int, myPos int) *Group {
	g := &Group{
		ranks: append([]int(nil), ranks...),
		myPos: myPos,
	}
	g.ref.Store(1)
	return g
}

// Size returns the number of members.
func (g *Group) Size() int { return len(g.ranks) }

// Rank returns the caller's rank within the group, or RankUndefined.
func (g *Group) Rank() int { return g.myPos }

// WorldRank returns the world rank of the member at group rank i.
func (g *Group) WorldRank(i int) int { return g.ranks[i] }

// WorldRanks returns a copy of the full membership in group rank order.
func (g *Group) WorldRanks() []int { return append([]int(nil), g.ranks...) }

// RankOf returns the group rank holding world rank w, or RankUndefined.
func (g *Group) RankOf(w int) int {
	for i, r := range g.ranks {
		if r == w {
			return i
		}
	}
	return RankUndefined
}

// TranslateRanks maps group ranks of g onto ranks of other. Members absent
// from other translate to RankUndefined.
func (g *Group) TranslateRanks(ranks []int, other *Group) []int {
	out := make([]int, len(ranks))
	for i, r := range ranks {
		out[i] = other.RankOf(g.ranks[r])
	}
	return out
}

// AddRef takes an additional reference.
func (g *Group) AddRef() { g.ref.Add(1) }

// Release drops one reference and reports whether this was the last one.
// Groups own no sub-objects, so the caller needs no further cleanup.
func (g *Group) Release() bool { return g.ref.Add(-1) == 0 }

// RefCount reports the current reference count. Intended for tests and
// leak diagnostics only.
func (g *Group) RefCount() int { return int(g.ref.Load()) }
