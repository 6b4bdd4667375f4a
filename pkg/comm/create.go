package comm

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"commesh/pkg/group"
	"commesh/pkg/info"
)

// ColorUndefined opts a rank out of a Split; the rank still participates in
// the exchange and context-id allocation but receives no communicator.
const ColorUndefined = -1

// ErrSplitNeedsExchanger is returned when the device cannot gather the
// color/key tuples a Split requires.
var ErrSplitNeedsExchanger = errors.New("comm: device does not implement Exchanger")

// NewIntracomm creates and commits an intracommunicator over g. Every rank
// of the world participates (the context id is allocated in lockstep);
// callers outside g get a nil communicator. The group reference is shared:
// the new communicator takes its own.
func (rt *Runtime) NewIntracomm(g *group.Group) (*Comm, error) {
	ctx, err := rt.allocContextID()
	if err != nil {
		return nil, err
	}
	if g == nil || g.Rank() == group.RankUndefined {
		// Retire the id rather than recycling it: member ranks keep
		// theirs, and recycling here would desynchronize the allocators.
		return nil, nil
	}

	c := rt.create()
	c.kind = Intracomm
	c.rank = g.Rank()
	c.localSize = g.Size()
	c.remoteSize = g.Size()
	g.AddRef()
	c.localGroup = g
	c.ctxID = ctx
	c.recvCtxID = ctx
	c.ownsCtx = true

	c.MapIrregular(rt.world, g.WorldRanks(), DirL2L, true)
	if err := c.Commit(); err != nil {
		_ = c.Release()
		return nil, err
	}
	return c, nil
}

// Dup duplicates the communicator: same groups and rank spaces, fresh
// context id, hint values copied and then overridden by any recognized keys
// in opts (may be nil).
func (c *Comm) Dup(opts *info.Info) (*Comm, error) {
	ctx, err := c.rt.allocContextID()
	if err != nil {
		return nil, err
	}

	d := c.rt.create()
	d.kind = c.kind
	d.rank = c.rank
	d.localSize = c.localSize
	d.remoteSize = c.remoteSize
	d.isLowGroup = c.isLowGroup
	d.tainted = c.tainted
	d.ctxID = ctx
	d.recvCtxID = ctx
	d.ownsCtx = true

	c.localGroup.AddRef()
	d.localGroup = c.localGroup
	if c.remoteGroup != nil {
		c.remoteGroup.AddRef()
		d.remoteGroup = c.remoteGroup
	}

	c.mu.Lock()
	d.hints = c.hints
	d.errHandler = c.errHandler
	c.mu.Unlock()

	if err := d.SetHintsFromInfo(opts); err != nil {
		_ = d.Release()
		return nil, err
	}

	d.MapDup(c, DirL2L)
	if d.kind == Intercomm {
		d.MapDup(c, DirR2R)
	}
	if err := d.Commit(); err != nil {
		_ = d.Release()
		return nil, err
	}
	return d, nil
}

// Split partitions an intracommunicator by color, ordering each part by
// (key, parent rank). Ranks passing ColorUndefined receive nil. The device
// gathers the color/key tuples; the split itself owns no collective
// algorithm.
func (c *Comm) Split(color, key int) (*Comm, error) {
	if c.kind != Intracomm {
		return nil, errors.New("comm: split requires an intracommunicator")
	}
	ex, ok := c.rt.dev.(Exchanger)
	if !ok {
		return nil, ErrSplitNeedsExchanger
	}

	table, err := ex.Exchange(c, []int{color, key})
	if err != nil {
		return nil, fmt.Errorf("split exchange: %w", err)
	}

	// Keep the allocator in lockstep across all ranks, including the ones
	// that opt out.
	ctx, err := c.rt.allocContextID()
	if err != nil {
		return nil, err
	}
	if color == ColorUndefined {
		// Retired, not recycled; see NewIntracomm.
		return nil, nil
	}

	var members []int
	for i, t := range table {
		if t[0] == color {
			members = append(members, i)
		}
	}
	sort.SliceStable(members, func(a, b int) bool {
		ka, kb := table[members[a]][1], table[members[b]][1]
		if ka != kb {
			return ka < kb
		}
		return members[a] < members[b]
	})

	myRank := group.RankUndefined
	worldRanks := make([]int, len(members))
	for i, r := range members {
		worldRanks[i] = c.localGroup.WorldRank(r)
		if r == c.rank {
			myRank = i
		}
	}

	s := c.rt.create()
	s.kind = Intracomm
	s.rank = myRank
	s.localSize = len(members)
	s.remoteSize = len(members)
	s.tainted = c.tainted
	s.localGroup = group.New(worldRanks, myRank)
	s.ctxID = ctx
	s.recvCtxID = ctx
	s.ownsCtx = true

	s.MapIrregular(c, members, DirL2L, true)
	if err := s.Commit(); err != nil {
		_ = s.Release()
		return nil, err
	}
	return s, nil
}

// NewIntercomm builds an intercommunicator from the caller's local group
// and the remote side's world ranks. Intercommunicators and everything
// derived from them are tainted: they stay on sequence 0.
func (rt *Runtime) NewIntercomm(local *group.Group, remoteRanks []int, low bool) (*Comm, error) {
	ctx, err := rt.allocContextID()
	if err != nil {
		return nil, err
	}
	return rt.newIntercomm(local, remoteRanks, ctx, ctx, low, true)
}

func (rt *Runtime) newIntercomm(local *group.Group, remoteRanks []int,
	recvCtx, sendCtx int, low, ownsCtx bool) (*Comm, error) {

	c := rt.create()
	c.kind = Intercomm
	c.rank = local.Rank()
	c.localSize = local.Size()
	c.remoteSize = len(remoteRanks)
	c.isLowGroup = low
	c.tainted = true
	c.recvCtxID = recvCtx
	c.ctxID = sendCtx
	c.ownsCtx = ownsCtx

	local.AddRef()
	c.localGroup = local
	c.remoteGroup = group.New(remoteRanks, group.RankUndefined)

	c.MapIrregular(rt.world, local.WorldRanks(), DirL2L, true)
	c.MapIrregular(rt.world, remoteRanks, DirL2R, true)
	if err := c.Commit(); err != nil {
		_ = c.Release()
		return nil, err
	}
	return c, nil
}

// MergeIntercomm collapses an intercommunicator into an intracommunicator
// over both groups. The side passing high=false is ordered first; both
// sides must pass complementary values.
func (c *Comm) MergeIntercomm(high bool) (*Comm, error) {
	if c.kind != Intercomm {
		return nil, errors.New("comm: merge requires an intercommunicator")
	}
	ctx, err := c.rt.allocContextID()
	if err != nil {
		return nil, err
	}

	size := c.localSize + c.remoteSize
	localFirst := !high
	rank := c.rank
	if !localFirst {
		rank += c.remoteSize
	}

	worldRanks := make([]int, 0, size)
	if localFirst {
		worldRanks = append(worldRanks, c.localGroup.WorldRanks()...)
		worldRanks = append(worldRanks, c.remoteGroup.WorldRanks()...)
	} else {
		worldRanks = append(worldRanks, c.remoteGroup.WorldRanks()...)
		worldRanks = append(worldRanks, c.localGroup.WorldRanks()...)
	}

	m := c.rt.create()
	m.kind = Intracomm
	m.rank = rank
	m.localSize = size
	m.remoteSize = size
	m.tainted = c.tainted
	m.localGroup = group.New(worldRanks, rank)
	m.ctxID = ctx
	m.recvCtxID = ctx
	m.ownsCtx = true

	if localFirst {
		m.MapDup(c, DirL2L)
		m.MapDup(c, DirR2L)
	} else {
		m.MapDup(c, DirR2L)
		m.MapDup(c, DirL2L)
	}
	if err := m.Commit(); err != nil {
		_ = m.Release()
		return nil, err
	}
	return m, nil
}

// OpenPort returns a fresh port name for Accept/Connect rendezvous.
func (rt *Runtime) OpenPort() string {
	return "commesh-port:" + uuid.NewString()
}

// Accept waits on port for a Connect from a peer group and returns the
// resulting intercommunicator. The body lives in the device layer; devices
// without dynamic-process support report ErrNotSupported.
func (rt *Runtime) Accept(port string, root int, c *Comm) (*Comm, error) {
	return rt.dynamicJoin(port, root, c, true)
}

// Connect joins a peer group waiting in Accept on port.
func (rt *Runtime) Connect(port string, root int, c *Comm) (*Comm, error) {
	return rt.dynamicJoin(port, root, c, false)
}

func (rt *Runtime) dynamicJoin(port string, root int, c *Comm, accept bool) (*Comm, error) {
	pd, ok := rt.dev.(PortDevice)
	if !ok {
		return nil, fmt.Errorf("dynamic process: %w", ErrNotSupported)
	}
	ctx, err := rt.allocContextID()
	if err != nil {
		return nil, err
	}

	var remote []int
	var remoteCtx int
	var low bool
	if accept {
		remote, remoteCtx, low, err = pd.AcceptPort(port, root, c, ctx)
	} else {
		remote, remoteCtx, low, err = pd.ConnectPort(port, root, c, ctx)
	}
	if err != nil {
		rt.releaseContextID(ctx)
		return nil, err
	}

	// newIntercomm takes ownership of ctx: its failure path recycles it.
	return rt.newIntercomm(c.localGroup, remote, ctx, remoteCtx, low, true)
}
