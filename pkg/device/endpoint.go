package device

import (
	"fmt"
	"sync/atomic"

	"commesh/pkg/comm"
)

// Tables is the loopback addressing resolved from a mapper chain: the world
// rank backing each local (and, for intercommunicators, remote) rank.
type Tables struct {
	Local  []int
	Remote []int
}

// Endpoint is the device handle of one simulated rank. It implements
// comm.Device plus the optional Exchanger, PortDevice and ProgressEngine
// capabilities.
type Endpoint struct {
	fabric *Fabric
	rank   int

	seqs       map[int]int // per-context exchange sequence, guarded by fabric.mu
	iterations atomic.Uint64
}

// WorldSize implements comm.Device.
func (e *Endpoint) WorldSize() int { return e.fabric.size }

// WorldRank implements comm.Device.
func (e *Endpoint) WorldRank() int { return e.rank }

// NodeID implements comm.Device.
func (e *Endpoint) NodeID(worldRank int) int { return e.fabric.nodeOf[worldRank] }

// CommitComm walks the mapper chain in insertion order and resolves each
// node into a block of the local or remote rank-translation table. Builtin
// communicators arrive with an empty chain and resolve directly.
func (e *Endpoint) CommitComm(c *comm.Comm) error {
	chain := c.MapperChain()
	if len(chain) == 0 {
		return e.commitBuiltin(c)
	}

	t := &Tables{}
	for _, n := range chain {
		src, ok := n.Src.DevData().(*Tables)
		if !ok {
			return fmt.Errorf("map source comm %d has no addressing", n.Src.Handle())
		}
		srcTab := src.Local
		if n.Dir.SrcIsRemote() {
			srcTab = src.Remote
		}

		var part []int
		switch n.Kind {
		case comm.MapDupNode:
			part = append(part, srcTab...)
		case comm.MapIrregularNode:
			part = make([]int, len(n.Ranks))
			for i, r := range n.Ranks {
				if r < 0 || r >= len(srcTab) {
					return fmt.Errorf("map rank %d outside source size %d", r, len(srcTab))
				}
				part[i] = srcTab[r]
			}
		}

		if n.Dir.DstIsRemote() {
			t.Remote = append(t.Remote, part...)
		} else {
			t.Local = append(t.Local, part...)
		}
	}

	if len(t.Local) != c.Size() {
		return fmt.Errorf("resolved local table %d, comm size %d", len(t.Local), c.Size())
	}
	if c.Kind() == comm.Intercomm && len(t.Remote) != c.RemoteSize() {
		return fmt.Errorf("resolved remote table %d, remote size %d", len(t.Remote), c.RemoteSize())
	}
	c.SetDevData(t)
	return nil
}

func (e *Endpoint) commitBuiltin(c *comm.Comm) error {
	switch {
	case c.Size() == e.fabric.size:
		local := make([]int, e.fabric.size)
		for i := range local {
			local[i] = i
		}
		c.SetDevData(&Tables{Local: local})
	case c.Size() == 1:
		c.SetDevData(&Tables{Local: []int{e.rank}})
	default:
		return fmt.Errorf("comm %d has no mapper and is not builtin", c.Handle())
	}
	return nil
}

// Exchange gathers one int tuple from every rank of c and returns the table
// indexed by communicator rank. All ranks of c must call; the rendezvous is
// keyed by the communicator's context id and a per-context sequence, which
// stay aligned across ranks because creation is SPMD-deterministic.
func (e *Endpoint) Exchange(c *comm.Comm, vals []int) ([][]int, error) {
	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	ctx := c.RecvContextID()
	seq := e.seqs[ctx]
	e.seqs[ctx] = seq + 1
	key := fmt.Sprintf("x:%d:%d", ctx, seq)

	st := f.exchanges[key]
	if st == nil {
		st = &exchangeState{vals: make([][]int, c.Size())}
		f.exchanges[key] = st
	}
	st.vals[c.Rank()] = append([]int(nil), vals...)
	st.got++
	f.cond.Broadcast()

	for st.got < c.Size() {
		f.cond.Wait()
	}

	out := make([][]int, len(st.vals))
	for i, v := range st.vals {
		out[i] = append([]int(nil), v...)
	}
	st.readers++
	if st.readers == c.Size() {
		delete(f.exchanges, key)
	}
	return out, nil
}

// AcceptPort implements the accept side of the dynamic-process rendezvous.
// The accept side is the low group by convention.
func (e *Endpoint) AcceptPort(port string, root int, c *comm.Comm, localCtx int) ([]int, int, bool, error) {
	remote, ctx, err := e.portJoin(port, c, localCtx, true)
	return remote, ctx, true, err
}

// ConnectPort implements the connect side of the rendezvous.
func (e *Endpoint) ConnectPort(port string, root int, c *comm.Comm, localCtx int) ([]int, int, bool, error) {
	remote, ctx, err := e.portJoin(port, c, localCtx, false)
	return remote, ctx, false, err
}

func (e *Endpoint) portJoin(port string, c *comm.Comm, localCtx int, accept bool) ([]int, int, error) {
	g := c.LocalGroup()
	ranks := g.WorldRanks()
	g.Release()

	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	st := f.ports[port]
	if st == nil {
		st = &portState{}
		f.ports[port] = st
	}
	if accept && st.acceptRanks == nil {
		st.acceptRanks = ranks
		st.acceptCtx = localCtx
		st.acceptSize = c.Size()
	} else if !accept && st.connectRanks == nil {
		st.connectRanks = ranks
		st.connectCtx = localCtx
		st.connectSize = c.Size()
	}
	f.cond.Broadcast()

	for !st.ready() {
		f.cond.Wait()
	}

	var remote []int
	var ctx int
	if accept {
		remote = append([]int(nil), st.connectRanks...)
		ctx = st.connectCtx
	} else {
		remote = append([]int(nil), st.acceptRanks...)
		ctx = st.acceptCtx
	}
	st.readers++
	if st.readers == st.acceptSize+st.connectSize {
		delete(f.ports, port)
	}
	return remote, ctx, nil
}

// ProgressStart implements comm.ProgressEngine.
func (e *Endpoint) ProgressStart() any { return nil }

// ProgressTest performs one progress iteration. The loopback engine only
// counts them; tests use the count to observe the async thread running.
func (e *Endpoint) ProgressTest(any) error {
	e.iterations.Add(1)
	return nil
}

// ProgressEnd implements comm.ProgressEngine.
func (e *Endpoint) ProgressEnd(any) {}

// Iterations reports how many progress test iterations ran.
func (e *Endpoint) Iterations() uint64 { return e.iterations.Load() }
