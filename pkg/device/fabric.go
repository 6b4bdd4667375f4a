package device

import (
	"fmt"
	"sync"
)

// Fabric is the state shared by all simulated ranks of one world: the node
// layout plus the rendezvous tables behind Exchange and the port
// operations.
type Fabric struct {
	size   int
	nodeOf []int // world rank -> node id

	mu        sync.Mutex
	cond      *sync.Cond
	exchanges map[string]*exchangeState
	ports     map[string]*portState
}

// NewFabric simulates size ranks spread over nodes physical nodes in
// consecutive blocks. nodes is clamped to [1, size].
func NewFabric(size, nodes int) *Fabric {
	if nodes < 1 {
		nodes = 1
	}
	if nodes > size {
		nodes = size
	}
	nodeOf := make([]int, size)
	for i := range nodeOf {
		nodeOf[i] = i * nodes / size
	}
	return newFabric(size, nodeOf)
}

// NewFabricWithLayout simulates len(nodeOf) ranks with an explicit rank to
// node assignment, e.g. a non-consecutive round-robin layout.
func NewFabricWithLayout(nodeOf []int) *Fabric {
	return newFabric(len(nodeOf), append([]int(nil), nodeOf...))
}

func newFabric(size int, nodeOf []int) *Fabric {
	f := &Fabric{
		size:      size,
		nodeOf:    nodeOf,
		exchanges: make(map[string]*exchangeState),
		ports:     make(map[string]*portState),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Endpoint returns the device handle for one simulated rank.
func (f *Fabric) Endpoint(rank int) *Endpoint {
	if rank < 0 || rank >= f.size {
		panic(fmt.Sprintf("device: rank %d out of world [0,%d)", rank, f.size))
	}
	return &Endpoint{fabric: f, rank: rank, seqs: make(map[int]int)}
}

type exchangeState struct {
	vals    [][]int
	got     int
	readers int
}

type portState struct {
	acceptRanks  []int
	acceptCtx    int
	acceptSize   int
	connectRanks []int
	connectCtx   int
	connectSize  int
	readers      int
}

func (p *portState) ready() bool { return p.acceptRanks != nil && p.connectRanks != nil }
