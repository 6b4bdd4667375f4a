package comm

import (
	"sync"
	"sync/atomic"

	"commesh/pkg/group"
)

// Kind names the two communicator addressing models.
type Kind int

const (
	// Intracomm is a single unified group: one rank space, equal send and
	// receive context ids.
	Intracomm Kind = iota
	// Intercomm joins two independent peer groups; the send and receive
	// context ids may differ.
	Intercomm
)

func (k Kind) String() string {
	if k == Intercomm {
		return "inter"
	}
	return "intra"
}

// HierarchyKind places a communicator within the two-level node
// decomposition.
type HierarchyKind int

const (
	// HierarchyFlat is the default: no decomposition attached.
	HierarchyFlat HierarchyKind = iota
	// HierarchyParent marks a communicator that owns node/node-roots
	// sub-communicators.
	HierarchyParent
	// HierarchyNodeRoots marks the one-representative-per-node
	// sub-communicator.
	HierarchyNodeRoots
	// HierarchyNode marks the co-located-peers sub-communicator.
	HierarchyNode
)

func (h HierarchyKind) String() string {
	switch h {
	case HierarchyParent:
		return "parent"
	case HierarchyNodeRoots:
		return "node-roots"
	case HierarchyNode:
		return "node"
	default:
		return "flat"
	}
}

// ErrorHandler is attached to a communicator and invoked by API layers when
// an operation on it fails.
type ErrorHandler func(c *Comm, err error)

// Comm is the communicator object. Identity fields (rank, sizes, context
// ids, kind) are fixed at commit and safe to read without locking; mutable
// state (name, attributes, hints, reference count) is guarded by mu.
type Comm struct {
	handle int32
	ref    atomic.Int32
	mu     sync.Mutex

	rt *Runtime

	ctxID     int // send context id
	recvCtxID int // equal to ctxID for intracommunicators
	ownsCtx   bool

	kind       Kind
	rank       int
	localSize  int
	remoteSize int

	localGroup  *group.Group
	remoteGroup *group.Group

	attrs      map[string]any
	errHandler ErrorHandler
	name       string

	hierarchy      HierarchyKind
	nodeComm       *Comm
	nodeRootsComm  *Comm
	intranodeTable []int // per parent rank: rank in nodeComm, or -1
	internodeTable []int // per parent rank: rank of its node leader in nodeRootsComm
	nodeCount      int

	isLowGroup bool
	seq        int
	tainted    bool
	revoked    atomic.Bool

	hints [maxHints]int32

	mapperHead *MapNode
	mapperTail *MapNode

	next      *Comm // active-communicator chain, guarded by rt.mu
	committed bool
	builtin   bool

	// devData is opaque storage for the device layer, set during its
	// commit hook.
	devData any
}

// Handle returns the communicator's numeric handle.
func (c *Comm) Handle() int32 { return c.handle }

// Kind reports whether this is an intra- or intercommunicator.
func (c *Comm) Kind() Kind { return c.kind }

// Rank returns the caller's rank in the (local) group.
func (c *Comm) Rank() int { return c.rank }

// Size returns the local group size.
func (c *Comm) Size() int { return c.localSize }

// RemoteSize returns the remote group size; equal to Size for
// intracommunicators.
func (c *Comm) RemoteSize() int { return c.remoteSize }

// ContextID returns the send context id.
func (c *Comm) ContextID() int { return c.ctxID }

// RecvContextID returns the receive context id.
func (c *Comm) RecvContextID() int { return c.recvCtxID }

// Seq returns the commit-time sequence number distinguishing user-level
// communicators; context ids cannot serve this purpose because
// sub-communicators derive theirs.
func (c *Comm) Seq() int { return c.seq }

// Tainted reports whether this communicator and its offspring are
// restricted to sequence 0 (intercommunicators and their merges).
func (c *Comm) Tainted() bool { return c.tainted }

// IsLowGroup reports which side of an intercommunicator the caller is on.
func (c *Comm) IsLowGroup() bool { return c.isLowGroup }

// Hierarchy returns the communicator's place in the node decomposition.
func (c *Comm) Hierarchy() HierarchyKind { return c.hierarchy }

// NodeComm returns the co-located-peers sub-communicator, or nil.
func (c *Comm) NodeComm() *Comm { return c.nodeComm }

// NodeRootsComm returns the node-representatives sub-communicator; nil on
// ranks that are not node leaders.
func (c *Comm) NodeRootsComm() *Comm { return c.nodeRootsComm }

// NodeCount returns the number of distinct nodes the communicator spans.
func (c *Comm) NodeCount() int { return c.nodeCount }

// IntranodeRank returns the rank of parent rank i within NodeComm, or -1
// when i is not on the caller's node.
func (c *Comm) IntranodeRank(i int) int {
	if c.intranodeTable == nil {
		return group.RankUndefined
	}
	return c.intranodeTable[i]
}

// InternodeRank returns the rank within NodeRootsComm of the leader of
// rank i's node.
func (c *Comm) InternodeRank(i int) int {
	if c.internodeTable == nil {
		return group.RankUndefined
	}
	return c.internodeTable[i]
}

// IsParentComm reports whether this communicator owns sub-communicators.
func (c *Comm) IsParentComm() bool { return c.hierarchy == HierarchyParent }

// LocalGroup returns the local group with an extra reference taken; the
// caller releases it when done.
func (c *Comm) LocalGroup() *group.Group {
	c.localGroup.AddRef()
	return c.localGroup
}

// RemoteGroup returns the remote group with an extra reference taken. For
// intracommunicators it is the local group.
func (c *Comm) RemoteGroup() *group.Group {
	g := c.remoteGroup
	if g == nil {
		g = c.localGroup
	}
	g.AddRef()
	return g
}

// Name returns the communicator's name.
func (c *Comm) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// SetName labels the communicator for diagnostics.
func (c *Comm) SetName(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}

// Revoke marks the communicator revoked. The flag is sticky.
func (c *Comm) Revoke() { c.revoked.Store(true) }

// IsRevoked reports whether Revoke was called.
func (c *Comm) IsRevoked() bool { return c.revoked.Load() }

// ErrorHandler returns the attached error handler, or nil.
func (c *Comm) ErrorHandler() ErrorHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errHandler
}

// SetErrorHandler attaches an error handler.
func (c *Comm) SetErrorHandler(h ErrorHandler) {
	c.mu.Lock()
	c.errHandler = h
	c.mu.Unlock()
}

// DevData returns the device layer's opaque per-communicator storage.
func (c *Comm) DevData() any { return c.devData }

// SetDevData stores device-private addressing state; called by the device
// commit hook.
func (c *Comm) SetDevData(v any) { c.devData = v }

// SetAttr stores a cached attribute value on the communicator.
func (c *Comm) SetAttr(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attrs == nil {
		c.attrs = make(map[string]any)
	}
	c.attrs[key] = v
}

// GetAttr returns a previously stored attribute value.
func (c *Comm) GetAttr(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.attrs[key]
	return v, ok
}

// DeleteAttr removes an attribute. Removing an absent key is a no-op.
func (c *Comm) DeleteAttr(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attrs, key)
}

// RefCount reports the current reference count. Intended for tests and leak
// diagnostics only.
func (c *Comm) RefCount() int { return int(c.ref.Load()) }
