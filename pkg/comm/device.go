package comm

import "errors"

// ErrNotSupported is returned for operations the attached device does not
// implement.
var ErrNotSupported = errors.New("comm: operation not supported by device")

// Device is the transport-layer collaborator. It owns process enumeration,
// the node-id oracle used by the hierarchy builder, and the commit hook that
// resolves a communicator's mapper chain into concrete addressing. The
// byte-moving machinery behind it is entirely its own concern.
type Device interface {
	// WorldSize and WorldRank enumerate the process set this runtime
	// belongs to.
	WorldSize() int
	WorldRank() int

	// NodeID maps a world rank onto the id of the physical node hosting
	// it. Ids are dense but not necessarily ordered.
	NodeID(worldRank int) int

	// CommitComm resolves the communicator's mapper chain into addressing.
	// Called during commit, before the mapper is freed.
	CommitComm(c *Comm) error
}

// Exchanger is an optional device capability: a single value exchange across
// all ranks of a communicator, used by Split to gather color/key tuples.
// The returned table is indexed by communicator rank.
type Exchanger interface {
	Exchange(c *Comm, vals []int) ([][]int, error)
}

// PortDevice is an optional device capability carrying the bodies of the
// dynamic-process operations. Accept and Connect block until the peer side
// arrives, hand it the caller's membership and receive context id, and
// return the remote group's world ranks, the remote side's receive context
// id, and which side is the low group.
type PortDevice interface {
	AcceptPort(port string, root int, c *Comm, localCtx int) (remote []int, remoteCtx int, low bool, err error)
	ConnectPort(port string, root int, c *Comm, localCtx int) (remote []int, remoteCtx int, low bool, err error)
}

// ProgressEngine drives outstanding operation state machines. The async
// progress thread calls Test once per loop iteration while holding the
// global critical section.
type ProgressEngine interface {
	ProgressStart() any
	ProgressTest(state any) error
	ProgressEnd(state any)
}
