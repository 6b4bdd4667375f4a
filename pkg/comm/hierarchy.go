package comm

import (
	"go.uber.org/zap"

	"commesh/pkg/group"
)

// buildHierarchy partitions a flat intracommunicator into the two-level
// node decomposition: nodeComm joins the caller's co-located peers and
// nodeRootsComm (leaders only) joins one representative per node. Collective
// algorithms use the split to route shared-memory and network traffic
// separately without recomputing topology per call.
//
// Runs during commit, after the device resolved the parent's addressing.
// The sub-communicators get hierarchy kinds Node and NodeRoots before their
// own commit, so the decomposition never recurses.
func (rt *Runtime) buildHierarchy(c *Comm) error {
	g := c.localGroup
	size := c.localSize

	nodeID := make([]int, size)
	for i := 0; i < size; i++ {
		nodeID[i] = rt.dev.NodeID(g.WorldRank(i))
	}
	myNode := nodeID[c.rank]

	intranode := make([]int, size)
	internode := make([]int, size)
	nodeIndex := make(map[int]int) // node id -> dense index, first-appearance order
	var leaders []int              // comm rank of each node's leader, by node index
	var localRanks []int           // comm ranks co-located with the caller
	for i := 0; i < size; i++ {
		idx, ok := nodeIndex[nodeID[i]]
		if !ok {
			idx = len(leaders)
			nodeIndex[nodeID[i]] = idx
			leaders = append(leaders, i)
		}
		internode[i] = idx
		if nodeID[i] == myNode {
			intranode[i] = len(localRanks)
			localRanks = append(localRanks, i)
		} else {
			intranode[i] = group.RankUndefined
		}
	}

	nodeComm, err := rt.buildSubcomm(c, HierarchyNode, localRanks, intranode[c.rank],
		intranodeCtx(c.recvCtxID))
	if err != nil {
		return err
	}

	var rootsComm *Comm
	myNodeIdx := internode[c.rank]
	if leaders[myNodeIdx] == c.rank {
		rootsComm, err = rt.buildSubcomm(c, HierarchyNodeRoots, leaders, myNodeIdx,
			internodeCtx(c.recvCtxID))
		if err != nil {
			_ = nodeComm.Release()
			return err
		}
	}

	c.hierarchy = HierarchyParent
	c.nodeComm = nodeComm
	c.nodeRootsComm = rootsComm
	c.intranodeTable = intranode
	c.internodeTable = internode
	c.nodeCount = len(leaders)

	zap.L().Debug("hierarchy built",
		zap.Int32("handle", c.handle),
		zap.Int("node_count", c.nodeCount),
		zap.Int("node_comm_size", nodeComm.localSize),
		zap.Bool("node_leader", rootsComm != nil))
	return nil
}

// buildSubcomm creates and commits one hierarchy sub-communicator over the
// given parent ranks. Its context id derives from the parent's, so no
// collective allocation is needed.
func (rt *Runtime) buildSubcomm(parent *Comm, kind HierarchyKind, members []int,
	myRank, ctxID int) (*Comm, error) {

	sub := rt.create()
	sub.kind = Intracomm
	sub.hierarchy = kind
	sub.rank = myRank
	sub.localSize = len(members)
	sub.remoteSize = len(members)
	sub.tainted = parent.tainted

	worldRanks := make([]int, len(members))
	for i, r := range members {
		worldRanks[i] = parent.localGroup.WorldRank(r)
	}
	sub.localGroup = group.New(worldRanks, myRank)

	sub.ctxID = ctxID
	sub.recvCtxID = ctxID

	sub.MapIrregular(parent, members, DirL2L, true)
	if err := sub.Commit(); err != nil {
		_ = sub.Release()
		return nil, err
	}
	return sub, nil
}

// IsNodeConsecutive reports whether every node's ranks are contiguous in
// the parent numbering. Algorithm selection elsewhere uses this to pick
// block-structured variants.
func (c *Comm) IsNodeConsecutive() bool {
	t := c.internodeTable
	if t == nil {
		return false
	}
	for i := 1; i < len(t); i++ {
		if t[i] != t[i-1] && t[i] != t[i-1]+1 {
			return false
		}
	}
	return true
}
