package comm

// The mapper is a transient, insertion-ordered chain of map nodes describing
// how a communicator's rank spaces derive from already-committed ones. The
// device walks it in order during its commit hook; commit then frees it.
// The chain is non-empty only between create and commit.

// MapKind tags the two map node variants.
type MapKind int

const (
	// MapDupNode maps the source rank space identically.
	MapDupNode MapKind = iota
	// MapIrregularNode maps through an explicit rank-index array.
	MapIrregularNode
)

// MapDir orients a map node between the local and remote rank spaces of the
// source and new communicator. Intercommunicators carry two independent
// rank spaces, so the source side and destination side are named separately.
type MapDir int

const (
	DirL2L MapDir = iota // source local -> new local
	DirL2R               // source local -> new remote
	DirR2L               // source remote -> new local
	DirR2R               // source remote -> new remote
)

// SrcIsRemote reports whether the node reads the source's remote space.
func (d MapDir) SrcIsRemote() bool { return d == DirR2L || d == DirR2R }

// DstIsRemote reports whether the node feeds the new communicator's remote
// space.
func (d MapDir) DstIsRemote() bool { return d == DirL2R || d == DirR2R }

// MapNode is one link of the mapper chain. For MapIrregularNode, Ranks[i]
// is the source rank backing destination rank i of this node's block;
// ownership of the array is explicit in the variant.
type MapNode struct {
	Kind MapKind
	Src  *Comm
	Dir  MapDir

	// Ranks is set only for MapIrregularNode.
	Ranks     []int
	ownsRanks bool

	next *MapNode
}

func (c *Comm) mapAppend(n *MapNode) {
	if c.mapperHead == nil {
		c.mapperHead = n
		c.mapperTail = n
		return
	}
	c.mapperTail.next = n
	c.mapperTail = n
}

// MapDup appends an identity-mapping node from src.
func (c *Comm) MapDup(src *Comm, dir MapDir) {
	c.mapAppend(&MapNode{Kind: MapDupNode, Src: src, Dir: dir})
}

// MapIrregular appends an explicit rank-index mapping from src. When
// copyRanks is set the array is copied and owned by the node; otherwise the
// caller keeps ownership and must keep it alive until commit.
func (c *Comm) MapIrregular(src *Comm, ranks []int, dir MapDir, copyRanks bool) *MapNode {
	n := &MapNode{Kind: MapIrregularNode, Src: src, Dir: dir}
	if copyRanks {
		n.Ranks = append([]int(nil), ranks...)
		n.ownsRanks = true
	} else {
		n.Ranks = ranks
	}
	c.mapAppend(n)
	return n
}

// MapperChain returns the chain in insertion order for the device to
// resolve. Empty once the communicator is committed.
func (c *Comm) MapperChain() []*MapNode {
	var out []*MapNode
	for n := c.mapperHead; n != nil; n = n.next {
		out = append(out, n)
	}
	return out
}

// mapFree releases the whole chain. Owned rank arrays are dropped;
// caller-owned ones are left untouched. Idempotent, and the head and tail
// are nil afterwards.
func (c *Comm) mapFree() {
	for n := c.mapperHead; n != nil; {
		next := n.next
		if n.ownsRanks {
			n.Ranks = nil
		}
		n.next = nil
		n = next
	}
	c.mapperHead = nil
	c.mapperTail = nil
}
