package comm

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// errDead guards the irreversibility of deletion in debug paths.
var errDead = errors.New("comm: use after final release")

// create performs the bare allocation: header fields initialized, one
// reference held, hints seeded with registry defaults. The caller owns the
// object exclusively until Commit publishes it.
func (rt *Runtime) create() *Comm {
	c := &Comm{
		rt:        rt,
		handle:    rt.newHandle(),
		kind:      Intracomm,
		hierarchy: HierarchyFlat,
	}
	c.ref.Store(1)
	rt.hintDefs.seedDefaults(&c.hints)
	return c
}

// Commit finishes construction: the device resolves the mapper chain into
// addressing, the mapper is freed, the node hierarchy is derived for flat
// intracommunicators, and the communicator is published into the active
// chain. On error the object is left unpublished and still owned by the
// caller; no partial state escapes.
func (c *Comm) Commit() error {
	if c.committed {
		return fmt.Errorf("comm %d: double commit", c.handle)
	}

	if err := c.rt.dev.CommitComm(c); err != nil {
		return fmt.Errorf("device commit: %w", err)
	}
	c.mapFree()

	if c.kind == Intracomm && c.hierarchy == HierarchyFlat && c.localSize > 1 {
		if err := c.rt.buildHierarchy(c); err != nil {
			return fmt.Errorf("build hierarchy: %w", err)
		}
	}

	c.rt.publish(c)
	zap.L().Debug("communicator committed",
		zap.Int32("handle", c.handle),
		zap.String("kind", c.kind.String()),
		zap.String("hierarchy", c.hierarchy.String()),
		zap.Int("rank", c.rank),
		zap.Int("size", c.localSize),
		zap.Int("context_id", c.ctxID))
	return nil
}

// AddRef takes an additional reference.
func (c *Comm) AddRef() { c.ref.Add(1) }

// Release drops one reference, taking the communicator mutex around the
// decrement. When the count reaches zero the object is deleted; it must
// never be referenced again. The non-freeing case is a lock/decrement/unlock
// and stays on the hot path.
func (c *Comm) Release() error {
	c.mu.Lock()
	remaining := c.ref.Add(-1)
	c.mu.Unlock()
	if remaining == 0 {
		return c.deleteInternal()
	}
	return nil
}

// ReleaseAlways is Release with a bare atomic decrement instead of the
// mutex-guarded one. It is the variant safe for call sites where truly
// unsynchronized concurrent releases can race; the atomic decrement makes
// the zero transition unique, so deletion still happens exactly once.
func (c *Comm) ReleaseAlways() error {
	if c.ref.Add(-1) == 0 {
		return c.deleteInternal()
	}
	return nil
}

// deleteInternal frees a communicator whose reference count reached zero:
// owned sub-communicators and groups are released recursively, the object is
// unlinked from the active chain, and an allocator-owned context id is
// recycled. Only the release paths call this.
func (c *Comm) deleteInternal() error {
	if c.ref.Load() != 0 {
		return errDead
	}

	if c.builtin && !c.rt.finalized {
		return fmt.Errorf("comm %d: builtin released before finalize", c.handle)
	}

	// Construction aborted before commit still owns a mapper.
	c.mapFree()

	if c.nodeComm != nil {
		if err := c.nodeComm.Release(); err != nil {
			return err
		}
		c.nodeComm = nil
	}
	if c.nodeRootsComm != nil {
		if err := c.nodeRootsComm.Release(); err != nil {
			return err
		}
		c.nodeRootsComm = nil
	}

	if c.localGroup != nil {
		c.localGroup.Release()
		c.localGroup = nil
	}
	if c.remoteGroup != nil {
		c.remoteGroup.Release()
		c.remoteGroup = nil
	}

	c.intranodeTable = nil
	c.internodeTable = nil
	c.attrs = nil
	c.errHandler = nil
	c.devData = nil

	if c.committed {
		c.rt.unlink(c)
	}
	if c.ownsCtx {
		c.rt.releaseContextID(c.recvCtxID)
		c.ownsCtx = false
	}

	zap.L().Debug("communicator deleted", zap.Int32("handle", c.handle))
	return nil
}
