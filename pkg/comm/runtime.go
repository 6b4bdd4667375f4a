package comm

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"commesh/pkg/config"
	"commesh/pkg/group"
)

// ThreadLevel is the library thread-support mode.
type ThreadLevel int

const (
	ThreadSingle ThreadLevel = iota
	ThreadFunneled
	ThreadSerialized
	// ThreadMultiple is the fully concurrent mode; required for the async
	// progress thread.
	ThreadMultiple
)

func (l ThreadLevel) String() string {
	switch l {
	case ThreadSingle:
		return "single"
	case ThreadFunneled:
		return "funneled"
	case ThreadSerialized:
		return "serialized"
	default:
		return "multiple"
	}
}

// ErrFinalized is returned for operations on a finalized runtime.
var ErrFinalized = errors.New("comm: runtime finalized")

const (
	handleWorld        = 1
	handleSelf         = 2
	handleWorldPrivate = 3
	handleFirstDynamic = 16
)

// Runtime is the library-lifetime context. It owns the global critical
// section shared with the progress thread, the builtin communicators, the
// hint registry, the context-id allocator and the active-communicator
// chain. Init before use; Finalize exactly once at teardown.
type Runtime struct {
	mu     sync.Mutex // guards active chain, allocator, seq
	global sync.Mutex // the single global critical section

	dev   Device
	cfg   *config.Config
	level ThreadLevel

	hintDefs *hintRegistry
	ctxAlloc *contextIDAlloc

	active *Comm // head of the active-communicator chain

	// Builtins: world, self, and a private dup of world reserved for
	// finalize-time traffic so it cannot interfere with user code.
	world        *Comm
	self         *Comm
	worldPrivate *Comm

	nextHandle atomic.Int32
	nextSeq    int
	finalized  bool
}

// Init builds the runtime: registers the predefined hints and creates and
// commits the three builtin communicators. The returned level is the
// granted thread-support mode; enabling async progress in the configuration
// implicitly upgrades the request to ThreadMultiple.
func Init(cfg *config.Config, dev Device, requested ThreadLevel) (*Runtime, ThreadLevel, error) {
	if dev == nil {
		return nil, 0, errors.New("comm: nil device")
	}
	if cfg == nil {
		cfg = config.Default()
	}

	level := requested
	if cfg.Async.Enable && level < ThreadMultiple {
		zap.L().Debug("async progress requested, upgrading thread level",
			zap.String("requested", requested.String()))
		level = ThreadMultiple
	}

	rt := &Runtime{
		dev:      dev,
		cfg:      cfg,
		level:    level,
		hintDefs: newHintRegistry(),
		ctxAlloc: newContextIDAlloc(),
	}
	rt.nextHandle.Store(handleFirstDynamic)
	if err := rt.registerPredefinedHints(); err != nil {
		return nil, 0, err
	}

	if err := rt.initBuiltinComms(); err != nil {
		return nil, 0, fmt.Errorf("init builtin comms: %w", err)
	}

	zap.L().Info("comm runtime initialized",
		zap.Int("world_size", dev.WorldSize()),
		zap.Int("world_rank", dev.WorldRank()),
		zap.Int("node_count", rt.world.NodeCount()),
		zap.String("thread_level", level.String()))
	return rt, level, nil
}

func (rt *Runtime) initBuiltinComms() error {
	size := rt.dev.WorldSize()
	rank := rt.dev.WorldRank()
	if size <= 0 || rank < 0 || rank >= size {
		return fmt.Errorf("device reports invalid world %d/%d", rank, size)
	}

	worldRanks := make([]int, size)
	for i := range worldRanks {
		worldRanks[i] = i
	}

	world := rt.create()
	world.handle = handleWorld
	world.builtin = true
	world.kind = Intracomm
	world.rank = rank
	world.localSize = size
	world.remoteSize = size
	world.localGroup = group.New(worldRanks, rank)
	world.ctxID = ctxFromBase(ctxBaseWorld)
	world.recvCtxID = world.ctxID
	world.name = "COMM_WORLD"
	if err := world.Commit(); err != nil {
		return fmt.Errorf("commit world: %w", err)
	}
	rt.world = world

	self := rt.create()
	self.handle = handleSelf
	self.builtin = true
	self.kind = Intracomm
	self.rank = 0
	self.localSize = 1
	self.remoteSize = 1
	self.localGroup = group.New([]int{rank}, 0)
	self.ctxID = ctxFromBase(ctxBaseSelf)
	self.recvCtxID = self.ctxID
	self.name = "COMM_SELF"
	if err := self.Commit(); err != nil {
		return fmt.Errorf("commit self: %w", err)
	}
	rt.self = self

	priv := rt.create()
	priv.handle = handleWorldPrivate
	priv.builtin = true
	priv.kind = Intracomm
	priv.rank = rank
	priv.localSize = size
	priv.remoteSize = size
	world.localGroup.AddRef()
	priv.localGroup = world.localGroup
	priv.ctxID = ctxFromBase(ctxBaseWorldPrivate)
	priv.recvCtxID = priv.ctxID
	priv.name = "COMM_WORLD_PRIVATE"
	priv.MapDup(world, DirL2L)
	if err := priv.Commit(); err != nil {
		return fmt.Errorf("commit private world: %w", err)
	}
	rt.worldPrivate = priv
	return nil
}

// World returns the builtin world communicator.
func (rt *Runtime) World() *Comm { return rt.world }

// Self returns the builtin self communicator.
func (rt *Runtime) Self() *Comm { return rt.self }

// Device returns the attached device.
func (rt *Runtime) Device() Device { return rt.dev }

// Config returns the runtime configuration.
func (rt *Runtime) Config() *config.Config { return rt.cfg }

// ThreadLevel returns the granted thread-support mode.
func (rt *Runtime) ThreadLevel() ThreadLevel { return rt.level }

// GlobalLock returns the single global critical section serializing shared
// communication state across application threads and the progress thread.
func (rt *Runtime) GlobalLock() *sync.Mutex { return &rt.global }

// ActiveComms returns a snapshot of the active-communicator chain, newest
// first.
func (rt *Runtime) ActiveComms() []*Comm {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	var out []*Comm
	for c := rt.active; c != nil; c = c.next {
		out = append(out, c)
	}
	return out
}

// Finalize releases the builtin communicators and tears the runtime down.
// Leaked user communicators are logged, not reclaimed: their owners still
// hold references.
func (rt *Runtime) Finalize() error {
	rt.mu.Lock()
	if rt.finalized {
		rt.mu.Unlock()
		return ErrFinalized
	}
	rt.finalized = true
	rt.mu.Unlock()

	for _, c := range []*Comm{rt.worldPrivate, rt.self, rt.world} {
		if err := c.Release(); err != nil {
			return fmt.Errorf("release %s: %w", c.Name(), err)
		}
	}
	rt.worldPrivate, rt.self, rt.world = nil, nil, nil

	for _, c := range rt.ActiveComms() {
		zap.L().Warn("communicator leaked at finalize",
			zap.Int32("handle", c.Handle()),
			zap.String("name", c.Name()),
			zap.Int("refs", c.RefCount()))
	}
	return nil
}

func (rt *Runtime) newHandle() int32 { return rt.nextHandle.Add(1) - 1 }

// publish links a committed communicator into the active chain and assigns
// its sequence number.
func (rt *Runtime) publish(c *Comm) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if c.tainted {
		c.seq = 0
	} else {
		c.seq = rt.nextSeq
		rt.nextSeq++
	}
	c.next = rt.active
	rt.active = c
	c.committed = true
}

// unlink removes a communicator from the active chain.
func (rt *Runtime) unlink(c *Comm) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for p := &rt.active; *p != nil; p = &(*p).next {
		if *p == c {
			*p = c.next
			c.next = nil
			return
		}
	}
}

func (rt *Runtime) allocContextID() (int, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.ctxAlloc.alloc()
}

func (rt *Runtime) releaseContextID(id int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.ctxAlloc.release(id)
}
