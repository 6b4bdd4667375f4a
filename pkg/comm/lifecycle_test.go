package comm

import (
	"sync"
	"testing"

	"commesh/pkg/config"
)

// nullDevice satisfies Device with no addressing at all; enough for tests
// that never look at resolved tables.
type nullDevice struct {
	size, rank int
}

func (d *nullDevice) WorldSize() int { return d.size }
func (d *nullDevice) WorldRank() int { return d.rank }
func (d *nullDevice) NodeID(int) int { return 0 }

func (d *nullDevice) CommitComm(*Comm) error { return nil }

func newTestRuntime(t *testing.T, size, rank int) *Runtime {
	t.Helper()
	rt, _, err := Init(config.Default(), &nullDevice{size: size, rank: rank}, ThreadSingle)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return rt
}

func TestBuiltinInvariants(t *testing.T) {
	rt := newTestRuntime(t, 4, 2)
	defer func() {
		if err := rt.Finalize(); err != nil {
			t.Fatalf("Finalize: %v", err)
		}
	}()

	w := rt.World()
	if w.Rank() < 0 || w.Rank() >= w.Size() {
		t.Fatalf("world rank %d outside [0,%d)", w.Rank(), w.Size())
	}
	if w.Size() != w.RemoteSize() {
		t.Fatalf("intracomm local %d != remote %d", w.Size(), w.RemoteSize())
	}
	if w.ContextID() != w.RecvContextID() {
		t.Fatalf("intracomm context ids differ: %d %d", w.ContextID(), w.RecvContextID())
	}
	if w.MapperChain() != nil {
		t.Fatalf("mapper chain not empty after commit")
	}

	s := rt.Self()
	if s.Size() != 1 || s.Rank() != 0 {
		t.Fatalf("self comm %d/%d", s.Rank(), s.Size())
	}
}

func TestDoubleFinalize(t *testing.T) {
	rt := newTestRuntime(t, 2, 0)
	if err := rt.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := rt.Finalize(); err != ErrFinalized {
		t.Fatalf("second Finalize: got %v, want ErrFinalized", err)
	}
}

func inActiveChain(rt *Runtime, c *Comm) bool {
	for _, a := range rt.ActiveComms() {
		if a == c {
			return true
		}
	}
	return false
}

func TestReleaseKeepsObjectUntilLastReference(t *testing.T) {
	rt := newTestRuntime(t, 2, 0)
	defer rt.Finalize()

	d, err := rt.World().Dup(nil)
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	d.AddRef()
	if err := d.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !inActiveChain(rt, d) {
		t.Fatalf("comm deleted while a reference remained")
	}
	if err := d.Release(); err != nil {
		t.Fatalf("final Release: %v", err)
	}
	if inActiveChain(rt, d) {
		t.Fatalf("comm still in active chain after last release")
	}
}

func TestConcurrentReleaseAlwaysDeletesOnce(t *testing.T) {
	rt := newTestRuntime(t, 2, 0)
	defer rt.Finalize()

	const extra = 64
	d, err := rt.World().Dup(nil)
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	for i := 0; i < extra; i++ {
		d.AddRef()
	}

	errs := make(chan error, extra+1)
	var wg sync.WaitGroup
	for i := 0; i < extra+1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- d.ReleaseAlways()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("ReleaseAlways: %v", err)
		}
	}
	if inActiveChain(rt, d) {
		t.Fatalf("comm survived its last release")
	}
	if d.RefCount() != 0 {
		t.Fatalf("refcount %d after last release", d.RefCount())
	}
}

func TestContextIDRecycledAfterDelete(t *testing.T) {
	rt := newTestRuntime(t, 2, 0)
	defer rt.Finalize()

	d, err := rt.World().Dup(nil)
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	ctx := d.RecvContextID()
	if err := d.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	d2, err := rt.World().Dup(nil)
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	defer d2.Release()
	if d2.RecvContextID() != ctx {
		t.Fatalf("freed context id not recycled: got %d, want %d", d2.RecvContextID(), ctx)
	}
}

func TestDupCopiesHintsAndTaint(t *testing.T) {
	rt := newTestRuntime(t, 2, 0)
	defer rt.Finalize()

	w := rt.World()
	if err := w.SetHint("commesh_assert_no_any_source", "true"); err != nil {
		t.Fatalf("SetHint: %v", err)
	}
	d, err := w.Dup(nil)
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	defer d.Release()
	if d.HintValue(HintNoAnySource) != 1 {
		t.Fatalf("hint not copied on dup")
	}
	if d.Tainted() {
		t.Fatalf("dup of clean intracomm is tainted")
	}
	if d.Seq() == w.Seq() {
		t.Fatalf("dup shares sequence number with source")
	}
}

func TestAttributesAndName(t *testing.T) {
	rt := newTestRuntime(t, 2, 0)
	defer rt.Finalize()

	d, err := rt.World().Dup(nil)
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	defer d.Release()

	d.SetAttr("topo", []int{1, 2})
	if v, ok := d.GetAttr("topo"); !ok || len(v.([]int)) != 2 {
		t.Fatalf("attr read back %v/%v", v, ok)
	}
	d.DeleteAttr("topo")
	d.DeleteAttr("never-set")
	if _, ok := d.GetAttr("topo"); ok {
		t.Fatalf("attr survived delete")
	}

	d.SetName("dup-of-world")
	if d.Name() != "dup-of-world" {
		t.Fatalf("name %q", d.Name())
	}

	if d.IsRevoked() {
		t.Fatalf("fresh comm revoked")
	}
	d.Revoke()
	if !d.IsRevoked() {
		t.Fatalf("revoke flag not sticky")
	}
}

func TestContextIDAllocator(t *testing.T) {
	a := newContextIDAlloc()
	first, err := a.alloc()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	second, err := a.alloc()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if first == second {
		t.Fatalf("allocator returned %d twice", first)
	}
	if first&(1<<ctxSuffixBits-1) != 0 {
		t.Fatalf("fresh id %d has a sub-communicator suffix", first)
	}
	a.release(first)
	again, err := a.alloc()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if again != first {
		t.Fatalf("recycle: got %d, want %d", again, first)
	}
	if intranodeCtx(first) == internodeCtx(first) {
		t.Fatalf("derived sub-communicator ids collide")
	}
}
