package async

import (
	"errors"
	"testing"
	"time"

	"commesh/pkg/comm"
	"commesh/pkg/config"
	"commesh/pkg/device"
)

func newRuntime(t *testing.T, worldSize int, level comm.ThreadLevel) (*comm.Runtime, *device.Endpoint) {
	t.Helper()
	ep := device.NewFabric(worldSize, 1).Endpoint(0)
	rt, _, err := comm.Init(config.Default(), ep, level)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return rt, ep
}

func waitForProgress(t *testing.T, ep *device.Endpoint) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for ep.Iterations() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("progress thread never iterated")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	rt, ep := newRuntime(t, 1, comm.ThreadMultiple)
	defer rt.Finalize()

	m := NewManager()
	if err := m.Start(rt, ep, config.AsyncConfig{Enable: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.StateNow() != Running {
		t.Fatalf("state %v after start", m.StateNow())
	}
	waitForProgress(t, ep)

	m.Stop()
	if m.StateNow() != Stopped {
		t.Fatalf("state %v after stop", m.StateNow())
	}
	after := ep.Iterations()
	time.Sleep(5 * time.Millisecond)
	if ep.Iterations() != after {
		t.Fatalf("progress thread still iterating after stop")
	}

	if err := m.Start(rt, ep, config.AsyncConfig{Enable: true}); !errors.Is(err, ErrStopped) {
		t.Fatalf("restart: got %v, want ErrStopped", err)
	}
}

func TestDoubleStart(t *testing.T) {
	rt, ep := newRuntime(t, 1, comm.ThreadMultiple)
	defer rt.Finalize()

	m := NewManager()
	if err := m.Start(rt, ep, config.AsyncConfig{Enable: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()
	if err := m.Start(rt, ep, config.AsyncConfig{Enable: true}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second start: got %v, want ErrAlreadyRunning", err)
	}
}

func TestDegradesBelowThreadMultiple(t *testing.T) {
	rt, ep := newRuntime(t, 1, comm.ThreadSingle)
	defer rt.Finalize()

	m := NewManager()
	if err := m.Start(rt, ep, config.AsyncConfig{Enable: true}); err != nil {
		t.Fatalf("degraded start: %v", err)
	}
	if m.StateNow() != Uninitialized {
		t.Fatalf("state %v on degrade path", m.StateNow())
	}
	time.Sleep(5 * time.Millisecond)
	if ep.Iterations() != 0 {
		t.Fatalf("degrade path spawned a thread")
	}
	m.Stop() // no-op
	if m.StateNow() != Uninitialized {
		t.Fatalf("stop on never-started manager changed state to %v", m.StateNow())
	}
}

func TestAffinityMismatchAbortsStartup(t *testing.T) {
	// Two ranks on one node, one processor id: the thread table cannot be
	// filled, so startup must fail with no thread left behind.
	rt, ep := newRuntime(t, 2, comm.ThreadMultiple)
	defer rt.Finalize()

	m := NewManager()
	err := m.Start(rt, ep, config.AsyncConfig{Enable: true, Affinity: "0"})
	if !errors.Is(err, ErrAffinityCount) {
		t.Fatalf("Start: got %v, want ErrAffinityCount", err)
	}
	if m.StateNow() != Uninitialized {
		t.Fatalf("state %v after failed start", m.StateNow())
	}
	time.Sleep(5 * time.Millisecond)
	if ep.Iterations() != 0 {
		t.Fatalf("failed startup left a progress thread running")
	}
}
