// Package async implements the optional background progress thread: a
// single pinned worker that drives the device progress engine under the
// library's global critical section, cooperatively yielding the section on
// every iteration so application threads are never starved.
package async

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"commesh/pkg/comm"
	"commesh/pkg/config"
)

// State is the manager lifecycle. Stopped is terminal: a manager is never
// restarted.
type State int

const (
	Uninitialized State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "uninitialized"
	}
}

var (
	// ErrAlreadyRunning is returned by a second Start.
	ErrAlreadyRunning = errors.New("async: progress thread already running")
	// ErrStopped is returned by Start after Stop; the manager is terminal.
	ErrStopped = errors.New("async: progress thread already stopped")
)

// Manager owns at most one progress thread. The stop flag is a lock-free
// atomic so the worker checks it without contending for the global section.
type Manager struct {
	mu    sync.Mutex
	state State
	stop  atomic.Bool
	done  chan struct{}
}

// NewManager returns an uninitialized manager.
func NewManager() *Manager { return &Manager{} }

// StateNow reports the current lifecycle state.
func (m *Manager) StateNow() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start spawns the progress thread for this rank. Under a thread-support
// level below ThreadMultiple it degrades to a warning no-op and returns
// success: a deliberate soft path, not a failure. A malformed or
// mismatched affinity specification aborts the whole startup with no
// thread left running.
//
// Exactly one worker is spawned per call; spawning one per rank is the
// callers' aggregate responsibility.
func (m *Manager) Start(rt *comm.Runtime, eng comm.ProgressEngine, cfg config.AsyncConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Running:
		return ErrAlreadyRunning
	case Stopped:
		return ErrStopped
	}

	if rt.ThreadLevel() < comm.ThreadMultiple {
		zap.L().Warn("async progress needs the fully concurrent thread level; continuing without progress thread",
			zap.String("thread_level", rt.ThreadLevel().String()))
		return nil
	}

	numCliques := 1
	if cfg.NumCliques > 1 {
		numCliques = cfg.NumCliques
	} else if cfg.OddEvenCliques {
		numCliques = 2
	}
	explicit := cfg.Affinity != ""
	if numCliques > 1 && explicit {
		// Documented incompatible; logged, not blocked.
		zap.L().Warn("explicit progress-thread affinity cannot work correctly with clique partitioning")
	}

	world := rt.World()
	node := world.NodeComm()
	localRank, localSize := 0, 1
	if node != nil {
		localRank, localSize = node.Rank(), node.Size()
	}

	// With clique partitioning a physical node is split into virtual
	// nodes, so the node-local rank would collide between cliques; size
	// the table by the world and index it by the global rank instead.
	threadsPerNode := localSize
	affinityIdx := localRank
	if numCliques > 1 {
		threadsPerNode = world.Size()
		affinityIdx = world.Rank()
	}

	affinity, err := threadAffinity(cfg.Affinity, threadsPerNode)
	if err != nil {
		return fmt.Errorf("progress thread affinity: %w", err)
	}
	target := affinity[affinityIdx]

	m.stop.Store(false)
	m.done = make(chan struct{})
	pinned := make(chan error, 1)
	go m.run(rt, eng, target, pinned)

	if pinErr := <-pinned; pinErr != nil {
		if explicit {
			// The user asked for this placement; unwind the thread and
			// fail the startup.
			m.stop.Store(true)
			<-m.done
			m.state = Stopped
			return fmt.Errorf("pin progress thread to cpu %d: %w", target, pinErr)
		}
		zap.L().Debug("progress thread pinning failed, ignored",
			zap.Int("cpu", target), zap.Error(pinErr))
	}

	m.state = Running
	zap.L().Info("progress thread started",
		zap.Int("cpu", target),
		zap.Int("threads_per_node", threadsPerNode),
		zap.Int("affinity_index", affinityIdx))
	return nil
}

// run is the worker body: pin, then loop one progress test per iteration
// while holding the global critical section, releasing and reacquiring it
// on every pass. The section is never held across a blocking call.
func (m *Manager) run(rt *comm.Runtime, eng comm.ProgressEngine, cpu int, pinned chan<- error) {
	defer close(m.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	pinned <- pinThread(cpu)

	lock := rt.GlobalLock()
	lock.Lock()
	state := eng.ProgressStart()
	for !m.stop.Load() {
		if err := eng.ProgressTest(state); err != nil {
			zap.L().Warn("progress test", zap.Error(err))
		}
		// Cooperative yield: let application threads take the section.
		lock.Unlock()
		runtime.Gosched()
		lock.Lock()
	}
	eng.ProgressEnd(state)
	lock.Unlock()
}

// Stop sets the stop flag and blocks until the worker joins. Joining is
// the only teardown action; there is no forced termination and no timeout.
// Stopping a manager that never ran (including the degrade path) is a
// no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Running {
		return
	}
	m.stop.Store(true)
	<-m.done
	m.state = Stopped
	zap.L().Info("progress thread stopped")
}
