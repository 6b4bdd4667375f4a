// Command commesh-probe builds a simulated world over the loopback device,
// exercises the communicator lifecycle on every rank, optionally runs the
// async progress thread, and dumps a topology snapshot for inspection.
package main

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"commesh/pkg/async"
	"commesh/pkg/comm"
	"commesh/pkg/config"
	"commesh/pkg/device"
	"commesh/pkg/observability"
	"commesh/pkg/snapshot"
)

func main() {
	opts := ParseFlags(os.Args[1:])

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, opts); err != nil {
		zap.L().Error("probe failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, opts Options) error {
	fabric := device.NewFabric(opts.Ranks, opts.Nodes)

	errs := make([]error, opts.Ranks)
	var wg sync.WaitGroup
	for rank := 0; rank < opts.Ranks; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			errs[rank] = runRank(cfg, opts, fabric.Endpoint(rank))
		}(rank)
	}
	wg.Wait()

	for rank, err := range errs {
		if err != nil {
			return fmt.Errorf("rank %d: %w", rank, err)
		}
	}
	return nil
}

// runRank is one simulated process: init, a dup and a parity split to
// exercise the lifecycle, progress thread when configured, snapshot on
// rank 0, teardown.
func runRank(cfg *config.Config, opts Options, ep *device.Endpoint) error {
	rt, _, err := comm.Init(cfg, ep, comm.ThreadSingle)
	if err != nil {
		return err
	}

	mgr := async.NewManager()
	if cfg.Async.Enable {
		if err := mgr.Start(rt, ep, cfg.Async); err != nil {
			return err
		}
	}

	world := rt.World()
	dup, err := world.Dup(nil)
	if err != nil {
		return err
	}
	part, err := world.Split(world.Rank()%2, world.Rank())
	if err != nil {
		return err
	}

	if ep.WorldRank() == 0 && opts.SnapshotPath != "" {
		f, err := os.Create(opts.SnapshotPath)
		if err != nil {
			return err
		}
		if err := snapshot.Capture(rt).Encode(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		zap.L().Info("snapshot written", zap.String("path", opts.SnapshotPath))
	}

	if part != nil {
		if err := part.Release(); err != nil {
			return err
		}
	}
	if err := dup.Release(); err != nil {
		return err
	}

	mgr.Stop()
	return rt.Finalize()
}
