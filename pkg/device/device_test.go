package device_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commesh/pkg/comm"
	"commesh/pkg/config"
	"commesh/pkg/device"
)

func initRank(t *testing.T, f *device.Fabric, rank int) (*comm.Runtime, *device.Endpoint) {
	t.Helper()
	ep := f.Endpoint(rank)
	rt, _, err := comm.Init(config.Default(), ep, comm.ThreadSingle)
	require.NoError(t, err)
	return rt, ep
}

func TestFabricNodeLayout(t *testing.T) {
	f := device.NewFabric(6, 2)
	ep := f.Endpoint(0)
	want := []int{0, 0, 0, 1, 1, 1}
	for rank, node := range want {
		assert.Equal(t, node, ep.NodeID(rank), "rank %d", rank)
	}

	// More nodes than ranks clamps to one rank per node.
	f = device.NewFabric(3, 8)
	ep = f.Endpoint(0)
	for rank := 0; rank < 3; rank++ {
		assert.Equal(t, rank, ep.NodeID(rank))
	}

	// A non-positive node count collapses to a single node.
	f = device.NewFabric(3, 0)
	ep = f.Endpoint(0)
	for rank := 0; rank < 3; rank++ {
		assert.Equal(t, 0, ep.NodeID(rank))
	}
}

func TestFabricLayoutCopied(t *testing.T) {
	layout := []int{0, 1, 0, 1}
	f := device.NewFabricWithLayout(layout)
	layout[0] = 9
	assert.Equal(t, 0, f.Endpoint(0).NodeID(0))
}

func TestEndpointOutOfRangePanics(t *testing.T) {
	f := device.NewFabric(2, 1)
	assert.Panics(t, func() { f.Endpoint(2) })
	assert.Panics(t, func() { f.Endpoint(-1) })
}

func TestBuiltinAddressing(t *testing.T) {
	f := device.NewFabric(3, 1)
	rt, _ := initRank(t, f, 1)
	defer rt.Finalize()

	world := rt.World().DevData().(*device.Tables)
	assert.Equal(t, []int{0, 1, 2}, world.Local)
	assert.Nil(t, world.Remote)

	self := rt.Self().DevData().(*device.Tables)
	assert.Equal(t, []int{1}, self.Local)
}

func TestExchangeRendezvous(t *testing.T) {
	const size = 3
	f := device.NewFabric(size, 1)

	var wg sync.WaitGroup
	results := make([][][]int, size)
	errs := make([]error, size)
	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			ep := f.Endpoint(rank)
			rt, _, err := comm.Init(config.Default(), ep, comm.ThreadSingle)
			if err != nil {
				errs[rank] = err
				return
			}
			defer rt.Finalize()
			results[rank], errs[rank] = ep.Exchange(rt.World(), []int{rank * 10, rank})
		}(rank)
	}
	wg.Wait()

	want := [][]int{{0, 0}, {10, 1}, {20, 2}}
	for rank := 0; rank < size; rank++ {
		require.NoError(t, errs[rank])
		assert.Equal(t, want, results[rank], "rank %d", rank)
	}
}

func TestExchangeSequencesAreIndependent(t *testing.T) {
	// Two back-to-back exchanges on the same communicator must not bleed
	// into each other.
	const size = 2
	f := device.NewFabric(size, 1)

	var wg sync.WaitGroup
	second := make([][][]int, size)
	errs := make([]error, size)
	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			ep := f.Endpoint(rank)
			rt, _, err := comm.Init(config.Default(), ep, comm.ThreadSingle)
			if err != nil {
				errs[rank] = err
				return
			}
			defer rt.Finalize()
			if _, err := ep.Exchange(rt.World(), []int{rank}); err != nil {
				errs[rank] = err
				return
			}
			second[rank], errs[rank] = ep.Exchange(rt.World(), []int{rank + 100})
		}(rank)
	}
	wg.Wait()

	want := [][]int{{100}, {101}}
	for rank := 0; rank < size; rank++ {
		require.NoError(t, errs[rank])
		assert.Equal(t, want, second[rank], "rank %d", rank)
	}
}
