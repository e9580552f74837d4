package vmm_test

import (
	"io"
	"testing"

	"github.com/kestrel-emu/vmm/hostmem"
	"github.com/kestrel-emu/vmm/vmm"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

const (
	page = hostmem.GuestPageSize
	gib  = uint64(1) << 30
)

var testLayout = hostmem.Layout{
	SystemManaged:  hostmem.Region{Base: 0x100000, Size: 0x400000},
	SystemReserved: hostmem.Region{Base: 0x500000, Size: 0x100000},
	User:           hostmem.Region{Base: 0x600000, Size: 0x400000},
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

func newSimulatedHost() (*hostmem.Simulated, error) {
	return hostmem.NewSimulated(testLayout)
}

// readyManager creates a manager over a simulated host with a 1GiB direct pool and a 16 page flexible
// budget, unless options says otherwise. The manager is validated when the test ends.
func readyManager(t *testing.T, options vmm.CreateOptions) (*vmm.MemoryManager, *hostmem.Simulated) {
	host, err := newSimulatedHost()
	require.NoError(t, err)

	if options.DirectMemorySize == 0 {
		options.DirectMemorySize = gib
	}
	if options.FlexibleMemorySize == 0 {
		options.FlexibleMemorySize = 16 * page
	}

	manager, err := vmm.New(testLogger(), host, options)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, manager.Validate())
	})
	return manager, host
}

func requireResult(t *testing.T, expected vmm.Result, res vmm.Result, err error) {
	t.Helper()

	require.Equal(t, expected, res, "error: %v", err)
	if expected == vmm.Success {
		require.NoError(t, err)
		return
	}
	require.ErrorIs(t, err, expected.ToError())
}
