package config_test

import (
	"io"
	"testing"

	"github.com/kestrel-emu/vmm/config"
	"github.com/kestrel-emu/vmm/vmm"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func TestDefaults(t *testing.T) {
	cfg, err := config.ParseEnvironment(map[string]string{})
	require.NoError(t, err)

	require.Equal(t, config.ByteSize(vmm.DefaultDirectMemorySize), cfg.DirectMemorySize)
	require.Equal(t, config.ByteSize(vmm.DefaultFlexibleMemorySize), cfg.FlexibleMemorySize)
	require.False(t, cfg.ExternallySynchronized)
	require.Equal(t, config.BackendSimulated, cfg.HostBackend)
	require.Equal(t, slog.LevelInfo, cfg.LogLevel)

	options := cfg.CreateOptions()
	require.Equal(t, vmm.DefaultDirectMemorySize, options.DirectMemorySize)
	require.Equal(t, vmm.CreateFlags(0), options.Flags)
}

func TestOverrides(t *testing.T) {
	cfg, err := config.ParseEnvironment(map[string]string{
		"VMM_DIRECT_MEMORY_SIZE":      "1GiB",
		"VMM_FLEXIBLE_MEMORY_SIZE":    "64MiB",
		"VMM_EXTERNALLY_SYNCHRONIZED": "true",
		"VMM_LOG_LEVEL":               "debug",
	})
	require.NoError(t, err)

	options := cfg.CreateOptions()
	require.Equal(t, uint64(1<<30), options.DirectMemorySize)
	require.Equal(t, uint64(64<<20), options.FlexibleMemorySize)
	require.Equal(t, vmm.CreateExternallySynchronized, options.Flags)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestRejectsBadValues(t *testing.T) {
	_, err := config.ParseEnvironment(map[string]string{"VMM_HOST_BACKEND": "wasm"})
	require.Error(t, err)

	_, err = config.ParseEnvironment(map[string]string{"VMM_DIRECT_MEMORY_SIZE": "1000"})
	require.Error(t, err)

	_, err = config.ParseEnvironment(map[string]string{"VMM_FLEXIBLE_MEMORY_SIZE": "lots"})
	require.Error(t, err)
}

func TestSimulatedHost(t *testing.T) {
	cfg, err := config.ParseEnvironment(map[string]string{"VMM_DIRECT_MEMORY_SIZE": "256MiB"})
	require.NoError(t, err)

	host, err := cfg.NewHostAddressSpace()
	require.NoError(t, err)
	defer host.Close()

	manager, err := vmm.New(cfg.NewLogger(io.Discard), host, cfg.CreateOptions())
	require.NoError(t, err)
	require.Equal(t, uint64(256<<20), manager.DirectMemorySize())
}
