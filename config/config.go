package config

import (
	"io"
	"reflect"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/kestrel-emu/vmm/hostmem"
	"github.com/kestrel-emu/vmm/vmm"
	"golang.org/x/exp/slog"
)

// ByteSize is a size read from the environment in any form go-humanize accepts, such as "5056MiB"
type ByteSize uint64

func (s ByteSize) String() string {
	return humanize.IBytes(uint64(s))
}

const (
	BackendSimulated = "simulated"
	BackendMmap      = "mmap"
)

type Config struct {
	DirectMemorySize       ByteSize   `env:"VMM_DIRECT_MEMORY_SIZE"      envDefault:"5056MiB"`
	FlexibleMemorySize     ByteSize   `env:"VMM_FLEXIBLE_MEMORY_SIZE"    envDefault:"448MiB"`
	ExternallySynchronized bool       `env:"VMM_EXTERNALLY_SYNCHRONIZED"`
	HostBackend            string     `env:"VMM_HOST_BACKEND"            envDefault:"simulated"`
	LogLevel               slog.Level `env:"VMM_LOG_LEVEL"               envDefault:"info"`
}

func parseByteSize(value string) (any, error) {
	size, err := humanize.ParseBytes(value)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse byte size %q", value)
	}
	return ByteSize(size), nil
}

func parseLevel(value string) (any, error) {
	switch strings.ToLower(value) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return nil, errors.Newf("unknown log level %q", value)
}

func options() env.Options {
	return env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(ByteSize(0)):   parseByteSize,
			reflect.TypeOf(slog.Level(0)): parseLevel,
		},
	}
}

// Parse reads the configuration from the process environment
func Parse() (Config, error) {
	config, err := env.ParseAsWithOptions[Config](options())
	if err != nil {
		return config, err
	}
	return config, config.Validate()
}

// ParseEnvironment reads the configuration from environment, ignoring the process environment
func ParseEnvironment(environment map[string]string) (Config, error) {
	opts := options()
	opts.Environment = environment

	config, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return config, err
	}
	return config, config.Validate()
}

func (c Config) Validate() error {
	if c.HostBackend != BackendSimulated && c.HostBackend != BackendMmap {
		return errors.Newf("VMM_HOST_BACKEND must be %q or %q, not %q", BackendSimulated, BackendMmap, c.HostBackend)
	}
	if uint64(c.DirectMemorySize)%hostmem.GuestPageSize != 0 {
		return errors.Newf("VMM_DIRECT_MEMORY_SIZE (%s) must be a multiple of %s", c.DirectMemorySize, humanize.IBytes(hostmem.GuestPageSize))
	}
	if uint64(c.FlexibleMemorySize)%hostmem.GuestPageSize != 0 {
		return errors.Newf("VMM_FLEXIBLE_MEMORY_SIZE (%s) must be a multiple of %s", c.FlexibleMemorySize, humanize.IBytes(hostmem.GuestPageSize))
	}
	return nil
}

// CreateOptions returns the manager options described by the configuration
func (c Config) CreateOptions() vmm.CreateOptions {
	options := vmm.CreateOptions{
		DirectMemorySize:   uint64(c.DirectMemorySize),
		FlexibleMemorySize: uint64(c.FlexibleMemorySize),
	}
	if c.ExternallySynchronized {
		options.Flags |= vmm.CreateExternallySynchronized
	}
	return options
}

// NewLogger builds a text logger writing to w at the configured level
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.HandlerOptions{Level: c.LogLevel}.NewTextHandler(w))
}

// NewHostAddressSpace creates the configured host backend over the default guest layout
func (c Config) NewHostAddressSpace() (hostmem.AddressSpace, error) {
	switch c.HostBackend {
	case BackendMmap:
		host, err := hostmem.NewMmap(hostmem.DefaultLayout, uint64(c.DirectMemorySize))
		if err != nil {
			return nil, err
		}
		return host, nil
	case BackendSimulated:
		host, err := hostmem.NewSimulated(hostmem.DefaultLayout)
		if err != nil {
			return nil, err
		}
		return host, nil
	}
	return nil, errors.Newf("unknown host backend %q", c.HostBackend)
}
