package vmm

import (
	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/kestrel-emu/vmm/hostmem"
	"github.com/kestrel-emu/vmm/memutils"
	"golang.org/x/exp/slog"
)

const (
	// DefaultDirectMemorySize is the size of the direct memory pool when none is provided via
	// CreateOptions. It is equal to 5056Mb.
	DefaultDirectMemorySize uint64 = 5056 * 1024 * 1024
	// DefaultFlexibleMemorySize is the flexible memory budget when none is provided via CreateOptions.
	// It is equal to 448Mb.
	DefaultFlexibleMemorySize uint64 = 448 * 1024 * 1024
	// DefaultAlignment is used for virtual placement and direct allocation when the caller passes 0
	DefaultAlignment = hostmem.GuestPageSize
)

// CreateOptions contains optional settings when creating a MemoryManager
type CreateOptions struct {
	// Flags indicates specific manager behaviors to activate or deactivate
	Flags CreateFlags
	// DirectMemorySize is the size of the direct memory pool. It must be a multiple of the guest page size.
	DirectMemorySize uint64
	// FlexibleMemorySize is the most flexible memory that may be mapped at once. It must be a multiple
	// of the guest page size.
	FlexibleMemorySize uint64

	// ResidencyCallbacks is an optional set of callbacks that will be executed when direct memory is
	// mapped into or removed from the guest address space
	ResidencyCallbacks *ResidencyCallbackOptions
}

// New creates a new MemoryManager
//
// logger - The logger that operations are traced to
//
// host - The host address space that guest mappings are committed to. The manager must be its only user.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, host hostmem.AddressSpace, options CreateOptions) (*MemoryManager, error) {
	if logger == nil {
		return nil, errors.New("vmm.New requires a logger")
	}
	if host == nil {
		return nil, errors.New("vmm.New requires a host address space")
	}

	manager := &MemoryManager{
		logger:      logger,
		host:        host,
		createFlags: options.Flags,
	}
	manager.mutex.UseMutex = options.Flags&CreateExternallySynchronized == 0
	manager.callbacks = &residencyCallbacks{
		Callbacks: options.ResidencyCallbacks,
		Manager:   manager,
	}

	directSize := options.DirectMemorySize
	if directSize == 0 {
		directSize = DefaultDirectMemorySize
	}
	manager.flexibleBudget = options.FlexibleMemorySize
	if manager.flexibleBudget == 0 {
		manager.flexibleBudget = DefaultFlexibleMemorySize
	}

	err := memutils.CheckAligned(directSize, hostmem.GuestPageSize, "vmm.CreateOptions.DirectMemorySize")
	if err != nil {
		return nil, err
	}
	err = memutils.CheckAligned(manager.flexibleBudget, hostmem.GuestPageSize, "vmm.CreateOptions.FlexibleMemorySize")
	if err != nil {
		return nil, err
	}

	manager.direct, err = NewDirectMemoryPool(directSize)
	if err != nil {
		return nil, err
	}

	manager.virtual, err = NewVirtualAddressSpace(host.Layout())
	if err != nil {
		return nil, err
	}

	layout := host.Layout()
	logger.Info("MemoryManager initialized",
		slog.String("AddressSpace", humanize.IBytes(layout.Size())),
		slog.String("SystemManaged", humanize.IBytes(layout.SystemManaged.Size)),
		slog.String("SystemReserved", humanize.IBytes(layout.SystemReserved.Size)),
		slog.String("User", humanize.IBytes(layout.User.Size)),
		slog.String("DirectMemory", humanize.IBytes(directSize)),
		slog.String("FlexibleMemory", humanize.IBytes(manager.flexibleBudget)),
		slog.String("Flags", options.Flags.String()),
	)

	return manager, nil
}
