package vmm

import (
	"github.com/cockroachdb/errors"
	"github.com/kestrel-emu/vmm/hostmem"
	"github.com/vkngwrapper/core/v2/common"
)

// Prot is the guest protection of a virtual range
type Prot uint32

var protMapping = common.NewFlagStringMapping[Prot]()

func (p Prot) Register(str string) {
	protMapping.Register(p, str)
}
func (p Prot) String() string {
	if p == ProtNoAccess {
		return "NoAccess"
	}
	return protMapping.FlagsToString(p)
}

const (
	ProtNoAccess     Prot = 0
	ProtCpuRead      Prot = 0x1
	ProtCpuReadWrite Prot = 0x2
	ProtGpuRead      Prot = 0x10
	ProtGpuWrite     Prot = 0x20
	ProtGpuReadWrite      = ProtGpuRead | ProtGpuWrite

	protAllBits = ProtCpuRead | ProtCpuReadWrite | ProtGpuReadWrite
)

func init() {
	ProtCpuRead.Register("CpuRead")
	ProtCpuReadWrite.Register("CpuReadWrite")
	ProtGpuRead.Register("GpuRead")
	ProtGpuWrite.Register("GpuWrite")
}

// Validate returns ErrInvalidArgument if any unrecognized bit is set
func (p Prot) Validate() error {
	if p&^protAllBits != 0 {
		return errors.Wrapf(ErrInvalidArgument, "unrecognized protection bits %#x", uint32(p&^protAllBits))
	}
	return nil
}

// HostPermission translates the guest protection into host page permissions
func (p Prot) HostPermission() hostmem.Permission {
	perms := hostmem.PermissionNone
	if p&(ProtCpuRead|ProtGpuRead) != 0 {
		perms |= hostmem.PermissionRead
	}
	if p&ProtCpuReadWrite != 0 {
		perms |= hostmem.PermissionReadWrite
	}
	if p&ProtGpuWrite != 0 {
		perms |= hostmem.PermissionWrite
	}
	return perms
}

// MapFlags control the placement of reservations and mappings
type MapFlags uint32

var mapFlagsMapping = common.NewFlagStringMapping[MapFlags]()

func (f MapFlags) Register(str string) {
	mapFlagsMapping.Register(f, str)
}
func (f MapFlags) String() string {
	return mapFlagsMapping.FlagsToString(f)
}

const (
	// MapFixed places the range at exactly the requested address instead of searching from it
	MapFixed MapFlags = 0x10
	// MapNoOverwrite makes a fixed request fail rather than replace an existing mapping
	MapNoOverwrite MapFlags = 0x80
	// MapNoCoalesce keeps the new range from ever merging with its neighbors
	MapNoCoalesce MapFlags = 0x400000
)

func init() {
	MapFixed.Register("Fixed")
	MapNoOverwrite.Register("NoOverwrite")
	MapNoCoalesce.Register("NoCoalesce")
}

// QueryFlags modify the behavior of QueryVirtual
type QueryFlags int32

const (
	// QueryFindNext makes a query against free memory report the next area instead
	QueryFindNext QueryFlags = 1
)

// CreateFlags indicate specific manager behaviors to activate or deactivate
type CreateFlags int32

var createFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// CreateExternallySynchronized ensures that the manager will not be synchronized internally. The
	// consumer must guarantee it is used from only one goroutine at a time or is synchronized by some
	// other mechanism.
	CreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	CreateExternallySynchronized.Register("vmm.CreateExternallySynchronized")
}

// MemoryKind classifies a virtual memory area
type MemoryKind int32

const (
	KindFree MemoryKind = iota
	KindReserved
	KindDirect
	KindFlexible
	KindFile
	KindPoolAllocated
)

var memoryKindNames = map[MemoryKind]string{
	KindFree:          "Free",
	KindReserved:      "Reserved",
	KindDirect:        "Direct",
	KindFlexible:      "Flexible",
	KindFile:          "File",
	KindPoolAllocated: "PoolAllocated",
}

func (k MemoryKind) String() string {
	name, ok := memoryKindNames[k]
	if !ok {
		return "Unknown"
	}
	return name
}

// IsMapping reports whether areas of this kind are backed by host pages
func (k MemoryKind) IsMapping() bool {
	return k == KindDirect || k == KindFlexible || k == KindFile || k == KindPoolAllocated
}

// Zone identifies which fixed sub-range of the address space an area lies in
type Zone int32

const (
	ZoneSystemManaged Zone = iota
	ZoneSystemReserved
	ZoneUser
)

func (z Zone) String() string {
	switch z {
	case ZoneSystemManaged:
		return "SystemManaged"
	case ZoneSystemReserved:
		return "SystemReserved"
	case ZoneUser:
		return "User"
	}
	return "Unknown"
}
