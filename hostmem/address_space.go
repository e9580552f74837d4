package hostmem

//go:generate mockgen -source address_space.go -destination ./mocks/mock_address_space.go -package mock_hostmem

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
)

// GuestPageSize is the granularity at which the guest address space is committed and protected
const GuestPageSize uint64 = 16 * 1024

// Permission is the set of host access rights applied to a committed range
type Permission uint32

var permissionMapping = common.NewFlagStringMapping[Permission]()

func (p Permission) Register(str string) {
	permissionMapping.Register(p, str)
}

func (p Permission) String() string {
	return permissionMapping.FlagsToString(p)
}

const (
	PermissionRead Permission = 1 << iota
	PermissionWrite
	PermissionExecute

	PermissionNone      Permission = 0
	PermissionReadWrite            = PermissionRead | PermissionWrite
)

func init() {
	PermissionRead.Register("Read")
	PermissionWrite.Register("Write")
	PermissionExecute.Register("Execute")
}

// Region is one of the fixed sub-ranges of the usable guest address space
type Region struct {
	Base uint64
	Size uint64
}

// End returns the first address past the region
func (r Region) End() uint64 {
	return r.Base + r.Size
}

// Layout describes the three contiguous sub-ranges of the usable guest address space
type Layout struct {
	SystemManaged  Region
	SystemReserved Region
	User           Region
}

// DefaultLayout is the address space the guest operating system exposes to applications
var DefaultLayout = Layout{
	SystemManaged:  Region{Base: 0x40000, Size: 0x7FFFFC000 - 0x40000},
	SystemReserved: Region{Base: 0x7FFFFC000, Size: 0x1000000000 - 0x7FFFFC000},
	User:           Region{Base: 0x1000000000, Size: 0xFC00000000 - 0x1000000000},
}

// Base returns the lowest usable guest address
func (l Layout) Base() uint64 {
	return l.SystemManaged.Base
}

// End returns the first address past the usable guest address space
func (l Layout) End() uint64 {
	return l.User.End()
}

// Size returns the total number of usable guest bytes
func (l Layout) Size() uint64 {
	return l.End() - l.Base()
}

// Validate checks that the three regions are non-empty, page aligned, and contiguous in order
func (l Layout) Validate() error {
	regions := []struct {
		name   string
		region Region
	}{
		{"SystemManaged", l.SystemManaged},
		{"SystemReserved", l.SystemReserved},
		{"User", l.User},
	}

	for i, r := range regions {
		if r.region.Size == 0 {
			return errors.Newf("layout region %s is empty", r.name)
		}
		if r.region.Base%GuestPageSize != 0 || r.region.Size%GuestPageSize != 0 {
			return errors.Newf("layout region %s [%#x, +%#x) is not aligned to the guest page size", r.name, r.region.Base, r.region.Size)
		}
		if r.region.End() < r.region.Base {
			return errors.Newf("layout region %s overflows the address space", r.name)
		}
		if i > 0 && regions[i-1].region.End() != r.region.Base {
			return errors.Newf("layout region %s begins at %#x, but %s ends at %#x", r.name, r.region.Base, regions[i-1].name, regions[i-1].region.End())
		}
	}

	return nil
}

// AddressSpace is the host side of the guest address space: it commits, protects, and releases real host
// pages for guest addresses. It performs no bookkeeping of its own beyond what is needed to talk to the host;
// callers are responsible for only unmapping and protecting ranges they previously mapped.
type AddressSpace interface {
	// Layout returns the guest address ranges this address space can back. It never changes.
	Layout() Layout

	// Map commits size bytes at addr. When phys is non-nil the range aliases the direct memory pool
	// starting at *phys; otherwise it is backed by fresh zeroed anonymous memory. The range is mapped
	// read/write (and executable if requested) and the address actually used is returned.
	Map(addr, size, alignment uint64, phys *uint64, executable bool) (uint64, error)

	// MapFile commits size bytes at addr backed by the file descriptor fd beginning at offset
	MapFile(addr, size, offset uint64, perms Permission, fd uintptr) error

	// Unmap releases a range committed by Map or MapFile. hadBacking reports whether the range was
	// backed by direct memory or a file rather than anonymous memory.
	Unmap(addr, size uint64, hadBacking bool) error

	// Protect changes the host access rights on a committed range
	Protect(addr, size uint64, perms Permission) error

	// Close releases every host resource held by the address space
	Close() error
}
