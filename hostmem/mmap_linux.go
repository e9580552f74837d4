//go:build linux

package hostmem

import (
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

const placeholderFlags = unix.MAP_PRIVATE | unix.MAP_ANONYMOUS | unix.MAP_NORESERVE

// Mmap is an AddressSpace backed by real host memory. The whole guest layout is reserved up front as a
// single inaccessible host span, so that guest address addr always lives at host address
// HostBase()+(addr-Layout().Base()). Direct memory lives in an anonymous memfd; direct mappings map
// that file at the physical offset, so two guest ranges mapping the same physical pages alias each other.
type Mmap struct {
	layout     Layout
	directSize uint64

	mutex  sync.Mutex
	base   unsafe.Pointer
	memfd  int
	closed bool
}

var _ AddressSpace = &Mmap{}

// NewMmap reserves host address space for layout and creates a direct memory file of directSize bytes
func NewMmap(layout Layout, directSize uint64) (*Mmap, error) {
	err := layout.Validate()
	if err != nil {
		return nil, err
	}

	base, err := unix.MmapPtr(-1, 0, nil, uintptr(layout.Size()), unix.PROT_NONE, placeholderFlags)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to reserve %#x bytes of host address space", layout.Size())
	}

	memfd, err := unix.MemfdCreate("vmm-direct-memory", unix.MFD_CLOEXEC)
	if err != nil {
		_ = unix.MunmapPtr(base, uintptr(layout.Size()))
		return nil, errors.Wrap(err, "failed to create the direct memory file")
	}

	err = unix.Ftruncate(memfd, int64(directSize))
	if err != nil {
		_ = unix.Close(memfd)
		_ = unix.MunmapPtr(base, uintptr(layout.Size()))
		return nil, errors.Wrapf(err, "failed to size the direct memory file to %#x bytes", directSize)
	}

	return &Mmap{
		layout:     layout,
		directSize: directSize,
		base:       base,
		memfd:      memfd,
	}, nil
}

func (m *Mmap) Layout() Layout {
	return m.layout
}

// HostBase returns the host address at which the guest layout begins
func (m *Mmap) HostBase() unsafe.Pointer {
	return m.base
}

// Bytes returns a slice over the host memory backing [addr, addr+size). Touching bytes that are not
// committed with suitable permissions faults.
func (m *Mmap) Bytes(addr, size uint64) ([]byte, error) {
	ptr, err := m.hostPointer(addr, size)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(ptr), size), nil
}

func (m *Mmap) hostPointer(addr, size uint64) (unsafe.Pointer, error) {
	if m.closed {
		return nil, errors.New("host address space is closed")
	}
	if size == 0 || addr < m.layout.Base() || addr+size > m.layout.End() || addr+size < addr {
		return nil, errors.Newf("host range [%#x, +%#x) is outside of [%#x, %#x)", addr, size, m.layout.Base(), m.layout.End())
	}
	return unsafe.Add(m.base, addr-m.layout.Base()), nil
}

func hostProt(perms Permission) int {
	prot := unix.PROT_NONE
	if perms&PermissionRead != 0 {
		prot |= unix.PROT_READ
	}
	if perms&PermissionWrite != 0 {
		prot |= unix.PROT_WRITE
	}
	if perms&PermissionExecute != 0 {
		prot |= unix.PROT_EXEC
	}
	return prot
}

func (m *Mmap) Map(addr, size, alignment uint64, phys *uint64, executable bool) (uint64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if alignment != 0 && addr%alignment != 0 {
		return 0, errors.Newf("host address %#x is not aligned to %#x", addr, alignment)
	}

	ptr, err := m.hostPointer(addr, size)
	if err != nil {
		return 0, err
	}

	perms := PermissionReadWrite
	if executable {
		perms |= PermissionExecute
	}

	if phys == nil {
		_, err = unix.MmapPtr(-1, 0, ptr, uintptr(size), hostProt(perms), unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_FIXED)
		if err != nil {
			return 0, errors.Wrapf(err, "failed to map anonymous memory at %#x", addr)
		}
		return addr, nil
	}

	if *phys+size > m.directSize || *phys+size < *phys {
		return 0, errors.Newf("direct range [%#x, +%#x) is outside of the %#x byte pool", *phys, size, m.directSize)
	}

	_, err = unix.MmapPtr(m.memfd, int64(*phys), ptr, uintptr(size), hostProt(perms), unix.MAP_SHARED|unix.MAP_FIXED)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to map direct memory %#x at %#x", *phys, addr)
	}
	return addr, nil
}

func (m *Mmap) MapFile(addr, size, offset uint64, perms Permission, fd uintptr) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	ptr, err := m.hostPointer(addr, size)
	if err != nil {
		return err
	}

	_, err = unix.MmapPtr(int(fd), int64(offset), ptr, uintptr(size), hostProt(perms), unix.MAP_PRIVATE|unix.MAP_FIXED)
	if err != nil {
		return errors.Wrapf(err, "failed to map file descriptor %d at %#x", fd, addr)
	}
	return nil
}

func (m *Mmap) Unmap(addr, size uint64, hadBacking bool) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	ptr, err := m.hostPointer(addr, size)
	if err != nil {
		return err
	}

	// Replacing the range with a fresh placeholder drops the old pages, and for shared mappings
	// the reference to the backing file, while keeping the span reserved.
	_, err = unix.MmapPtr(-1, 0, ptr, uintptr(size), unix.PROT_NONE, placeholderFlags|unix.MAP_FIXED)
	if err != nil {
		return errors.Wrapf(err, "failed to release host range at %#x (backed: %t)", addr, hadBacking)
	}
	return nil
}

func (m *Mmap) Protect(addr, size uint64, perms Permission) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	ptr, err := m.hostPointer(addr, size)
	if err != nil {
		return err
	}

	err = unix.Mprotect(unsafe.Slice((*byte)(ptr), size), hostProt(perms))
	if err != nil {
		return errors.Wrapf(err, "failed to protect host range at %#x as %s", addr, perms)
	}
	return nil
}

func (m *Mmap) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	unmapErr := unix.MunmapPtr(m.base, uintptr(m.layout.Size()))
	closeErr := unix.Close(m.memfd)
	return errors.CombineErrors(unmapErr, closeErr)
}
