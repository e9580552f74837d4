package hostmem

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/kestrel-emu/vmm/memutils"
)

// Simulated is an AddressSpace that commits no host memory. It tracks committed guest pages and their
// permissions so that tests and non-Linux hosts can run the memory manager, and it is strict about
// misuse: mapping a committed page, or unmapping or protecting an uncommitted one, is an error.
type Simulated struct {
	layout Layout

	mutex     sync.Mutex
	committed *bitset.BitSet
	backed    *bitset.BitSet
	perms     *swiss.Map[uint, Permission]
}

var _ AddressSpace = &Simulated{}

// NewSimulated creates a simulated address space covering layout
func NewSimulated(layout Layout) (*Simulated, error) {
	err := layout.Validate()
	if err != nil {
		return nil, err
	}

	return &Simulated{
		layout:    layout,
		committed: bitset.New(0),
		backed:    bitset.New(0),
		perms:     swiss.NewMap[uint, Permission](64),
	}, nil
}

func (s *Simulated) Layout() Layout {
	return s.layout
}

func (s *Simulated) pageRange(addr, size uint64) (uint, uint, error) {
	if size == 0 {
		return 0, 0, errors.Newf("empty host range at %#x", addr)
	}
	if addr%GuestPageSize != 0 || size%GuestPageSize != 0 {
		return 0, 0, errors.Newf("host range [%#x, +%#x) is not page aligned", addr, size)
	}
	if addr < s.layout.Base() || addr+size > s.layout.End() || addr+size < addr {
		return 0, 0, errors.Newf("host range [%#x, +%#x) is outside of [%#x, %#x)", addr, size, s.layout.Base(), s.layout.End())
	}

	first := uint((addr - s.layout.Base()) / GuestPageSize)
	return first, first + uint(size/GuestPageSize), nil
}

func (s *Simulated) commit(addr, size uint64, backed bool, perms Permission) error {
	first, last, err := s.pageRange(addr, size)
	if err != nil {
		return err
	}

	for page := first; page < last; page++ {
		if s.committed.Test(page) {
			return errors.Newf("host page %#x is already committed", s.layout.Base()+uint64(page)*GuestPageSize)
		}
	}

	for page := first; page < last; page++ {
		s.committed.Set(page)
		if backed {
			s.backed.Set(page)
		}
		s.perms.Put(page, perms)
	}

	return nil
}

func (s *Simulated) Map(addr, size, alignment uint64, phys *uint64, executable bool) (uint64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if alignment != 0 && addr%alignment != 0 {
		return 0, errors.Newf("host address %#x is not aligned to %#x", addr, alignment)
	}

	perms := PermissionReadWrite
	if executable {
		perms |= PermissionExecute
	}

	err := s.commit(addr, size, phys != nil, perms)
	if err != nil {
		return 0, err
	}
	return addr, nil
}

func (s *Simulated) MapFile(addr, size, offset uint64, perms Permission, fd uintptr) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if offset%GuestPageSize != 0 {
		return errors.Newf("file offset %#x is not page aligned", offset)
	}

	return s.commit(addr, size, true, perms)
}

func (s *Simulated) Unmap(addr, size uint64, hadBacking bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	first, last, err := s.pageRange(addr, size)
	if err != nil {
		return err
	}

	for page := first; page < last; page++ {
		if !s.committed.Test(page) {
			return errors.Newf("host page %#x is not committed", s.layout.Base()+uint64(page)*GuestPageSize)
		}
		if s.backed.Test(page) != hadBacking {
			return errors.Newf("host page %#x backing does not match the unmap request", s.layout.Base()+uint64(page)*GuestPageSize)
		}
	}

	for page := first; page < last; page++ {
		s.committed.Clear(page)
		s.backed.Clear(page)
		s.perms.Delete(page)
	}

	return nil
}

func (s *Simulated) Protect(addr, size uint64, perms Permission) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	first, last, err := s.pageRange(addr, size)
	if err != nil {
		return err
	}

	for page := first; page < last; page++ {
		if !s.committed.Test(page) {
			return errors.Newf("host page %#x is not committed", s.layout.Base()+uint64(page)*GuestPageSize)
		}
	}

	for page := first; page < last; page++ {
		s.perms.Put(page, perms)
	}

	return nil
}

func (s *Simulated) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.committed.ClearAll()
	s.backed.ClearAll()
	s.perms = swiss.NewMap[uint, Permission](64)
	return nil
}

// Permission returns the permissions of the committed page containing addr
func (s *Simulated) Permission(addr uint64) (Permission, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if addr < s.layout.Base() || addr >= s.layout.End() {
		return PermissionNone, false
	}

	return s.perms.Get(uint((addr - s.layout.Base()) / GuestPageSize))
}

// IsCommitted reports whether every page of [addr, addr+size) is committed
func (s *Simulated) IsCommitted(addr, size uint64) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	base := memutils.AlignDown(addr, GuestPageSize)
	first, last, err := s.pageRange(base, memutils.AlignUp(addr+size, GuestPageSize)-base)
	if err != nil {
		return false
	}

	for page := first; page < last; page++ {
		if !s.committed.Test(page) {
			return false
		}
	}
	return true
}

// CommittedBytes returns the number of guest bytes currently committed
func (s *Simulated) CommittedBytes() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return uint64(s.committed.Count()) * GuestPageSize
}
