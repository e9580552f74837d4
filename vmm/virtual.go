package vmm

import (
	"github.com/cockroachdb/errors"
	"github.com/kestrel-emu/vmm/hostmem"
	"github.com/kestrel-emu/vmm/memutils"
	"github.com/kestrel-emu/vmm/memutils/partition"
)

// VirtualMemoryArea is one contiguous, uniformly classified range of the guest virtual address space
type VirtualMemoryArea struct {
	base uint64
	size uint64
	zone Zone

	kind MemoryKind
	prot Prot
	name string

	hasPhys  bool
	physBase uint64

	hasFile    bool
	fd         uintptr
	fileOffset uint64

	disallowMerge bool
}

func (a VirtualMemoryArea) Base() uint64     { return a.base }
func (a VirtualMemoryArea) Size() uint64     { return a.size }
func (a VirtualMemoryArea) End() uint64      { return a.base + a.size }
func (a VirtualMemoryArea) Zone() Zone       { return a.zone }
func (a VirtualMemoryArea) Kind() MemoryKind { return a.kind }
func (a VirtualMemoryArea) Prot() Prot       { return a.prot }
func (a VirtualMemoryArea) Name() string     { return a.name }
func (a VirtualMemoryArea) IsFree() bool     { return a.kind == KindFree }
func (a VirtualMemoryArea) Mergeable() bool  { return !a.disallowMerge }

// PhysBase returns the direct memory address backing the start of the area, if it has one
func (a VirtualMemoryArea) PhysBase() (uint64, bool) {
	return a.physBase, a.hasPhys
}

// File returns the file descriptor and offset backing the start of the area, if it has one
func (a VirtualMemoryArea) File() (uintptr, uint64, bool) {
	return a.fd, a.fileOffset, a.hasFile
}

// hasHostBacking reports whether the host pages of this area come from direct memory or a file rather
// than anonymous memory
func (a VirtualMemoryArea) hasHostBacking() bool {
	return a.hasPhys || a.hasFile
}

// Contains reports whether [addr, addr+size) lies entirely within the area
func (a VirtualMemoryArea) Contains(addr, size uint64) bool {
	return addr >= a.base && addr+size >= addr && addr+size <= a.End()
}

func (a VirtualMemoryArea) Split(offset uint64) (VirtualMemoryArea, VirtualMemoryArea) {
	left, right := a, a
	left.size = offset
	right.base += offset
	right.size -= offset
	if right.hasPhys {
		right.physBase += offset
	}
	if right.hasFile {
		right.fileOffset += offset
	}
	return left, right
}

func (a VirtualMemoryArea) CanMerge(next VirtualMemoryArea) bool {
	if a.disallowMerge || next.disallowMerge {
		return false
	}
	if a.kind != next.kind || a.prot != next.prot || a.zone != next.zone || a.name != next.name {
		return false
	}
	if a.hasPhys != next.hasPhys || (a.hasPhys && a.physBase+a.size != next.physBase) {
		return false
	}
	if a.hasFile != next.hasFile || (a.hasFile && (a.fd != next.fd || a.fileOffset+a.size != next.fileOffset)) {
		return false
	}
	return true
}

func (a VirtualMemoryArea) Absorb(next VirtualMemoryArea) VirtualMemoryArea {
	a.size += next.size
	return a
}

// VirtualAddressSpace is the partition of the guest virtual address space into areas. It performs no
// host calls and no locking; the MemoryManager that owns it does both.
type VirtualAddressSpace struct {
	layout hostmem.Layout
	areas  *partition.Partition[VirtualMemoryArea]
}

// NewVirtualAddressSpace creates an address space of three free areas, one for each zone of layout
func NewVirtualAddressSpace(layout hostmem.Layout) (*VirtualAddressSpace, error) {
	err := layout.Validate()
	if err != nil {
		return nil, err
	}

	areas, err := partition.New(
		VirtualMemoryArea{base: layout.SystemManaged.Base, size: layout.SystemManaged.Size, zone: ZoneSystemManaged},
		VirtualMemoryArea{base: layout.SystemReserved.Base, size: layout.SystemReserved.Size, zone: ZoneSystemReserved},
		VirtualMemoryArea{base: layout.User.Base, size: layout.User.Size, zone: ZoneUser},
	)
	if err != nil {
		return nil, err
	}

	return &VirtualAddressSpace{
		layout: layout,
		areas:  areas,
	}, nil
}

func (s *VirtualAddressSpace) Layout() hostmem.Layout {
	return s.layout
}

// Find returns the area containing addr
func (s *VirtualAddressSpace) Find(addr uint64) (VirtualMemoryArea, error) {
	return s.areas.Find(addr)
}

// Next returns the area that follows area, if any
func (s *VirtualAddressSpace) Next(area VirtualMemoryArea) (VirtualMemoryArea, bool) {
	return s.areas.Next(area)
}

// SearchFree returns the lowest address at or after from, aligned to alignment, at which size bytes of
// free address space are available
func (s *VirtualAddressSpace) SearchFree(from, size, alignment uint64) (uint64, error) {
	return s.areas.SearchFree(from, size, alignment)
}

// Assign isolates [addr, addr+size), which must lie within a single area, lets update reclassify it, and
// merges the result with its neighbors. The merged area is returned.
func (s *VirtualAddressSpace) Assign(addr, size uint64, update func(area *VirtualMemoryArea)) (VirtualMemoryArea, error) {
	area, err := s.areas.Carve(addr, size)
	if err != nil {
		return area, err
	}

	base, size, zone := area.base, area.size, area.zone
	update(&area)
	if area.base != base || area.size != size || area.zone != zone {
		panic(errors.AssertionFailedf("virtual area update changed the span of [%#x, +%#x)", base, size))
	}

	s.areas.Replace(area)
	return s.areas.MergeAdjacent(area), nil
}

// Release returns [addr, addr+size) to the free state
func (s *VirtualAddressSpace) Release(addr, size uint64) (VirtualMemoryArea, error) {
	return s.Assign(addr, size, func(area *VirtualMemoryArea) {
		*area = VirtualMemoryArea{base: area.base, size: area.size, zone: area.zone}
	})
}

// VisitAllAreas will call the provided callback once for each area, in address order
func (s *VirtualAddressSpace) VisitAllAreas(visit func(area VirtualMemoryArea) error) error {
	return s.areas.VisitAllRegions(visit)
}

// Ascend calls visit for every area beginning with the one containing from until visit returns false
func (s *VirtualAddressSpace) Ascend(from uint64, visit func(area VirtualMemoryArea) bool) {
	s.areas.Ascend(from, visit)
}

func (s *VirtualAddressSpace) zoneOf(addr uint64) Zone {
	switch {
	case addr < s.layout.SystemReserved.Base:
		return ZoneSystemManaged
	case addr < s.layout.User.Base:
		return ZoneSystemReserved
	}
	return ZoneUser
}

func (s *VirtualAddressSpace) Validate() error {
	err := s.areas.Validate()
	if err != nil {
		return err
	}

	return s.areas.VisitAllRegions(func(area VirtualMemoryArea) error {
		if s.zoneOf(area.base) != area.zone || s.zoneOf(area.End()-1) != area.zone {
			return errors.Errorf("virtual area [%#x, +%#x) is not contained in zone %s", area.base, area.size, area.zone)
		}
		if area.kind == KindFree && (area.prot != ProtNoAccess || area.hasPhys || area.hasFile || area.name != "" || area.disallowMerge) {
			return errors.Errorf("free virtual area at %#x carries mapping state", area.base)
		}
		if area.kind == KindDirect && !area.hasPhys {
			return errors.Errorf("direct virtual area at %#x has no physical address", area.base)
		}
		if area.kind == KindFile && !area.hasFile {
			return errors.Errorf("file virtual area at %#x has no file", area.base)
		}
		return nil
	})
}

func (s *VirtualAddressSpace) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	s.areas.AddDetailedStatistics(stats)
}
