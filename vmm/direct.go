package vmm

import (
	"github.com/cockroachdb/errors"
	"github.com/kestrel-emu/vmm/memutils"
	"github.com/kestrel-emu/vmm/memutils/partition"
)

// DirectMemoryArea is one contiguous range of the direct memory pool, either free or allocated with a
// memory type
type DirectMemoryArea struct {
	base       uint64
	size       uint64
	isFree     bool
	memoryType int32
}

func (a DirectMemoryArea) Base() uint64      { return a.base }
func (a DirectMemoryArea) Size() uint64      { return a.size }
func (a DirectMemoryArea) End() uint64       { return a.base + a.size }
func (a DirectMemoryArea) IsFree() bool      { return a.isFree }
func (a DirectMemoryArea) MemoryType() int32 { return a.memoryType }

func (a DirectMemoryArea) Split(offset uint64) (DirectMemoryArea, DirectMemoryArea) {
	left, right := a, a
	left.size = offset
	right.base += offset
	right.size -= offset
	return left, right
}

// CanMerge only joins free areas: each allocation keeps its own area so that it can be freed exactly
func (a DirectMemoryArea) CanMerge(next DirectMemoryArea) bool {
	return a.isFree && next.isFree
}

func (a DirectMemoryArea) Absorb(next DirectMemoryArea) DirectMemoryArea {
	a.size += next.size
	return a
}

// DirectMemoryPool tracks allocations of the emulated physical memory pool [0, Size). It performs no
// locking; the MemoryManager that owns it serializes access.
type DirectMemoryPool struct {
	areas *partition.Partition[DirectMemoryArea]
}

// NewDirectMemoryPool creates a pool of size bytes consisting of a single free area
func NewDirectMemoryPool(size uint64) (*DirectMemoryPool, error) {
	areas, err := partition.New(DirectMemoryArea{base: 0, size: size, isFree: true})
	if err != nil {
		return nil, err
	}

	return &DirectMemoryPool{areas: areas}, nil
}

func (p *DirectMemoryPool) Size() uint64 {
	return p.areas.Size()
}

// Allocate carves size bytes out of the first free area in [searchStart, searchEnd) that can hold them at
// the requested alignment, and marks them allocated with memoryType
func (p *DirectMemoryPool) Allocate(searchStart, searchEnd, size, alignment uint64, memoryType int32) (uint64, error) {
	addr, err := p.areas.SearchFreeBelow(searchStart, searchEnd, size, alignment)
	if err != nil {
		return 0, err
	}

	area, err := p.areas.Carve(addr, size)
	if err != nil {
		return 0, err
	}
	if !area.isFree {
		panic(errors.AssertionFailedf("search returned allocated direct memory at %#x", addr))
	}

	area.isFree = false
	area.memoryType = memoryType
	p.areas.Replace(area)

	return addr, nil
}

// Free releases the allocation at exactly [addr, addr+size). Freeing anything other than a whole
// allocation is an invariant violation.
func (p *DirectMemoryPool) Free(addr, size uint64) {
	area, err := p.areas.Find(addr)
	if err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "freeing direct memory at %#x", addr))
	}
	if area.isFree || area.base != addr || area.size != size {
		panic(errors.AssertionFailedf("freeing [%#x, +%#x) does not match the allocation [%#x, +%#x)", addr, size, area.base, area.size))
	}

	area.isFree = true
	area.memoryType = 0
	p.areas.Replace(area)
	p.areas.MergeAdjacent(area)
}

// Find returns the area containing addr
func (p *DirectMemoryPool) Find(addr uint64) (DirectMemoryArea, error) {
	return p.areas.Find(addr)
}

// QueryAllocated returns the allocated area containing addr. If findNext is set and addr is free, the
// first allocated area after addr is returned instead.
func (p *DirectMemoryPool) QueryAllocated(addr uint64, findNext bool) (DirectMemoryArea, error) {
	var found DirectMemoryArea
	ok := false

	p.areas.Ascend(addr, func(area DirectMemoryArea) bool {
		if !area.isFree {
			found = area
			ok = true
			return false
		}
		return findNext
	})

	if !ok {
		return found, errors.Wrapf(ErrNotFound, "no allocated direct memory at %#x", addr)
	}
	return found, nil
}

// QueryLargestFree returns the largest aligned free span within [searchStart, searchEnd), or (0, 0)
// if there is none
func (p *DirectMemoryPool) QueryLargestFree(searchStart, searchEnd, alignment uint64) (uint64, uint64) {
	if searchEnd > p.areas.End() {
		searchEnd = p.areas.End()
	}

	var bestAddr, bestSize uint64
	p.areas.Ascend(searchStart, func(area DirectMemoryArea) bool {
		if area.base >= searchEnd {
			return false
		}
		if !area.isFree {
			return true
		}

		start := max(area.base, searchStart)
		end := min(area.End(), searchEnd)
		start = memutils.AlignUp(start, alignment)
		if start < end && end-start > bestSize {
			bestAddr = start
			bestSize = end - start
		}
		return true
	})

	return bestAddr, bestSize
}

// IsAllocated reports whether every byte of [addr, addr+size) belongs to an allocation
func (p *DirectMemoryPool) IsAllocated(addr, size uint64) bool {
	end := addr + size
	if size == 0 || end < addr || end > p.areas.End() {
		return false
	}

	allocated := true
	p.areas.Ascend(addr, func(area DirectMemoryArea) bool {
		if area.base >= end {
			return false
		}
		if area.isFree {
			allocated = false
			return false
		}
		return true
	})
	return allocated
}

// AllocatedBytes returns the number of bytes currently allocated
func (p *DirectMemoryPool) AllocatedBytes() uint64 {
	return p.areas.Size() - p.areas.SumFreeSize()
}

func (p *DirectMemoryPool) Validate() error {
	err := p.areas.Validate()
	if err != nil {
		return err
	}

	return p.areas.VisitAllRegions(func(area DirectMemoryArea) error {
		if area.isFree && area.memoryType != 0 {
			return errors.Errorf("free direct memory at %#x has memory type %d", area.base, area.memoryType)
		}
		return nil
	})
}

func (p *DirectMemoryPool) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	p.areas.AddDetailedStatistics(stats)
}

// VisitAllAreas will call the provided callback once for each area in the pool, in address order
func (p *DirectMemoryPool) VisitAllAreas(visit func(area DirectMemoryArea) error) error {
	return p.areas.VisitAllRegions(visit)
}
