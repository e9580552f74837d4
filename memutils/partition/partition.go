package partition

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"
	"github.com/kestrel-emu/vmm/memutils"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

const btreeDegree = 16

var (
	// ErrOutOfRange is returned when an address lies outside the range governed by a Partition
	ErrOutOfRange = errors.New("address outside of the governed range")
	// ErrInvalidRange is returned when a requested span is empty or is not contained in a single area
	ErrInvalidRange = errors.New("range is not contained in a single area")
	// ErrOutOfMemory is returned when a search for free space reaches the end of the governed range
	ErrOutOfMemory = errors.New("no free area can satisfy the request")
)

// Area is the contract a region descriptor must satisfy to live in a Partition. Areas are plain values:
// the Partition stores copies and replaces them wholesale, so implementations should have value receivers
// and no internal pointers that are shared between copies.
type Area[T any] interface {
	// Base returns the first address covered by the area
	Base() uint64
	// Size returns the number of bytes covered by the area. It is never 0 inside a Partition.
	Size() uint64
	// IsFree reports whether the area may be handed out by SearchFree
	IsFree() bool
	// Split divides the area at offset bytes from its base, returning the descriptors for
	// [Base, Base+offset) and [Base+offset, Base+Size). Address-dependent fields of the second
	// descriptor must be advanced by offset.
	Split(offset uint64) (T, T)
	// CanMerge reports whether next, which begins where this area ends, may be absorbed into this area
	CanMerge(next T) bool
	// Absorb returns this area extended to also cover next
	Absorb(next T) T
}

type item[T Area[T]] struct {
	base uint64
	area T
}

// Partition is an ordered set of areas that tiles an address range exactly: every address in
// [Base, End) lies in exactly one area. Every operation preserves that property; an operation that
// would break it panics, since it means the partition is already corrupt.
type Partition[T Area[T]] struct {
	base uint64
	size uint64
	tree *btree.BTreeG[item[T]]
}

func lessItem[T Area[T]](a, b item[T]) bool {
	return a.base < b.base
}

// New creates a Partition from a list of areas sorted by base address. The areas must be non-empty and
// contiguous; the governed range runs from the base of the first area to the end of the last. No merging
// is performed on the initial areas.
func New[T Area[T]](areas ...T) (*Partition[T], error) {
	if len(areas) == 0 {
		return nil, errors.New("a partition requires at least one area")
	}

	p := &Partition[T]{
		base: areas[0].Base(),
		tree: btree.NewG[item[T]](btreeDegree, lessItem[T]),
	}

	nextBase := p.base
	for _, area := range areas {
		if area.Size() == 0 {
			return nil, errors.Newf("area at %#x is empty", area.Base())
		}
		if area.Base() != nextBase {
			return nil, errors.Newf("area at %#x does not begin where the previous area ended (%#x)", area.Base(), nextBase)
		}
		end := area.Base() + area.Size()
		if end < area.Base() {
			return nil, errors.Newf("area at %#x overflows the address space", area.Base())
		}

		p.tree.ReplaceOrInsert(item[T]{base: area.Base(), area: area})
		nextBase = end
	}

	p.size = nextBase - p.base
	return p, nil
}

// Base returns the first address governed by the partition
func (p *Partition[T]) Base() uint64 { return p.base }

// Size returns the number of bytes governed by the partition
func (p *Partition[T]) Size() uint64 { return p.size }

// End returns the first address past the governed range
func (p *Partition[T]) End() uint64 { return p.base + p.size }

// Len returns the number of areas currently in the partition
func (p *Partition[T]) Len() int { return p.tree.Len() }

// Contains reports whether addr lies in the governed range
func (p *Partition[T]) Contains(addr uint64) bool {
	return addr >= p.base && addr-p.base < p.size
}

// Find returns the area containing addr. Because the partition is total, the only failure is an
// address outside of the governed range, which returns ErrOutOfRange.
func (p *Partition[T]) Find(addr uint64) (T, error) {
	var found T
	if !p.Contains(addr) {
		return found, errors.Wrapf(ErrOutOfRange, "address %#x, range [%#x, %#x)", addr, p.base, p.End())
	}

	ok := false
	p.tree.DescendLessOrEqual(item[T]{base: addr}, func(i item[T]) bool {
		found = i.area
		ok = true
		return false
	})

	if !ok || addr-found.Base() >= found.Size() {
		panic(errors.AssertionFailedf("partition has no area covering %#x", addr))
	}

	return found, nil
}

// Next returns the area that immediately follows area, if any
func (p *Partition[T]) Next(area T) (T, bool) {
	end := area.Base() + area.Size()
	if end >= p.End() {
		var none T
		return none, false
	}

	next, ok := p.tree.Get(item[T]{base: end})
	if !ok {
		panic(errors.AssertionFailedf("partition has a gap at %#x", end))
	}
	return next.area, true
}

// Prev returns the area that immediately precedes area, if any
func (p *Partition[T]) Prev(area T) (T, bool) {
	var prev T
	if area.Base() <= p.base {
		return prev, false
	}

	ok := false
	p.tree.DescendLessOrEqual(item[T]{base: area.Base() - 1}, func(i item[T]) bool {
		prev = i.area
		ok = true
		return false
	})
	if !ok || prev.Base()+prev.Size() != area.Base() {
		panic(errors.AssertionFailedf("partition has a gap before %#x", area.Base()))
	}
	return prev, true
}

// Replace stores a new descriptor for an existing area. The descriptor must cover exactly the same span
// as the area it replaces; only the non-span fields may change.
func (p *Partition[T]) Replace(area T) {
	existing, ok := p.tree.Get(item[T]{base: area.Base()})
	if !ok || existing.area.Size() != area.Size() {
		panic(errors.AssertionFailedf("replacement area [%#x, +%#x) does not match an existing area", area.Base(), area.Size()))
	}

	p.tree.ReplaceOrInsert(item[T]{base: area.Base(), area: area})
}

// Split divides area at offset, which must fall strictly inside it, and returns both halves
func (p *Partition[T]) Split(area T, offset uint64) (T, T) {
	if offset == 0 || offset >= area.Size() {
		panic(errors.AssertionFailedf("cannot split area [%#x, +%#x) at offset %#x", area.Base(), area.Size(), offset))
	}

	left, right := area.Split(offset)
	if left.Base() != area.Base() || left.Size() != offset || right.Base() != area.Base()+offset || right.Size() != area.Size()-offset {
		panic(errors.AssertionFailedf("split of area [%#x, +%#x) at %#x produced the wrong spans", area.Base(), area.Size(), offset))
	}

	// the left half keeps the key of the area being split, so it overwrites it in place
	p.tree.ReplaceOrInsert(item[T]{base: left.Base(), area: left})
	p.tree.ReplaceOrInsert(item[T]{base: right.Base(), area: right})
	return left, right
}

// Carve isolates [addr, addr+size) as its own area and returns it so that the caller can modify it and
// store it back with Replace. The span must lie within a single existing area; otherwise ErrInvalidRange
// is returned and the partition is left untouched.
func (p *Partition[T]) Carve(addr, size uint64) (T, error) {
	area, err := p.Find(addr)
	if err != nil {
		return area, err
	}

	if size == 0 {
		return area, errors.Wrapf(ErrInvalidRange, "cannot carve an empty range at %#x", addr)
	}

	startInArea := addr - area.Base()
	endInArea := startInArea + size
	if endInArea < startInArea || endInArea > area.Size() {
		return area, errors.Wrapf(ErrInvalidRange, "range [%#x, +%#x) crosses the end of area [%#x, +%#x)", addr, size, area.Base(), area.Size())
	}

	if endInArea != area.Size() {
		area, _ = p.Split(area, endInArea)
	}
	if startInArea != 0 {
		_, area = p.Split(area, startInArea)
	}

	return area, nil
}

// MergeAdjacent absorbs neighbors of area into it for as long as they are compatible, and returns the
// resulting area. area must be the descriptor currently stored in the partition.
func (p *Partition[T]) MergeAdjacent(area T) T {
	stored, ok := p.tree.Get(item[T]{base: area.Base()})
	if !ok || stored.area.Size() != area.Size() {
		panic(errors.AssertionFailedf("area [%#x, +%#x) is not part of the partition", area.Base(), area.Size()))
	}

	for {
		prev, ok := p.Prev(area)
		if !ok || !prev.CanMerge(area) {
			break
		}

		p.tree.Delete(item[T]{base: area.Base()})
		area = prev.Absorb(area)
		p.tree.ReplaceOrInsert(item[T]{base: area.Base(), area: area})
	}

	for {
		next, ok := p.Next(area)
		if !ok || !area.CanMerge(next) {
			break
		}

		p.tree.Delete(item[T]{base: next.Base()})
		area = area.Absorb(next)
		p.tree.ReplaceOrInsert(item[T]{base: area.Base(), area: area})
	}

	return area
}

// SearchFree returns the lowest address at or after from, aligned to alignment, at which size bytes fit
// inside a single free area. from is clamped to the base of the partition.
func (p *Partition[T]) SearchFree(from, size, alignment uint64) (uint64, error) {
	return p.SearchFreeBelow(from, p.End(), size, alignment)
}

// SearchFreeBelow behaves like SearchFree, but the returned span must also end at or before limit
func (p *Partition[T]) SearchFreeBelow(from, limit, size, alignment uint64) (uint64, error) {
	memutils.DebugCheckPow2(alignment, "alignment")

	if from < p.base {
		from = p.base
	}
	if limit > p.End() {
		limit = p.End()
	}
	if size == 0 {
		return 0, errors.Wrapf(ErrInvalidRange, "cannot search for an empty range")
	}
	if from >= limit {
		return 0, errors.Wrapf(ErrOutOfMemory, "search start %#x is past the search limit %#x", from, limit)
	}

	start, _ := p.Find(from)

	var result uint64
	found := false
	p.tree.AscendGreaterOrEqual(item[T]{base: start.Base()}, func(i item[T]) bool {
		area := i.area
		if area.Base() >= limit {
			return false
		}
		if !area.IsFree() {
			return true
		}

		candidate := area.Base()
		if candidate < from {
			candidate = from
		}
		candidate = memutils.AlignUp(candidate, alignment)
		if candidate < area.Base() {
			// alignment wrapped around the top of the address space
			return false
		}

		areaEnd := area.Base() + area.Size()
		if areaEnd > limit {
			areaEnd = limit
		}
		if candidate < areaEnd && areaEnd-candidate >= size {
			result = candidate
			found = true
			return false
		}
		return true
	})

	if !found {
		return 0, errors.Wrapf(ErrOutOfMemory, "no free range of %#x bytes aligned to %#x in [%#x, %#x)", size, alignment, from, limit)
	}

	return result, nil
}

// Ascend calls visit for every area beginning with the one containing from, in address order,
// until visit returns false
func (p *Partition[T]) Ascend(from uint64, visit func(area T) bool) {
	if from < p.base {
		from = p.base
	}
	if from >= p.End() {
		return
	}

	start, _ := p.Find(from)
	p.tree.AscendGreaterOrEqual(item[T]{base: start.Base()}, func(i item[T]) bool {
		return visit(i.area)
	})
}

// VisitAllRegions will call the provided callback once for each area in the partition, stopping at the
// first error
func (p *Partition[T]) VisitAllRegions(visit func(area T) error) error {
	var err error
	p.tree.Ascend(func(i item[T]) bool {
		err = visit(i.area)
		return err == nil
	})
	return err
}

// Validate checks that the areas tile the governed range with no gaps, overlaps or empty areas and that
// no two neighbors were left unmerged
func (p *Partition[T]) Validate() error {
	nextBase := p.base
	var prev T
	hasPrev := false
	var err error

	p.tree.Ascend(func(i item[T]) bool {
		area := i.area
		if i.base != area.Base() {
			err = errors.Errorf("area keyed at %#x reports base %#x", i.base, area.Base())
			return false
		}
		if area.Size() == 0 {
			err = errors.Errorf("area at %#x is empty", area.Base())
			return false
		}
		if area.Base() != nextBase {
			err = errors.Errorf("area at %#x does not begin where the previous area ended (%#x)", area.Base(), nextBase)
			return false
		}
		if hasPrev && prev.CanMerge(area) {
			err = errors.Errorf("areas at %#x and %#x should have been merged", prev.Base(), area.Base())
			return false
		}

		nextBase = area.Base() + area.Size()
		prev = area
		hasPrev = true
		return true
	})
	if err != nil {
		return err
	}

	if nextBase != p.End() {
		return errors.Errorf("the areas end at %#x, but the partition ends at %#x", nextBase, p.End())
	}

	return nil
}

// SumFreeSize returns the number of bytes held by free areas
func (p *Partition[T]) SumFreeSize() uint64 {
	var free uint64
	p.tree.Ascend(func(i item[T]) bool {
		if i.area.IsFree() {
			free += i.area.Size()
		}
		return true
	})
	return free
}

// AddStatistics sums this partition's statistics into stats
func (p *Partition[T]) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.BlockBytes += p.size

	p.tree.Ascend(func(i item[T]) bool {
		if !i.area.IsFree() {
			stats.AllocationCount++
			stats.AllocationBytes += i.area.Size()
		}
		return true
	})
}

// AddDetailedStatistics sums this partition's statistics, including per-area size ranges, into stats
func (p *Partition[T]) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += p.size

	p.tree.Ascend(func(i item[T]) bool {
		if i.area.IsFree() {
			stats.AddUnusedRange(i.area.Size())
		} else {
			stats.AddAllocation(i.area.Size())
		}
		return true
	})
}

// BlockJsonData populates a json object with summary information about this partition
func (p *Partition[T]) BlockJsonData(json *jwriter.ObjectState) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	p.AddDetailedStatistics(&stats)

	json.Name("BaseAddress").String(fmt.Sprintf("%#x", p.base))
	json.Name("TotalBytes").Int(int(p.size))
	json.Name("UnusedBytes").Int(int(p.size - stats.AllocationBytes))
	json.Name("Allocations").Int(stats.AllocationCount)
	json.Name("UnusedRanges").Int(stats.UnusedRangeCount)
}
