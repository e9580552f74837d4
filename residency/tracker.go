package residency

import (
	"cmp"
	"slices"
	"sync"

	"github.com/dolthub/swiss"
	"github.com/kestrel-emu/vmm/vmm"
	"golang.org/x/exp/slog"
)

type span struct {
	base uint64
	size uint64
}

func (s span) end() uint64 { return s.base + s.size }

// Tracker records which guest virtual ranges alias direct memory and must therefore be visible to the
// GPU. It is driven by a MemoryManager through the callbacks returned from Callbacks. Notifications that
// do not line up with what the tracker already knows are logged and otherwise ignored.
type Tracker struct {
	logger *slog.Logger

	mutex    sync.Mutex
	ranges   *swiss.Map[uint64, uint64]
	resident uint64
}

func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{
		logger: logger,
		ranges: swiss.NewMap[uint64, uint64](16),
	}
}

// Callbacks returns residency callbacks that forward a MemoryManager's notifications to this tracker
func (t *Tracker) Callbacks() *vmm.ResidencyCallbackOptions {
	return &vmm.ResidencyCallbackOptions{
		Mapped: func(manager *vmm.MemoryManager, vaddr, size uint64, userData any) {
			t.MakeResident(vaddr, size)
		},
		Unmapped: func(manager *vmm.MemoryManager, vaddr, size uint64, userData any) {
			t.Evict(vaddr, size)
		},
	}
}

func (t *Tracker) overlapping(base, end uint64) []span {
	var found []span
	t.ranges.Iter(func(b uint64, s uint64) bool {
		if b < end && base < b+s {
			found = append(found, span{base: b, size: s})
		}
		return false
	})

	slices.SortFunc(found, func(a, b span) int {
		return cmp.Compare(a.base, b.base)
	})
	return found
}

// MakeResident records [vaddr, vaddr+size) as resident
func (t *Tracker) MakeResident(vaddr, size uint64) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if size == 0 {
		return
	}

	existing := t.overlapping(vaddr, vaddr+size)
	if len(existing) > 0 {
		t.logger.Warn("Residency::MakeResident range is already resident",
			slog.Uint64("Address", vaddr),
			slog.Uint64("Size", size),
			slog.Uint64("ExistingAddress", existing[0].base),
			slog.Uint64("ExistingSize", existing[0].size),
		)
		return
	}

	t.ranges.Put(vaddr, size)
	t.resident += size
	t.logger.Debug("Residency::MakeResident", slog.Uint64("Address", vaddr), slog.Uint64("Size", size))
}

// Evict removes [vaddr, vaddr+size) from the resident set. The range may cover parts of several
// resident ranges; whatever lies outside of it stays resident.
func (t *Tracker) Evict(vaddr, size uint64) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	end := vaddr + size
	var evicted uint64
	for _, s := range t.overlapping(vaddr, end) {
		t.ranges.Delete(s.base)

		if s.base < vaddr {
			t.ranges.Put(s.base, vaddr-s.base)
		}
		if s.end() > end {
			t.ranges.Put(end, s.end()-end)
		}

		evicted += min(s.end(), end) - max(s.base, vaddr)
	}

	t.resident -= evicted
	if evicted != size {
		t.logger.Warn("Residency::Evict range was not fully resident",
			slog.Uint64("Address", vaddr),
			slog.Uint64("Size", size),
			slog.Uint64("Evicted", evicted),
		)
		return
	}

	t.logger.Debug("Residency::Evict", slog.Uint64("Address", vaddr), slog.Uint64("Size", size))
}

// Contains reports whether every byte of [vaddr, vaddr+size) is resident
func (t *Tracker) Contains(vaddr, size uint64) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	next := vaddr
	end := vaddr + size
	for _, s := range t.overlapping(vaddr, end) {
		if s.base > next {
			return false
		}
		next = max(next, s.end())
	}
	return next >= end
}

// ResidentBytes returns the number of resident bytes
func (t *Tracker) ResidentBytes() uint64 {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.resident
}

// Count returns the number of disjoint resident ranges being tracked
func (t *Tracker) Count() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.ranges.Count()
}
