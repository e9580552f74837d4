package vmm

import (
	"github.com/cockroachdb/errors"
	"github.com/kestrel-emu/vmm/memutils"
	"golang.org/x/exp/slog"
)

// AllocateDirect allocates a range of the direct memory pool and returns its physical address. The
// allocation is placed at the lowest suitably aligned address within the search range.
func (m *MemoryManager) AllocateDirect(info DirectAllocateInfo) (uint64, Result, error) {
	m.logger.Debug("MemoryManager::AllocateDirect",
		slog.Uint64("SearchStart", info.SearchStart),
		slog.Uint64("SearchEnd", info.SearchEnd),
		slog.Uint64("Size", info.Size),
		slog.Uint64("Alignment", info.Alignment),
		slog.Int("MemoryType", int(info.MemoryType)),
	)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	addr, res, err := m.allocateDirectLocked(info)
	if err != nil {
		m.logFailure("MemoryManager::AllocateDirect", res, err)
	}
	return addr, res, err
}

func (m *MemoryManager) allocateDirectLocked(info DirectAllocateInfo) (uint64, Result, error) {
	if info.Size == 0 {
		res, err := fail(InvalidArgument, "size must be nonzero")
		return 0, res, err
	}

	alignment := info.Alignment
	if alignment == 0 {
		alignment = DefaultAlignment
	}
	err := memutils.CheckPow2(alignment, "alignment")
	if err != nil {
		res, err := fail(InvalidArgument, "%v", err)
		return 0, res, err
	}

	searchEnd := info.SearchEnd
	if searchEnd == 0 || searchEnd > m.direct.Size() {
		searchEnd = m.direct.Size()
	}
	if info.SearchStart >= searchEnd {
		res, err := fail(InvalidArgument, "search range [%#x, %#x) is empty", info.SearchStart, searchEnd)
		return 0, res, err
	}

	addr, err := m.direct.Allocate(info.SearchStart, searchEnd, info.Size, alignment, info.MemoryType)
	if err != nil {
		res := resultOf(err)
		return 0, res, errors.Wrapf(res.ToError(), "%v", err)
	}

	m.debugValidate()
	return addr, Success, nil
}

// FreeDirect releases the direct memory allocation at exactly [phys, phys+size). Every virtual mapping
// that aliases the released memory is unmapped first.
func (m *MemoryManager) FreeDirect(phys, size uint64) (Result, error) {
	m.logger.Debug("MemoryManager::FreeDirect", slog.Uint64("Phys", phys), slog.Uint64("Size", size))

	m.mutex.Lock()
	defer m.mutex.Unlock()

	res, err := m.freeDirectLocked(phys, size)
	if err != nil {
		m.logFailure("MemoryManager::FreeDirect", res, err)
	}
	return res, err
}

type aliasRange struct {
	addr uint64
	size uint64
}

func (m *MemoryManager) freeDirectLocked(phys, size uint64) (Result, error) {
	if size == 0 {
		return fail(InvalidArgument, "size must be nonzero")
	}

	area, err := m.direct.Find(phys)
	if err != nil {
		return fail(OutOfRange, "%v", err)
	}
	if area.IsFree() {
		return fail(NotFound, "direct memory at %#x is not allocated", phys)
	}
	if area.Base() != phys || area.Size() != size {
		return fail(InvalidRange, "[%#x, +%#x) does not match the allocation [%#x, +%#x)", phys, size, area.Base(), area.Size())
	}

	end := phys + size
	var aliases []aliasRange
	_ = m.virtual.VisitAllAreas(func(vma VirtualMemoryArea) error {
		if !vma.hasPhys {
			return nil
		}

		lo := max(vma.physBase, phys)
		hi := min(vma.physBase+vma.size, end)
		if lo < hi {
			aliases = append(aliases, aliasRange{addr: vma.base + (lo - vma.physBase), size: hi - lo})
		}
		return nil
	})

	for _, alias := range aliases {
		m.logger.Info("Unmapping direct memory alias",
			slog.Uint64("Address", alias.addr),
			slog.Uint64("Size", alias.size),
			slog.Uint64("Phys", phys),
		)

		vma, err := m.virtual.Find(alias.addr)
		if err != nil {
			panic(errors.NewAssertionErrorWithWrappedErrf(err, "direct memory alias at %#x vanished", alias.addr))
		}

		res, err := m.unmapLocked(vma, alias.addr, alias.size)
		if err != nil {
			return res, err
		}
	}

	m.direct.Free(phys, size)

	m.debugValidate()
	return Success, nil
}

// QueryDirectAllocated returns the allocation containing phys. If findNext is set and phys is free, the
// next allocation after phys is returned instead.
func (m *MemoryManager) QueryDirectAllocated(phys uint64, findNext bool) (DirectQueryInfo, Result, error) {
	m.logger.Debug("MemoryManager::QueryDirectAllocated", slog.Uint64("Phys", phys), slog.Bool("FindNext", findNext))

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if phys >= m.direct.Size() {
		res, err := fail(OutOfRange, "direct memory address %#x is outside of the %#x byte pool", phys, m.direct.Size())
		return DirectQueryInfo{}, res, err
	}

	area, err := m.direct.QueryAllocated(phys, findNext)
	if err != nil {
		return DirectQueryInfo{}, NotFound, err
	}

	return DirectQueryInfo{
		Start:      area.Base(),
		End:        area.End(),
		MemoryType: area.MemoryType(),
	}, Success, nil
}

// DirectMemoryType returns the memory type and span of the allocation containing phys
func (m *MemoryManager) DirectMemoryType(phys uint64) (DirectQueryInfo, Result, error) {
	m.logger.Debug("MemoryManager::DirectMemoryType", slog.Uint64("Phys", phys))

	m.mutex.Lock()
	defer m.mutex.Unlock()

	area, err := m.direct.Find(phys)
	if err != nil {
		res, err := fail(OutOfRange, "%v", err)
		return DirectQueryInfo{}, res, err
	}
	if area.IsFree() {
		res, err := fail(NotFound, "direct memory at %#x is not allocated", phys)
		return DirectQueryInfo{}, res, err
	}

	return DirectQueryInfo{
		Start:      area.Base(),
		End:        area.End(),
		MemoryType: area.MemoryType(),
	}, Success, nil
}

// QueryLargestFreeDirect returns the largest free span of direct memory within [searchStart, searchEnd)
// once aligned. A size of 0 means there is none, which is not an error. A searchEnd of 0 means the end
// of the pool.
func (m *MemoryManager) QueryLargestFreeDirect(searchStart, searchEnd, alignment uint64) (uint64, uint64, Result, error) {
	m.logger.Debug("MemoryManager::QueryLargestFreeDirect",
		slog.Uint64("SearchStart", searchStart),
		slog.Uint64("SearchEnd", searchEnd),
		slog.Uint64("Alignment", alignment),
	)

	err := memutils.CheckPow2(alignment, "alignment")
	if err != nil {
		res, err := fail(InvalidArgument, "%v", err)
		return 0, 0, res, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if searchEnd == 0 {
		searchEnd = m.direct.Size()
	}

	addr, size := m.direct.QueryLargestFree(searchStart, searchEnd, alignment)
	return addr, size, Success, nil
}

// DirectMemorySize returns the size of the direct memory pool
func (m *MemoryManager) DirectMemorySize() uint64 {
	return m.direct.Size()
}
