package vmm

import (
	"github.com/cockroachdb/errors"
	"github.com/kestrel-emu/vmm/hostmem"
	"github.com/kestrel-emu/vmm/memutils"
	"github.com/kestrel-emu/vmm/vmm/internal/utils"
	"golang.org/x/exp/slog"
)

// MemoryManager owns the guest's direct memory pool and virtual address space, and keeps the host
// address space in step with them. Every public method is safe for concurrent use unless the manager
// was created with CreateExternallySynchronized.
type MemoryManager struct {
	logger      *slog.Logger
	host        hostmem.AddressSpace
	createFlags CreateFlags
	callbacks   *residencyCallbacks

	mutex          utils.OptionalMutex
	direct         *DirectMemoryPool
	virtual        *VirtualAddressSpace
	flexibleUsage  uint64
	flexibleBudget uint64
}

type mapRequest struct {
	MapInfo
	kind MemoryKind

	hasPhys bool
	phys    uint64

	hasFile    bool
	fd         uintptr
	fileOffset uint64
}

func (m *MemoryManager) logFailure(operation string, res Result, err error) {
	m.logger.Warn(operation+" failed", slog.String("Result", res.String()), slog.Any("Error", err))
}

func (m *MemoryManager) debugValidate() {
	memutils.DebugValidate(m.direct)
	memutils.DebugValidate(m.virtual)
}

func checkPlacement(size, alignment uint64) (uint64, Result, error) {
	if size == 0 {
		res, err := fail(InvalidArgument, "size must be nonzero")
		return 0, res, err
	}
	if size%hostmem.GuestPageSize != 0 {
		res, err := fail(InvalidArgument, "size %#x is not a multiple of the page size", size)
		return 0, res, err
	}

	if alignment == 0 {
		alignment = DefaultAlignment
	}
	err := memutils.CheckPow2(alignment, "alignment")
	if err != nil {
		res, err := fail(InvalidArgument, "%v", err)
		return 0, res, err
	}

	return max(alignment, hostmem.GuestPageSize), Success, nil
}

// place picks the address for a new reservation or mapping. A fixed request that exactly covers an
// existing mapping returns that mapping so that the caller can tear it down once nothing else can fail.
func (m *MemoryManager) place(addr, size, alignment uint64, flags MapFlags) (uint64, *VirtualMemoryArea, Result, error) {
	if flags&MapFixed == 0 {
		if addr == 0 {
			addr = m.virtual.Layout().SystemManaged.Base
		}
		addr = memutils.AlignUp(addr, alignment)
		if addr == 0 {
			res, err := fail(OutOfMemory, "placement hint overflows the address space")
			return 0, nil, res, err
		}

		found, err := m.virtual.SearchFree(addr, size, alignment)
		if err != nil {
			res := resultOf(err)
			return 0, nil, res, errors.Wrapf(res.ToError(), "%v", err)
		}
		return found, nil, Success, nil
	}

	if !memutils.IsAligned(addr, alignment) {
		res, err := fail(InvalidArgument, "fixed address %#x is not aligned to %#x", addr, alignment)
		return 0, nil, res, err
	}

	area, err := m.virtual.Find(addr)
	if err != nil {
		res, err := fail(OutOfRange, "%v", err)
		return 0, nil, res, err
	}

	if area.kind.IsMapping() {
		if area.base != addr || area.size != size {
			res, err := fail(InvalidRange, "fixed range [%#x, +%#x) overlaps the mapping [%#x, +%#x)", addr, size, area.base, area.size)
			return 0, nil, res, err
		}
		if flags&MapNoOverwrite != 0 {
			res, err := fail(InvalidRange, "fixed range [%#x, +%#x) is already mapped", addr, size)
			return 0, nil, res, err
		}
		return addr, &area, Success, nil
	}

	if !area.Contains(addr, size) {
		res, err := fail(InvalidRange, "fixed range [%#x, +%#x) does not fit in the area [%#x, +%#x)", addr, size, area.base, area.size)
		return 0, nil, res, err
	}

	return addr, nil, Success, nil
}

// ReserveVirtual claims a range of address space with no access and no host backing
func (m *MemoryManager) ReserveVirtual(info ReserveInfo) (uint64, Result, error) {
	m.logger.Debug("MemoryManager::ReserveVirtual",
		slog.Uint64("Address", info.Address),
		slog.Uint64("Size", info.Size),
		slog.Uint64("Alignment", info.Alignment),
		slog.String("Flags", info.Flags.String()),
	)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	addr, res, err := m.reserveLocked(info)
	if err != nil {
		m.logFailure("MemoryManager::ReserveVirtual", res, err)
	}
	return addr, res, err
}

func (m *MemoryManager) reserveLocked(info ReserveInfo) (uint64, Result, error) {
	alignment, res, err := checkPlacement(info.Size, info.Alignment)
	if err != nil {
		return 0, res, err
	}

	addr, existing, res, err := m.place(info.Address, info.Size, alignment, info.Flags)
	if err != nil {
		return 0, res, err
	}

	if existing != nil {
		res, err = m.unmapLocked(*existing, addr, info.Size)
		if err != nil {
			return 0, res, err
		}
	}

	_, err = m.virtual.Assign(addr, info.Size, func(area *VirtualMemoryArea) {
		*area = VirtualMemoryArea{
			base:          area.base,
			size:          area.size,
			zone:          area.zone,
			kind:          KindReserved,
			prot:          ProtNoAccess,
			disallowMerge: info.Flags&MapNoCoalesce != 0,
		}
	})
	if err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "reserving placed range [%#x, +%#x)", addr, info.Size))
	}

	m.debugValidate()
	return addr, Success, nil
}

// MapDirect maps the allocated direct memory at phys into the guest address space. Every byte of
// [phys, phys+Size) must belong to an allocation.
func (m *MemoryManager) MapDirect(info MapInfo, phys uint64) (uint64, Result, error) {
	m.logger.Debug("MemoryManager::MapDirect",
		slog.Uint64("Address", info.Address),
		slog.Uint64("Size", info.Size),
		slog.Uint64("Phys", phys),
		slog.String("Prot", info.Prot.String()),
		slog.String("Flags", info.Flags.String()),
	)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	var addr uint64
	var res Result
	var err error
	if phys%hostmem.GuestPageSize != 0 {
		res, err = fail(InvalidArgument, "direct memory address %#x is not page aligned", phys)
	} else if !m.direct.IsAllocated(phys, info.Size) {
		res, err = fail(InvalidArgument, "direct memory [%#x, +%#x) is not allocated", phys, info.Size)
	} else {
		addr, res, err = m.mapLocked(mapRequest{MapInfo: info, kind: KindDirect, hasPhys: true, phys: phys})
	}

	if err != nil {
		m.logFailure("MemoryManager::MapDirect", res, err)
	}
	return addr, res, err
}

// MapFlexible maps anonymous memory charged against the flexible memory budget
func (m *MemoryManager) MapFlexible(info MapInfo) (uint64, Result, error) {
	m.logger.Debug("MemoryManager::MapFlexible",
		slog.Uint64("Address", info.Address),
		slog.Uint64("Size", info.Size),
		slog.String("Prot", info.Prot.String()),
		slog.String("Flags", info.Flags.String()),
	)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	addr, res, err := m.mapLocked(mapRequest{MapInfo: info, kind: KindFlexible})
	if err != nil {
		m.logFailure("MemoryManager::MapFlexible", res, err)
	}
	return addr, res, err
}

// MapPooled maps anonymous memory for the guest's pooled memory interface. It is not charged against the
// flexible memory budget.
func (m *MemoryManager) MapPooled(info MapInfo) (uint64, Result, error) {
	m.logger.Debug("MemoryManager::MapPooled",
		slog.Uint64("Address", info.Address),
		slog.Uint64("Size", info.Size),
		slog.String("Prot", info.Prot.String()),
	)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	addr, res, err := m.mapLocked(mapRequest{MapInfo: info, kind: KindPoolAllocated})
	if err != nil {
		m.logFailure("MemoryManager::MapPooled", res, err)
	}
	return addr, res, err
}

// MapFile maps the file fd, beginning at offset, into the guest address space. The size is rounded up to
// a whole number of pages and the area is named "File".
func (m *MemoryManager) MapFile(info MapInfo, fd uintptr, offset uint64) (uint64, Result, error) {
	m.logger.Debug("MemoryManager::MapFile",
		slog.Uint64("Address", info.Address),
		slog.Uint64("Size", info.Size),
		slog.Uint64("Offset", offset),
		slog.Uint64("FD", uint64(fd)),
		slog.String("Prot", info.Prot.String()),
	)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	info.Size = memutils.AlignUp(info.Size, hostmem.GuestPageSize)
	info.Name = "File"

	var addr uint64
	var res Result
	var err error
	if offset%hostmem.GuestPageSize != 0 {
		res, err = fail(InvalidArgument, "file offset %#x is not page aligned", offset)
	} else {
		addr, res, err = m.mapLocked(mapRequest{MapInfo: info, kind: KindFile, hasFile: true, fd: fd, fileOffset: offset})
	}

	if err != nil {
		m.logFailure("MemoryManager::MapFile", res, err)
	}
	return addr, res, err
}

func (m *MemoryManager) mapLocked(req mapRequest) (uint64, Result, error) {
	err := req.Prot.Validate()
	if err != nil {
		return 0, InvalidArgument, err
	}

	alignment, res, err := checkPlacement(req.Size, req.Alignment)
	if err != nil {
		return 0, res, err
	}

	addr, existing, res, err := m.place(req.Address, req.Size, alignment, req.Flags)
	if err != nil {
		return 0, res, err
	}

	if req.kind == KindFlexible {
		usage := m.flexibleUsage
		if existing != nil && existing.kind == KindFlexible {
			usage -= existing.size
		}
		if usage+req.Size > m.flexibleBudget {
			res, err := fail(OutOfMemory, "mapping %#x bytes of flexible memory exceeds the budget (%#x of %#x in use)", req.Size, m.flexibleUsage, m.flexibleBudget)
			return 0, res, err
		}
	}

	if existing != nil {
		res, err = m.unmapLocked(*existing, addr, req.Size)
		if err != nil {
			return 0, res, err
		}
	}

	err = m.commitHost(req, addr, alignment)
	if err != nil {
		res := resultOf(err)
		return 0, res, errors.Wrapf(res.ToError(), "%v", err)
	}

	_, err = m.virtual.Assign(addr, req.Size, func(area *VirtualMemoryArea) {
		*area = VirtualMemoryArea{
			base:          area.base,
			size:          area.size,
			zone:          area.zone,
			kind:          req.kind,
			prot:          req.Prot,
			name:          req.Name,
			hasPhys:       req.hasPhys,
			physBase:      req.phys,
			hasFile:       req.hasFile,
			fd:            req.fd,
			fileOffset:    req.fileOffset,
			disallowMerge: req.Flags&MapNoCoalesce != 0,
		}
	})
	if err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "mapping placed range [%#x, +%#x)", addr, req.Size))
	}

	switch req.kind {
	case KindDirect:
		m.callbacks.Mapped(addr, req.Size)
	case KindFlexible:
		m.flexibleUsage += req.Size
	}

	m.debugValidate()
	return addr, Success, nil
}

// commitHost backs [addr, addr+Size) with host pages carrying the requested protection. On failure no
// host pages remain committed.
func (m *MemoryManager) commitHost(req mapRequest, addr, alignment uint64) error {
	if req.kind == KindFile {
		return m.host.MapFile(addr, req.Size, req.fileOffset, req.Prot.HostPermission(), req.fd)
	}

	var phys *uint64
	if req.hasPhys {
		phys = &req.phys
	}

	mapped, err := m.host.Map(addr, req.Size, alignment, phys, req.Executable)
	if err != nil {
		return err
	}
	if mapped != addr {
		panic(errors.AssertionFailedf("host mapped %#x when asked for %#x", mapped, addr))
	}

	committed := hostmem.PermissionReadWrite
	wanted := req.Prot.HostPermission()
	if req.Executable {
		committed |= hostmem.PermissionExecute
		wanted |= hostmem.PermissionExecute
	}
	if wanted == committed {
		return nil
	}

	err = m.host.Protect(addr, req.Size, wanted)
	if err != nil {
		unmapErr := m.host.Unmap(addr, req.Size, req.hasPhys)
		return errors.CombineErrors(err, unmapErr)
	}
	return nil
}

// Unmap returns a range to the free state, releasing any host pages behind it. The range must lie within
// a single reserved or mapped area.
func (m *MemoryManager) Unmap(addr, size uint64) (Result, error) {
	m.logger.Debug("MemoryManager::Unmap", slog.Uint64("Address", addr), slog.Uint64("Size", size))

	m.mutex.Lock()
	defer m.mutex.Unlock()

	res, err := m.unmapRange(addr, size)
	if err != nil {
		m.logFailure("MemoryManager::Unmap", res, err)
	}
	return res, err
}

func (m *MemoryManager) unmapRange(addr, size uint64) (Result, error) {
	if size == 0 || addr%hostmem.GuestPageSize != 0 || size%hostmem.GuestPageSize != 0 {
		return fail(InvalidArgument, "unmap range [%#x, +%#x) is empty or not page aligned", addr, size)
	}

	area, err := m.virtual.Find(addr)
	if err != nil {
		return fail(OutOfRange, "%v", err)
	}
	if area.IsFree() || !area.Contains(addr, size) {
		return fail(InvalidRange, "unmap range [%#x, +%#x) is not contained in a mapped area", addr, size)
	}

	return m.unmapLocked(area, addr, size)
}

// unmapLocked releases [addr, addr+size), which the caller has verified lies within area
func (m *MemoryManager) unmapLocked(area VirtualMemoryArea, addr, size uint64) (Result, error) {
	if area.kind == KindDirect {
		m.callbacks.Unmapped(addr, size)
	}

	if area.kind.IsMapping() {
		err := m.host.Unmap(addr, size, area.hasHostBacking())
		if err != nil {
			if area.kind == KindDirect {
				m.callbacks.Mapped(addr, size)
			}
			res := resultOf(err)
			return res, errors.Wrapf(res.ToError(), "%v", err)
		}
	}

	if area.kind == KindFlexible {
		m.flexibleUsage -= size
	}

	_, err := m.virtual.Release(addr, size)
	if err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "releasing validated range [%#x, +%#x)", addr, size))
	}

	m.debugValidate()
	return Success, nil
}

func (m *MemoryManager) findProtectable(addr, size uint64, prot Prot) (VirtualMemoryArea, Result, error) {
	err := prot.Validate()
	if err != nil {
		return VirtualMemoryArea{}, InvalidArgument, err
	}
	if size == 0 || addr%hostmem.GuestPageSize != 0 || size%hostmem.GuestPageSize != 0 {
		res, err := fail(InvalidArgument, "protect range [%#x, +%#x) is empty or not page aligned", addr, size)
		return VirtualMemoryArea{}, res, err
	}

	area, err := m.virtual.Find(addr)
	if err != nil {
		res, err := fail(OutOfRange, "%v", err)
		return VirtualMemoryArea{}, res, err
	}
	if area.IsFree() || !area.Contains(addr, size) {
		res, err := fail(InvalidRange, "protect range [%#x, +%#x) is not contained in a mapped area", addr, size)
		return VirtualMemoryArea{}, res, err
	}

	return area, Success, nil
}

// Protect changes the protection of a range, which must lie within a single reserved or mapped area
func (m *MemoryManager) Protect(addr, size uint64, prot Prot) (Result, error) {
	m.logger.Debug("MemoryManager::Protect",
		slog.Uint64("Address", addr),
		slog.Uint64("Size", size),
		slog.String("Prot", prot.String()),
	)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	res, err := m.protectLocked(addr, size, prot)
	if err != nil {
		m.logFailure("MemoryManager::Protect", res, err)
	}
	return res, err
}

func (m *MemoryManager) protectLocked(addr, size uint64, prot Prot) (Result, error) {
	area, res, err := m.findProtectable(addr, size, prot)
	if err != nil {
		return res, err
	}

	if area.kind.IsMapping() {
		err = m.host.Protect(addr, size, prot.HostPermission())
		if err != nil {
			res := resultOf(err)
			return res, errors.Wrapf(res.ToError(), "%v", err)
		}
	}

	_, err = m.virtual.Assign(addr, size, func(area *VirtualMemoryArea) {
		area.prot = prot
	})
	if err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "protecting validated range [%#x, +%#x)", addr, size))
	}

	m.debugValidate()
	return Success, nil
}

// ProtectWithType reclassifies a mapped range as kind and changes its protection. No host pages are
// remapped, so the new kind must be compatible with the existing backing: Direct requires a range that
// aliases direct memory and File requires a file-backed range.
func (m *MemoryManager) ProtectWithType(addr, size uint64, kind MemoryKind, prot Prot) (Result, error) {
	m.logger.Debug("MemoryManager::ProtectWithType",
		slog.Uint64("Address", addr),
		slog.Uint64("Size", size),
		slog.String("Kind", kind.String()),
		slog.String("Prot", prot.String()),
	)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	res, err := m.protectWithTypeLocked(addr, size, kind, prot)
	if err != nil {
		m.logFailure("MemoryManager::ProtectWithType", res, err)
	}
	return res, err
}

func (m *MemoryManager) protectWithTypeLocked(addr, size uint64, kind MemoryKind, prot Prot) (Result, error) {
	if !kind.IsMapping() {
		return fail(InvalidArgument, "cannot reclassify memory as %s", kind)
	}

	area, res, err := m.findProtectable(addr, size, prot)
	if err != nil {
		return res, err
	}
	if !area.kind.IsMapping() {
		return fail(InvalidRange, "range [%#x, +%#x) is reserved, not mapped", addr, size)
	}
	if kind == KindDirect && !area.hasPhys {
		return fail(InvalidArgument, "range [%#x, +%#x) does not alias direct memory", addr, size)
	}
	if kind == KindFile && !area.hasFile {
		return fail(InvalidArgument, "range [%#x, +%#x) is not backed by a file", addr, size)
	}

	enteringFlexible := kind == KindFlexible && area.kind != KindFlexible
	leavingFlexible := kind != KindFlexible && area.kind == KindFlexible
	if enteringFlexible && m.flexibleUsage+size > m.flexibleBudget {
		return fail(OutOfMemory, "reclassifying %#x bytes as flexible memory exceeds the budget (%#x of %#x in use)", size, m.flexibleUsage, m.flexibleBudget)
	}

	err = m.host.Protect(addr, size, prot.HostPermission())
	if err != nil {
		res := resultOf(err)
		return res, errors.Wrapf(res.ToError(), "%v", err)
	}

	switch {
	case kind == KindDirect && area.kind != KindDirect:
		m.callbacks.Mapped(addr, size)
	case kind != KindDirect && area.kind == KindDirect:
		m.callbacks.Unmapped(addr, size)
	}

	if enteringFlexible {
		m.flexibleUsage += size
	} else if leavingFlexible {
		m.flexibleUsage -= size
	}

	_, err = m.virtual.Assign(addr, size, func(area *VirtualMemoryArea) {
		area.kind = kind
		area.prot = prot
	})
	if err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "reclassifying validated range [%#x, +%#x)", addr, size))
	}

	m.debugValidate()
	return Success, nil
}

// AvailableFlexibleSize returns how many more bytes of flexible memory may be mapped
func (m *MemoryManager) AvailableFlexibleSize() uint64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.flexibleBudget - m.flexibleUsage
}

// FlexibleUsage returns how many bytes of flexible memory are currently mapped
func (m *MemoryManager) FlexibleUsage() uint64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.flexibleUsage
}

// Layout returns the guest address ranges the manager governs
func (m *MemoryManager) Layout() hostmem.Layout {
	return m.virtual.Layout()
}
