package vmm

import (
	"github.com/cockroachdb/errors"
	"github.com/kestrel-emu/vmm/hostmem"
	"golang.org/x/exp/slog"
)

// QueryVirtual returns a snapshot of the reserved or mapped area containing addr. With QueryFindNext, a
// query against free memory reports the area that follows it instead.
func (m *MemoryManager) QueryVirtual(addr uint64, flags QueryFlags) (VirtualQueryInfo, Result, error) {
	m.logger.Debug("MemoryManager::QueryVirtual", slog.Uint64("Address", addr), slog.Int("Flags", int(flags)))

	m.mutex.Lock()
	defer m.mutex.Unlock()

	area, err := m.virtual.Find(addr)
	if err != nil {
		res, err := fail(OutOfRange, "%v", err)
		return VirtualQueryInfo{}, res, err
	}

	if area.IsFree() && flags&QueryFindNext != 0 {
		next, ok := m.virtual.Next(area)
		if ok {
			area = next
		}
	}

	if area.IsFree() {
		res, err := fail(PermissionDenied, "virtual address %#x is not mapped", addr)
		m.logFailure("MemoryManager::QueryVirtual", res, err)
		return VirtualQueryInfo{}, res, err
	}

	info := VirtualQueryInfo{
		Start:       area.base,
		End:         area.End(),
		Prot:        area.prot,
		Kind:        area.kind,
		IsFlexible:  area.kind == KindFlexible,
		IsDirect:    area.kind == KindDirect,
		IsPooled:    area.kind == KindPoolAllocated,
		IsCommitted: !area.IsFree(),
		Name:        area.name,
	}
	if len(info.Name) > MaxNameLength {
		info.Name = info.Name[:MaxNameLength]
	}

	if area.hasPhys {
		direct, err := m.direct.Find(area.physBase)
		if err != nil || direct.IsFree() {
			panic(errors.AssertionFailedf("virtual area at %#x aliases unallocated direct memory %#x", area.base, area.physBase))
		}
		info.Offset = area.physBase
		info.MemoryType = direct.MemoryType()
	}

	return info, Success, nil
}

// QueryProtection returns the span and protection of the reserved or mapped area containing addr
func (m *MemoryManager) QueryProtection(addr uint64) (ProtectionInfo, Result, error) {
	m.logger.Debug("MemoryManager::QueryProtection", slog.Uint64("Address", addr))

	m.mutex.Lock()
	defer m.mutex.Unlock()

	area, err := m.virtual.Find(addr)
	if err != nil {
		res, err := fail(OutOfRange, "%v", err)
		return ProtectionInfo{}, res, err
	}
	if area.IsFree() {
		res, err := fail(PermissionDenied, "virtual address %#x is not mapped", addr)
		return ProtectionInfo{}, res, err
	}

	return ProtectionInfo{
		Start: area.base,
		End:   area.End(),
		Prot:  area.prot,
	}, Success, nil
}

// NameVirtualRange attaches a debug name to a range, which must lie within a single reserved or mapped
// area. No host pages are affected.
func (m *MemoryManager) NameVirtualRange(addr, size uint64, name string) (Result, error) {
	m.logger.Debug("MemoryManager::NameVirtualRange",
		slog.Uint64("Address", addr),
		slog.Uint64("Size", size),
		slog.String("Name", name),
	)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if size == 0 || addr%hostmem.GuestPageSize != 0 || size%hostmem.GuestPageSize != 0 {
		return fail(InvalidArgument, "name range [%#x, +%#x) is empty or not page aligned", addr, size)
	}

	area, err := m.virtual.Find(addr)
	if err != nil {
		return fail(OutOfRange, "%v", err)
	}
	if area.IsFree() {
		return fail(PermissionDenied, "virtual address %#x is not mapped", addr)
	}
	if !area.Contains(addr, size) {
		return fail(InvalidRange, "range [%#x, +%#x) is not contained in the area [%#x, +%#x)", addr, size, area.base, area.size)
	}

	_, err = m.virtual.Assign(addr, size, func(area *VirtualMemoryArea) {
		area.name = name
	})
	if err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "naming validated range [%#x, +%#x)", addr, size))
	}

	m.debugValidate()
	return Success, nil
}
