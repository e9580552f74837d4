package vmm_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/kestrel-emu/vmm/hostmem"
	"github.com/kestrel-emu/vmm/residency"
	"github.com/kestrel-emu/vmm/vmm"
	"github.com/stretchr/testify/require"
)

func TestMapFlexibleUnmapRestoresUsage(t *testing.T) {
	manager, host := readyManager(t, vmm.CreateOptions{})

	before := manager.FlexibleUsage()

	addr, res, err := manager.MapFlexible(vmm.MapInfo{Size: 65536, Prot: vmm.ProtCpuReadWrite})
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, testLayout.SystemManaged.Base, addr)
	require.Equal(t, before+65536, manager.FlexibleUsage())
	require.True(t, host.IsCommitted(addr, 65536))

	info, res, err := manager.QueryVirtual(addr, 0)
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, vmm.KindFlexible, info.Kind)
	require.True(t, info.IsFlexible)
	require.True(t, info.IsCommitted)

	res, err = manager.Unmap(addr, 65536)
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, before, manager.FlexibleUsage())
	require.False(t, host.IsCommitted(addr, page))

	_, res, err = manager.QueryVirtual(addr, 0)
	requireResult(t, vmm.PermissionDenied, res, err)
}

func TestFlexibleBudget(t *testing.T) {
	manager, _ := readyManager(t, vmm.CreateOptions{FlexibleMemorySize: 4 * page})

	addr, res, err := manager.MapFlexible(vmm.MapInfo{Size: 4 * page, Prot: vmm.ProtCpuRead})
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, uint64(0), manager.AvailableFlexibleSize())

	_, res, err = manager.MapFlexible(vmm.MapInfo{Size: page, Prot: vmm.ProtCpuRead})
	requireResult(t, vmm.OutOfMemory, res, err)

	// pooled memory draws from no budget
	_, res, err = manager.MapPooled(vmm.MapInfo{Size: 8 * page, Prot: vmm.ProtCpuReadWrite})
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, uint64(0), manager.AvailableFlexibleSize())

	res, err = manager.Unmap(addr+page, page)
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, page, manager.AvailableFlexibleSize())

	// replacing a flexible mapping in place is credited with the old mapping's size
	_, res, err = manager.MapFlexible(vmm.MapInfo{Address: addr + 2*page, Size: 2 * page, Prot: vmm.ProtCpuReadWrite, Flags: vmm.MapFixed})
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, 3*page, manager.FlexibleUsage())
}

func TestMapRejectsBadArguments(t *testing.T) {
	manager, _ := readyManager(t, vmm.CreateOptions{})

	_, res, err := manager.MapFlexible(vmm.MapInfo{Size: 0, Prot: vmm.ProtCpuRead})
	requireResult(t, vmm.InvalidArgument, res, err)

	_, res, err = manager.MapFlexible(vmm.MapInfo{Size: page + 0x1000, Prot: vmm.ProtCpuRead})
	requireResult(t, vmm.InvalidArgument, res, err)

	_, res, err = manager.MapFlexible(vmm.MapInfo{Size: page, Alignment: 3 * page, Prot: vmm.ProtCpuRead})
	requireResult(t, vmm.InvalidArgument, res, err)

	_, res, err = manager.MapFlexible(vmm.MapInfo{Size: page, Prot: vmm.Prot(0x100)})
	requireResult(t, vmm.InvalidArgument, res, err)

	// a hint past the end of the address space leaves nowhere to search
	_, res, err = manager.ReserveVirtual(vmm.ReserveInfo{Address: testLayout.End(), Size: page})
	requireResult(t, vmm.OutOfMemory, res, err)

	_, res, err = manager.ReserveVirtual(vmm.ReserveInfo{Size: testLayout.User.Size + page})
	requireResult(t, vmm.OutOfMemory, res, err)

	require.Equal(t, uint64(0), manager.FlexibleUsage())
}

func TestMapHonorsAlignmentAndHint(t *testing.T) {
	manager, _ := readyManager(t, vmm.CreateOptions{})

	addr, res, err := manager.ReserveVirtual(vmm.ReserveInfo{Address: testLayout.SystemManaged.Base + page, Size: page, Alignment: 0x10000})
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, testLayout.SystemManaged.Base+0x10000, addr)

	addr, res, err = manager.MapPooled(vmm.MapInfo{Address: testLayout.SystemReserved.Base, Size: 2 * page, Prot: vmm.ProtCpuRead})
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, testLayout.SystemReserved.Base, addr)

	info, res, err := manager.QueryVirtual(addr, 0)
	requireResult(t, vmm.Success, res, err)
	require.True(t, info.IsPooled)
}

func TestProtectRejectsUnknownBits(t *testing.T) {
	manager, host := readyManager(t, vmm.CreateOptions{})

	addr, res, err := manager.MapFlexible(vmm.MapInfo{Size: 2 * page, Prot: vmm.ProtCpuRead})
	requireResult(t, vmm.Success, res, err)

	perms, ok := host.Permission(addr)
	require.True(t, ok)
	require.Equal(t, hostmem.PermissionRead, perms)

	res, err = manager.Protect(addr, 2*page, vmm.Prot(0xFFFFFFFF))
	requireResult(t, vmm.InvalidArgument, res, err)

	info, res, err := manager.QueryProtection(addr)
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, vmm.ProtCpuRead, info.Prot)
	require.Equal(t, addr+2*page, info.End)

	res, err = manager.Protect(addr+page, page, vmm.ProtCpuReadWrite)
	requireResult(t, vmm.Success, res, err)

	info, res, err = manager.QueryProtection(addr + page)
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, vmm.ProtectionInfo{Start: addr + page, End: addr + 2*page, Prot: vmm.ProtCpuReadWrite}, info)

	perms, _ = host.Permission(addr + page)
	require.Equal(t, hostmem.PermissionReadWrite, perms)
	perms, _ = host.Permission(addr)
	require.Equal(t, hostmem.PermissionRead, perms)

	// the split pages are separate areas, so a range spanning both is rejected
	res, err = manager.Protect(addr, 2*page, vmm.ProtCpuRead)
	requireResult(t, vmm.InvalidRange, res, err)

	// restoring the second page's protection merges the areas again
	res, err = manager.Protect(addr+page, page, vmm.ProtCpuRead)
	requireResult(t, vmm.Success, res, err)
	info, res, err = manager.QueryProtection(addr + page)
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, vmm.ProtectionInfo{Start: addr, End: addr + 2*page, Prot: vmm.ProtCpuRead}, info)

	res, err = manager.Protect(addr+page, 2*page, vmm.ProtCpuRead)
	requireResult(t, vmm.InvalidRange, res, err)

	res, err = manager.Protect(addr+2*page, page, vmm.ProtCpuRead)
	requireResult(t, vmm.InvalidRange, res, err)

	_, res, err = manager.QueryProtection(addr + 2*page)
	requireResult(t, vmm.PermissionDenied, res, err)
}

func TestFixedMappingExactness(t *testing.T) {
	manager, _ := readyManager(t, vmm.CreateOptions{})

	base := uint64(0x200000)
	addr, res, err := manager.ReserveVirtual(vmm.ReserveInfo{Address: base, Size: 4 * page, Flags: vmm.MapFixed})
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, base, addr)

	info, res, err := manager.QueryVirtual(base, 0)
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, vmm.KindReserved, info.Kind)
	require.Equal(t, base+4*page, info.End)
	require.True(t, info.IsCommitted)

	addr, res, err = manager.MapFlexible(vmm.MapInfo{Address: base + page, Size: 2 * page, Prot: vmm.ProtCpuRead, Flags: vmm.MapFixed})
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, base+page, addr)

	info, res, err = manager.QueryVirtual(base+page, 0)
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, base+page, info.Start)
	require.Equal(t, base+3*page, info.End)
	require.Equal(t, vmm.KindFlexible, info.Kind)
	require.Equal(t, vmm.ProtCpuRead, info.Prot)

	before := manager.BuildStatsString()

	// overlaps part of the flexible mapping
	_, res, err = manager.MapFlexible(vmm.MapInfo{Address: base + 2*page, Size: 2 * page, Prot: vmm.ProtCpuRead, Flags: vmm.MapFixed})
	requireResult(t, vmm.InvalidRange, res, err)

	_, res, err = manager.MapFlexible(vmm.MapInfo{Address: base + page, Size: 2 * page, Prot: vmm.ProtCpuRead, Flags: vmm.MapFixed | vmm.MapNoOverwrite})
	requireResult(t, vmm.InvalidRange, res, err)

	_, res, err = manager.MapFlexible(vmm.MapInfo{Address: base + 0x1000, Size: page, Prot: vmm.ProtCpuRead, Flags: vmm.MapFixed})
	requireResult(t, vmm.InvalidArgument, res, err)

	// runs from the free tail of the system-managed zone into the system-reserved zone
	_, res, err = manager.MapFlexible(vmm.MapInfo{Address: testLayout.SystemReserved.Base - page, Size: 2 * page, Prot: vmm.ProtCpuRead, Flags: vmm.MapFixed})
	requireResult(t, vmm.InvalidRange, res, err)

	_, res, err = manager.MapFlexible(vmm.MapInfo{Address: testLayout.End(), Size: page, Prot: vmm.ProtCpuRead, Flags: vmm.MapFixed})
	requireResult(t, vmm.OutOfRange, res, err)

	require.Equal(t, before, manager.BuildStatsString())

	// an exact fixed request replaces the mapping
	addr, res, err = manager.MapFlexible(vmm.MapInfo{Address: base + page, Size: 2 * page, Prot: vmm.ProtCpuReadWrite, Flags: vmm.MapFixed})
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, base+page, addr)
	require.Equal(t, 2*page, manager.FlexibleUsage())

	info, res, err = manager.QueryVirtual(base+page, 0)
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, vmm.ProtCpuReadWrite, info.Prot)
	require.Equal(t, base+3*page, info.End)
}

func TestNoCoalesce(t *testing.T) {
	manager, _ := readyManager(t, vmm.CreateOptions{})

	base := testLayout.User.Base
	for _, offset := range []uint64{0, 2 * page} {
		_, res, err := manager.ReserveVirtual(vmm.ReserveInfo{Address: base + offset, Size: 2 * page, Flags: vmm.MapFixed | vmm.MapNoCoalesce})
		requireResult(t, vmm.Success, res, err)
	}

	info, res, err := manager.QueryVirtual(base, 0)
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, base+2*page, info.End)

	base = testLayout.SystemReserved.Base
	for _, offset := range []uint64{0, 2 * page} {
		_, res, err := manager.ReserveVirtual(vmm.ReserveInfo{Address: base + offset, Size: 2 * page, Flags: vmm.MapFixed})
		requireResult(t, vmm.Success, res, err)
	}

	info, res, err = manager.QueryVirtual(base, 0)
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, base+4*page, info.End)

	// unmapping part of a reservation releases no host pages
	res, err = manager.Unmap(base+page, 2*page)
	requireResult(t, vmm.Success, res, err)

	info, res, err = manager.QueryVirtual(base+page, vmm.QueryFindNext)
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, base+3*page, info.Start)
}

func TestQueryVirtual(t *testing.T) {
	manager, _ := readyManager(t, vmm.CreateOptions{})

	_, res, err := manager.QueryVirtual(testLayout.SystemManaged.Base, 0)
	requireResult(t, vmm.PermissionDenied, res, err)

	// the next area is the free system-reserved zone
	_, res, err = manager.QueryVirtual(testLayout.SystemManaged.Base, vmm.QueryFindNext)
	requireResult(t, vmm.PermissionDenied, res, err)

	_, res, err = manager.QueryVirtual(testLayout.End(), 0)
	requireResult(t, vmm.OutOfRange, res, err)

	name := strings.Repeat("n", vmm.MaxNameLength+8)
	addr, res, err := manager.MapFlexible(vmm.MapInfo{Address: testLayout.User.Base + 4*page, Size: page, Prot: vmm.ProtCpuRead | vmm.ProtGpuRead, Name: name})
	requireResult(t, vmm.Success, res, err)

	info, res, err := manager.QueryVirtual(testLayout.User.Base, vmm.QueryFindNext)
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, addr, info.Start)
	require.Equal(t, name[:vmm.MaxNameLength], info.Name)
	require.Equal(t, vmm.ProtCpuRead|vmm.ProtGpuRead, info.Prot)

	_, res, err = manager.QueryVirtual(testLayout.User.Base, 0)
	requireResult(t, vmm.PermissionDenied, res, err)
}

func TestNameVirtualRange(t *testing.T) {
	manager, _ := readyManager(t, vmm.CreateOptions{})

	addr, res, err := manager.ReserveVirtual(vmm.ReserveInfo{Size: 4 * page})
	requireResult(t, vmm.Success, res, err)

	res, err = manager.NameVirtualRange(addr+page, page, "stack")
	requireResult(t, vmm.Success, res, err)

	info, res, err := manager.QueryVirtual(addr+page, 0)
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, "stack", info.Name)
	require.Equal(t, addr+page, info.Start)
	require.Equal(t, addr+2*page, info.End)

	info, res, err = manager.QueryVirtual(addr, 0)
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, "", info.Name)

	// identical names coalesce
	res, err = manager.NameVirtualRange(addr, page, "stack")
	requireResult(t, vmm.Success, res, err)
	info, res, err = manager.QueryVirtual(addr, 0)
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, addr+2*page, info.End)

	res, err = manager.NameVirtualRange(addr+0x1000, page, "stack")
	requireResult(t, vmm.InvalidArgument, res, err)

	res, err = manager.NameVirtualRange(addr+3*page, 2*page, "stack")
	requireResult(t, vmm.InvalidRange, res, err)

	res, err = manager.NameVirtualRange(addr+4*page, page, "stack")
	requireResult(t, vmm.PermissionDenied, res, err)
}

func TestProtectWithType(t *testing.T) {
	tracker := residency.NewTracker(testLogger())
	manager, _ := readyManager(t, vmm.CreateOptions{ResidencyCallbacks: tracker.Callbacks()})

	flexible, res, err := manager.MapFlexible(vmm.MapInfo{Size: 2 * page, Prot: vmm.ProtCpuReadWrite})
	requireResult(t, vmm.Success, res, err)

	res, err = manager.ProtectWithType(flexible, 2*page, vmm.KindDirect, vmm.ProtCpuRead)
	requireResult(t, vmm.InvalidArgument, res, err)

	res, err = manager.ProtectWithType(flexible, page, vmm.KindReserved, vmm.ProtCpuRead)
	requireResult(t, vmm.InvalidArgument, res, err)

	res, err = manager.ProtectWithType(flexible, page, vmm.KindPoolAllocated, vmm.ProtCpuRead)
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, page, manager.FlexibleUsage())

	info, res, err := manager.QueryVirtual(flexible, 0)
	requireResult(t, vmm.Success, res, err)
	require.True(t, info.IsPooled)
	require.Equal(t, vmm.ProtCpuRead, info.Prot)

	phys, res, err := manager.AllocateDirect(vmm.DirectAllocateInfo{Size: page})
	requireResult(t, vmm.Success, res, err)
	direct, res, err := manager.MapDirect(vmm.MapInfo{Size: page, Prot: vmm.ProtGpuReadWrite}, phys)
	requireResult(t, vmm.Success, res, err)
	require.True(t, tracker.Contains(direct, page))

	res, err = manager.ProtectWithType(direct, page, vmm.KindFlexible, vmm.ProtCpuRead)
	requireResult(t, vmm.Success, res, err)
	require.False(t, tracker.Contains(direct, page))
	require.Equal(t, 2*page, manager.FlexibleUsage())

	res, err = manager.ProtectWithType(direct, page, vmm.KindDirect, vmm.ProtGpuRead)
	requireResult(t, vmm.Success, res, err)
	require.True(t, tracker.Contains(direct, page))
	require.Equal(t, page, manager.FlexibleUsage())

	reserved, res, err := manager.ReserveVirtual(vmm.ReserveInfo{Size: page})
	requireResult(t, vmm.Success, res, err)
	res, err = manager.ProtectWithType(reserved, page, vmm.KindFlexible, vmm.ProtCpuRead)
	requireResult(t, vmm.InvalidRange, res, err)
}

func TestProtectWithTypeBudget(t *testing.T) {
	manager, _ := readyManager(t, vmm.CreateOptions{FlexibleMemorySize: page})

	_, res, err := manager.MapFlexible(vmm.MapInfo{Size: page, Prot: vmm.ProtCpuRead})
	requireResult(t, vmm.Success, res, err)

	pooled, res, err := manager.MapPooled(vmm.MapInfo{Size: page, Prot: vmm.ProtCpuRead})
	requireResult(t, vmm.Success, res, err)

	res, err = manager.ProtectWithType(pooled, page, vmm.KindFlexible, vmm.ProtCpuRead)
	requireResult(t, vmm.OutOfMemory, res, err)

	info, res, err := manager.QueryVirtual(pooled, 0)
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, vmm.KindPoolAllocated, info.Kind)
}

func TestMapFile(t *testing.T) {
	manager, host := readyManager(t, vmm.CreateOptions{})

	_, res, err := manager.MapFile(vmm.MapInfo{Size: page, Prot: vmm.ProtCpuRead}, 3, 0x1000)
	requireResult(t, vmm.InvalidArgument, res, err)

	addr, res, err := manager.MapFile(vmm.MapInfo{Size: 5000, Prot: vmm.ProtCpuRead, Name: "ignored"}, 3, page)
	requireResult(t, vmm.Success, res, err)

	info, res, err := manager.QueryVirtual(addr, 0)
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, vmm.KindFile, info.Kind)
	require.Equal(t, "File", info.Name)
	require.Equal(t, addr+page, info.End)

	perms, ok := host.Permission(addr)
	require.True(t, ok)
	require.Equal(t, hostmem.PermissionRead, perms)

	res, err = manager.Unmap(addr, page)
	requireResult(t, vmm.Success, res, err)
	require.Equal(t, uint64(0), host.CommittedBytes())
}

func TestUnmapErrors(t *testing.T) {
	manager, _ := readyManager(t, vmm.CreateOptions{})

	addr, res, err := manager.MapFlexible(vmm.MapInfo{Size: 2 * page, Prot: vmm.ProtCpuRead})
	requireResult(t, vmm.Success, res, err)

	res, err = manager.Unmap(addr, 0)
	requireResult(t, vmm.InvalidArgument, res, err)

	res, err = manager.Unmap(addr+0x1000, page)
	requireResult(t, vmm.InvalidArgument, res, err)

	res, err = manager.Unmap(addr, 3*page)
	requireResult(t, vmm.InvalidRange, res, err)

	res, err = manager.Unmap(addr+2*page, page)
	requireResult(t, vmm.InvalidRange, res, err)

	res, err = manager.Unmap(testLayout.End(), page)
	requireResult(t, vmm.OutOfRange, res, err)
}

func TestStatisticsAndDetailedMap(t *testing.T) {
	manager, _ := readyManager(t, vmm.CreateOptions{})

	_, res, err := manager.MapFlexible(vmm.MapInfo{Size: 2 * page, Prot: vmm.ProtCpuRead, Name: "heap"})
	requireResult(t, vmm.Success, res, err)
	_, res, err = manager.AllocateDirect(vmm.DirectAllocateInfo{Size: 3 * page, MemoryType: 1})
	requireResult(t, vmm.Success, res, err)

	var stats vmm.Statistics
	manager.CalculateStatistics(&stats)
	require.Equal(t, gib, stats.Direct.BlockBytes)
	require.Equal(t, 3*page, stats.Direct.AllocationBytes)
	require.Equal(t, 1, stats.Direct.AllocationCount)
	require.Equal(t, testLayout.Size(), stats.Virtual.BlockBytes)
	require.Equal(t, 2*page, stats.Virtual.AllocationBytes)
	require.Equal(t, 2*page, stats.FlexibleUsage)
	require.Equal(t, 16*page, stats.FlexibleBudget)

	var detailed struct {
		FlexibleUsage int
		DirectMemory  struct {
			TotalBytes int
			Areas      []struct {
				Base       string
				Size       int
				Free       bool
				MemoryType int
			}
		}
		VirtualMemory struct {
			Allocations int
			Areas       []struct {
				Base string
				Kind string
				Zone string
				Name string
			}
		}
	}
	require.NoError(t, json.Unmarshal([]byte(manager.BuildStatsString()), &detailed))

	require.Equal(t, int(2*page), detailed.FlexibleUsage)
	require.Equal(t, int(gib), detailed.DirectMemory.TotalBytes)
	require.Len(t, detailed.DirectMemory.Areas, 2)
	require.Equal(t, "0x0", detailed.DirectMemory.Areas[0].Base)
	require.Equal(t, 1, detailed.DirectMemory.Areas[0].MemoryType)
	require.True(t, detailed.DirectMemory.Areas[1].Free)

	require.Equal(t, 1, detailed.VirtualMemory.Allocations)
	require.Len(t, detailed.VirtualMemory.Areas, 4)
	require.Equal(t, "Flexible", detailed.VirtualMemory.Areas[0].Kind)
	require.Equal(t, "heap", detailed.VirtualMemory.Areas[0].Name)
	require.Equal(t, "SystemManaged", detailed.VirtualMemory.Areas[1].Zone)
	require.Equal(t, "User", detailed.VirtualMemory.Areas[3].Zone)
}

func TestResultCodes(t *testing.T) {
	testCases := []struct {
		result vmm.Result
		name   string
		code   uint32
	}{
		{vmm.Success, "Success", vmm.OrbisOk},
		{vmm.InvalidArgument, "InvalidArgument", vmm.OrbisEINVAL},
		{vmm.InvalidRange, "InvalidRange", vmm.OrbisEINVAL},
		{vmm.OutOfMemory, "OutOfMemory", vmm.OrbisENOMEM},
		{vmm.NotFound, "NotFound", vmm.OrbisENOENT},
		{vmm.PermissionDenied, "PermissionDenied", vmm.OrbisEACCES},
		{vmm.OutOfRange, "OutOfRange", vmm.OrbisEFAULT},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			require.Equal(t, testCase.name, testCase.result.String())
			require.Equal(t, testCase.code, testCase.result.OrbisCode())
			if testCase.result == vmm.Success {
				require.NoError(t, testCase.result.ToError())
			} else {
				require.Error(t, testCase.result.ToError())
			}
		})
	}

	require.Equal(t, "Unknown", vmm.Result(99).String())
}

func TestFlagStrings(t *testing.T) {
	require.Equal(t, "NoAccess", vmm.ProtNoAccess.String())
	require.Contains(t, (vmm.ProtCpuRead | vmm.ProtGpuWrite).String(), "CpuRead")
	require.Contains(t, (vmm.ProtCpuRead | vmm.ProtGpuWrite).String(), "GpuWrite")
	require.Contains(t, (vmm.MapFixed | vmm.MapNoOverwrite).String(), "NoOverwrite")
	require.Equal(t, "PoolAllocated", vmm.KindPoolAllocated.String())
	require.False(t, vmm.KindReserved.IsMapping())
	require.True(t, vmm.KindFile.IsMapping())
}
