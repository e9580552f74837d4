package vmm

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/kestrel-emu/vmm/memutils"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Statistics summarizes the state of a MemoryManager. Reserved and mapped virtual areas both count as
// allocations of the virtual address space.
type Statistics struct {
	Direct         memutils.DetailedStatistics
	Virtual        memutils.DetailedStatistics
	FlexibleUsage  uint64
	FlexibleBudget uint64
}

// CalculateStatistics populates stats with the current state of the manager
func (m *MemoryManager) CalculateStatistics(stats *Statistics) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	stats.Direct.Clear()
	stats.Virtual.Clear()
	m.direct.AddDetailedStatistics(&stats.Direct)
	m.virtual.AddDetailedStatistics(&stats.Virtual)
	stats.FlexibleUsage = m.flexibleUsage
	stats.FlexibleBudget = m.flexibleBudget
}

// Validate checks both partitions and the invariants that tie them together: every area that aliases
// direct memory aliases allocated memory, and the flexible usage counter matches the flexible areas.
func (m *MemoryManager) Validate() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	err := m.direct.Validate()
	if err != nil {
		return errors.Wrap(err, "direct memory")
	}

	err = m.virtual.Validate()
	if err != nil {
		return errors.Wrap(err, "virtual memory")
	}

	var flexible uint64
	err = m.virtual.VisitAllAreas(func(area VirtualMemoryArea) error {
		if area.kind == KindFlexible {
			flexible += area.size
		}
		if area.hasPhys && !m.direct.IsAllocated(area.physBase, area.size) {
			return errors.Errorf("virtual area [%#x, +%#x) aliases unallocated direct memory at %#x", area.base, area.size, area.physBase)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if flexible != m.flexibleUsage {
		return errors.Errorf("flexible usage is %#x, but flexible areas cover %#x bytes", m.flexibleUsage, flexible)
	}
	if m.flexibleUsage > m.flexibleBudget {
		return errors.Errorf("flexible usage %#x exceeds the budget %#x", m.flexibleUsage, m.flexibleBudget)
	}

	return nil
}

func hex(value uint64) string {
	return fmt.Sprintf("%#x", value)
}

// PrintDetailedMap writes every area of both partitions to writer as a json object
func (m *MemoryManager) PrintDetailedMap(writer *jwriter.Writer) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	objState := writer.Object()
	defer objState.End()

	objState.Name("FlexibleUsage").Int(int(m.flexibleUsage))
	objState.Name("FlexibleBudget").Int(int(m.flexibleBudget))

	directObj := objState.Name("DirectMemory").Object()
	m.direct.areas.BlockJsonData(&directObj)
	directAreas := directObj.Name("Areas").Array()
	_ = m.direct.VisitAllAreas(func(area DirectMemoryArea) error {
		obj := directAreas.Object()
		defer obj.End()

		obj.Name("Base").String(hex(area.base))
		obj.Name("Size").Int(int(area.size))
		obj.Name("Free").Bool(area.isFree)
		if !area.isFree {
			obj.Name("MemoryType").Int(int(area.memoryType))
		}
		return nil
	})
	directAreas.End()
	directObj.End()

	virtualObj := objState.Name("VirtualMemory").Object()
	m.virtual.areas.BlockJsonData(&virtualObj)
	virtualAreas := virtualObj.Name("Areas").Array()
	_ = m.virtual.VisitAllAreas(func(area VirtualMemoryArea) error {
		obj := virtualAreas.Object()
		defer obj.End()

		obj.Name("Base").String(hex(area.base))
		obj.Name("Size").Int(int(area.size))
		obj.Name("Zone").String(area.zone.String())
		obj.Name("Kind").String(area.kind.String())
		if area.IsFree() {
			return nil
		}

		obj.Name("Prot").String(area.prot.String())
		if area.name != "" {
			obj.Name("Name").String(area.name)
		}
		if area.hasPhys {
			obj.Name("Phys").String(hex(area.physBase))
		}
		if area.hasFile {
			obj.Name("FD").Int(int(area.fd))
			obj.Name("FileOffset").String(hex(area.fileOffset))
		}
		if area.disallowMerge {
			obj.Name("NoCoalesce").Bool(true)
		}
		return nil
	})
	virtualAreas.End()
	virtualObj.End()
}

// BuildStatsString returns the output of PrintDetailedMap as a string
func (m *MemoryManager) BuildStatsString() string {
	writer := jwriter.NewWriter()
	m.PrintDetailedMap(&writer)
	return string(writer.Bytes())
}
