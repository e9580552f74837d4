// Command vmmprobe builds a memory manager from the VMM_* environment, exhausts its direct and flexible
// budgets, and reports what it was able to map.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/kestrel-emu/vmm/config"
	"github.com/kestrel-emu/vmm/residency"
	"github.com/kestrel-emu/vmm/vmm"
	"golang.org/x/exp/slog"
)

func main() {
	chunk := flag.Uint64("chunk", vmm.DefaultAlignment, "size of each flexible mapping")
	printMap := flag.Bool("map", false, "print the detailed memory map as json")
	flag.Parse()

	err := run(*chunk, *printMap)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vmmprobe: %+v\n", err)
		os.Exit(1)
	}
}

func run(chunk uint64, printMap bool) error {
	cfg, err := config.Parse()
	if err != nil {
		return errors.Wrap(err, "reading configuration")
	}

	logger := cfg.NewLogger(os.Stderr)

	host, err := cfg.NewHostAddressSpace()
	if err != nil {
		return errors.Wrapf(err, "creating %s host address space", cfg.HostBackend)
	}
	defer host.Close()

	tracker := residency.NewTracker(logger)
	options := cfg.CreateOptions()
	options.ResidencyCallbacks = tracker.Callbacks()

	manager, err := vmm.New(logger, host, options)
	if err != nil {
		return err
	}

	_, largest, _, err := manager.QueryLargestFreeDirect(0, 0, vmm.DefaultAlignment)
	if err != nil {
		return err
	}

	phys, _, err := manager.AllocateDirect(vmm.DirectAllocateInfo{Size: largest})
	if err != nil {
		return err
	}
	_, _, err = manager.MapDirect(vmm.MapInfo{Size: largest, Prot: vmm.ProtCpuReadWrite | vmm.ProtGpuReadWrite, Name: "probe"}, phys)
	if err != nil {
		return err
	}

	var mappings int
	for {
		_, res, err := manager.MapFlexible(vmm.MapInfo{Size: chunk, Prot: vmm.ProtCpuReadWrite})
		if res == vmm.OutOfMemory {
			break
		}
		if err != nil {
			return err
		}
		mappings++
	}

	err = manager.Validate()
	if err != nil {
		return errors.Wrap(err, "memory manager is inconsistent")
	}

	logger.Info("Probe complete",
		slog.String("Direct", humanize.IBytes(largest)),
		slog.String("Resident", humanize.IBytes(tracker.ResidentBytes())),
		slog.String("Flexible", humanize.IBytes(manager.FlexibleUsage())),
		slog.Int("FlexibleMappings", mappings),
	)

	if printMap {
		fmt.Println(manager.BuildStatsString())
	}
	return nil
}
