package vmm

// DirectAllocateInfo describes a request for direct memory
type DirectAllocateInfo struct {
	// SearchStart is the lowest physical address the allocation may begin at
	SearchStart uint64
	// SearchEnd is the address the allocation must end at or before. 0 means the end of the pool.
	SearchEnd uint64
	// Size is the number of bytes to allocate. It must be nonzero.
	Size uint64
	// Alignment must be a power of two. 0 means DefaultAlignment.
	Alignment uint64
	// MemoryType is an opaque classification reported back by queries
	MemoryType int32
}

// ReserveInfo describes a request for a range of address space with no backing
type ReserveInfo struct {
	// Address is the placement hint, or the exact address when Flags contains MapFixed. 0 means the base
	// of the system-managed zone.
	Address uint64
	// Size must be a nonzero multiple of the guest page size
	Size uint64
	// Alignment must be a power of two. 0 means DefaultAlignment.
	Alignment uint64
	Flags     MapFlags
}

// MapInfo describes a request for a range of address space backed by host pages
type MapInfo struct {
	// Address is the placement hint, or the exact address when Flags contains MapFixed. 0 means the base
	// of the system-managed zone.
	Address uint64
	// Size must be a nonzero multiple of the guest page size, except for file mappings, which are rounded up
	Size uint64
	// Alignment must be a power of two. 0 means DefaultAlignment.
	Alignment  uint64
	Prot       Prot
	Flags      MapFlags
	Name       string
	Executable bool
}

// MaxNameLength is the longest name reported by QueryVirtual
const MaxNameLength = 32

// VirtualQueryInfo is a snapshot of the virtual memory area at a queried address
type VirtualQueryInfo struct {
	Start uint64
	End   uint64
	// Offset is the direct memory address backing Start, for areas that have one
	Offset     uint64
	Prot       Prot
	Kind       MemoryKind
	MemoryType int32

	IsFlexible  bool
	IsDirect    bool
	IsStack     bool
	IsPooled    bool
	IsCommitted bool

	Name string
}

// ProtectionInfo is the span and protection of the virtual memory area at a queried address
type ProtectionInfo struct {
	Start uint64
	End   uint64
	Prot  Prot
}

// DirectQueryInfo is the span and memory type of an allocated direct memory area
type DirectQueryInfo struct {
	Start      uint64
	End        uint64
	MemoryType int32
}
