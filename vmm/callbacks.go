package vmm

// DirectMappedCallback is called after a range of direct memory is mapped into the guest address space
type DirectMappedCallback func(
	manager *MemoryManager,
	vaddr uint64,
	size uint64,
	userData any,
)

// DirectUnmappedCallback is called before a range of direct memory is removed from the guest address space
type DirectUnmappedCallback func(
	manager *MemoryManager,
	vaddr uint64,
	size uint64,
	userData any,
)

// ResidencyCallbackOptions lets the GPU side of an emulator track which guest ranges alias direct memory.
// The callbacks are fire-and-forget: they are called with the manager lock held and must not call back
// into the manager.
type ResidencyCallbackOptions struct {
	Mapped   DirectMappedCallback
	Unmapped DirectUnmappedCallback
	UserData any
}

type residencyCallbacks struct {
	Callbacks *ResidencyCallbackOptions
	Manager   *MemoryManager
}

func (c *residencyCallbacks) Mapped(vaddr, size uint64) {
	if c.Callbacks != nil && c.Callbacks.Mapped != nil {
		c.Callbacks.Mapped(c.Manager, vaddr, size, c.Callbacks.UserData)
	}
}

func (c *residencyCallbacks) Unmapped(vaddr, size uint64) {
	if c.Callbacks != nil && c.Callbacks.Unmapped != nil {
		c.Callbacks.Unmapped(c.Manager, vaddr, size, c.Callbacks.UserData)
	}
}
