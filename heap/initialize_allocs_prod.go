//go:build !debug_init_allocs

package heap

const (
	// InitializeAllocs causes all new allocations to be filled with deterministic data, and all
	// freed allocations to be filled with different deterministic data. Build with the
	// debug_init_allocs tag to activate it.
	InitializeAllocs bool = false
)

func (h *Heap) fillAllocation(blockOffset, size uint32, pattern uint8) {}
