//go:build debug_init_allocs

package heap

import (
	"fmt"
	"unsafe"
)

const (
	// InitializeAllocs causes all new allocations to be filled with deterministic data, and all
	// freed allocations to be filled with different deterministic data. If you are concerned that
	// reads of uninitialized or freed memory are causing a bug, you can activate this to help
	// diagnose the issue. It impacts performance and should generally be left deactivated.
	InitializeAllocs bool = true
)

func (h *Heap) fillAllocation(blockOffset, size uint32, pattern uint8) {
	data := h.backing.MappedData()
	if !InitializeAllocs || data == nil {
		// Don't fill allocations that can't be filled
		return
	}

	dataSlice := unsafe.Slice((*uint8)(unsafe.Add(data, blockOffset)), size)
	for i := range dataSlice {
		dataSlice[i] = pattern
	}

	flusher, isFlusher := h.backing.(Flusher)
	if !isFlusher {
		return
	}

	err := flusher.Flush(int(blockOffset), int(size))
	if err != nil {
		panic(fmt.Sprintf("failed when attempting to flush storage during debug pattern fill: %+v", err))
	}
}
