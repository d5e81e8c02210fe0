package heap

import (
	"context"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/suballoc/heap/internal/utils"
	"github.com/vkngwrapper/suballoc/memutils"
	"github.com/vkngwrapper/suballoc/memutils/metadata"
	"golang.org/x/exp/slog"
)

// Offset identifies an allocation within a Heap. Offsets are biased by one relative to the
// position of the allocation within the heap's storage so that the zero value, NullOffset, never
// identifies a live allocation.
type Offset uint32

const (
	// NullOffset is returned by Allocate when allocation fails. Freeing it is a no-op and translating
	// it always produces nil.
	NullOffset Offset = 0

	reservedOffset uint32 = 1

	createdFillPattern   uint8 = 0xDC
	destroyedFillPattern uint8 = 0xEF
)

// Heap suballocates a single block of storage. Every method is safe to call from multiple
// goroutines unless the heap was created with CreateExternallySynchronized.
type Heap struct {
	logger      *slog.Logger
	name        string
	flags       CreateFlags
	numElements uint32
	elementSize uint32

	mutex    utils.OptionalMutex
	metadata metadata.BlockMetadata
	backing  Backing
	writes   writeTracker
}

func toOffset(blockOffset uint32) Offset {
	return Offset(blockOffset + reservedOffset)
}

func (o Offset) blockOffset() uint32 {
	return uint32(o) - reservedOffset
}

// Name returns the diagnostic name of the heap
func (h *Heap) Name() string {
	return h.name
}

// ElementSize returns the element size the heap was created with
func (h *Heap) ElementSize() uint32 {
	return h.elementSize
}

// AlignedSize returns the size in bytes of the heap after alignment
func (h *Heap) AlignedSize() uint32 {
	return h.metadata.Size()
}

// Backing returns the storage the heap's offsets index into
func (h *Heap) Backing() Backing {
	return h.backing
}

func (h *Heap) checkAlive() error {
	if h.backing == nil {
		return errors.Newf("heap %q has been destroyed", h.name)
	}

	return nil
}

// Allocate reserves at least size bytes of the heap and returns the offset of the reservation.
// If no free region is large enough, NullOffset is returned along with an error that wraps
// memutils.AllocationFailedError.
func (h *Heap) Allocate(size uint32) (Offset, error) {
	h.logger.Debug("Heap::Allocate", slog.Int("Size", int(size)))

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if err := h.checkAlive(); err != nil {
		return NullOffset, err
	}

	blockOffset, err := h.metadata.Allocate(size)
	if err != nil {
		h.logger.Debug("  Heap::Allocate FAILED", slog.Int("Size", int(size)), slog.Any("error", err))
		return NullOffset, errors.Wrapf(err, "heap %q", h.name)
	}

	offset := toOffset(blockOffset)
	allocSize, err := h.metadata.AllocationSize(blockOffset)
	if err != nil {
		return NullOffset, err
	}

	h.logger.Debug("  Allocated", slog.Int("Size", int(allocSize)), slog.Int("BlockOffset", int(blockOffset)))
	h.fillAllocation(blockOffset, allocSize, createdFillPattern)

	return offset, nil
}

// Free releases an allocation returned by Allocate. Freeing NullOffset does nothing. Freeing
// any other offset that is not a live allocation returns an error wrapping
// memutils.FreeOfUnknownOffsetError and leaves the heap unchanged.
func (h *Heap) Free(offset Offset) error {
	h.logger.Debug("Heap::Free", slog.Int("Offset", int(offset)))

	if offset == NullOffset {
		return nil
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if err := h.checkAlive(); err != nil {
		return err
	}

	blockOffset := offset.blockOffset()
	allocSize, err := h.metadata.AllocationSize(blockOffset)
	if err == nil {
		h.fillAllocation(blockOffset, allocSize, destroyedFillPattern)
		err = h.metadata.Free(blockOffset)
	}

	if err != nil {
		h.logger.LogAttrs(context.Background(), slog.LevelError, "Free failed - no allocation found at offset",
			slog.Int("offset", int(offset)),
			slog.Any("error", err),
		)
		return errors.Wrapf(err, "heap %q", h.name)
	}

	return nil
}

// AllocationSize returns the number of bytes reserved for the allocation at offset, which may be
// more than were requested
func (h *Heap) AllocationSize(offset Offset) (uint32, error) {
	if offset == NullOffset {
		return 0, errors.Wrap(memutils.FreeOfUnknownOffsetError, "offset is null")
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if err := h.checkAlive(); err != nil {
		return 0, err
	}

	return h.metadata.AllocationSize(offset.blockOffset())
}

// Statistics returns a snapshot of the heap's usage. After Destroy, every field is zero.
func (h *Heap) Statistics() memutils.Statistics {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.backing == nil {
		return memutils.Statistics{}
	}

	return h.metadata.Statistics()
}

// DetailedStatistics returns a snapshot of the heap's usage including allocation and free range
// size bounds. After Destroy, every field is zero.
func (h *Heap) DetailedStatistics() memutils.DetailedStatistics {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.detailedStatistics()
}

func (h *Heap) detailedStatistics() memutils.DetailedStatistics {
	var stats memutils.DetailedStatistics
	if h.backing == nil {
		return stats
	}

	stats.Clear()
	h.metadata.AddDetailedStatistics(&stats)
	return stats
}

// Validate performs expensive internal consistency checks on the heap
func (h *Heap) Validate() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if err := h.checkAlive(); err != nil {
		return err
	}

	if h.backing.Size() < int(h.metadata.Size()) {
		return errors.Newf("heap %q storage is smaller than the heap", h.name)
	}

	return h.metadata.Validate()
}

// ResourceOffset converts an offset into a byte offset within the heap's backing storage. It
// returns false for NullOffset and for offsets beyond the end of the heap.
func (h *Heap) ResourceOffset(offset Offset) (int, bool) {
	if offset == NullOffset || offset.blockOffset() >= h.metadata.Size() {
		return 0, false
	}

	return int(offset.blockOffset()), true
}

// MappedPointer returns a host pointer to the allocation at offset. It returns nil for NullOffset,
// for offsets that are not live allocations, and when the heap's storage is not host-visible.
func (h *Heap) MappedPointer(offset Offset) unsafe.Pointer {
	resourceOffset, ok := h.ResourceOffset(offset)
	if !ok {
		return nil
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.backing == nil {
		return nil
	}

	if _, err := h.metadata.AllocationSize(offset.blockOffset()); err != nil {
		return nil
	}

	data := h.backing.MappedData()
	if data == nil {
		return nil
	}

	return unsafe.Add(data, resourceOffset)
}

// Bytes returns a slice covering every byte reserved for the live allocation at offset, or nil if
// offset is not a live allocation or the heap's storage is not host-visible.
func (h *Heap) Bytes(offset Offset) []byte {
	ptr := h.MappedPointer(offset)
	if ptr == nil {
		return nil
	}

	size, err := h.AllocationSize(offset)
	if err != nil {
		return nil
	}

	return unsafe.Slice((*byte)(ptr), size)
}

// BuildStatsString returns a json document describing the heap. If detailedMap is true, every
// allocation and free region is listed. A destroyed heap reports zero totals and no map.
func (h *Heap) BuildStatsString(detailedMap bool) string {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("Name").String(h.name)
	obj.Name("Flags").String(h.flags.String())
	obj.Name("ElementSize").Int(int(h.elementSize))
	obj.Name("NumElements").Int(int(h.numElements))

	stats := h.detailedStatistics()

	totalObj := obj.Name("Total").Object()
	printDetailedStatistics(&totalObj, &stats)
	totalObj.End()

	if detailedMap && h.backing != nil {
		mapObj := obj.Name("DetailedMap").Object()
		h.metadata.PrintDetailedMap(&mapObj)
		mapObj.End()
	}

	obj.End()

	return string(writer.Bytes())
}

func printDetailedStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("TotalBytes").Int(stats.TotalSize)
	json.Name("UsedBytes").Int(stats.UsedSize)
	json.Name("Allocations").Int(stats.NumAllocations)
	json.Name("UnusedRanges").Int(stats.NumFreeBlocks)
	json.Name("LargestFreeBlock").Int(stats.LargestFreeBlock)
	json.Name("FragmentationRatio").Float64(stats.FragmentationRatio)

	if stats.NumAllocations > 0 {
		json.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}
	if stats.NumFreeBlocks > 0 {
		json.Name("UnusedRangeSizeMin").Int(stats.UnusedRangeSizeMin)
		json.Name("UnusedRangeSizeMax").Int(stats.LargestFreeBlock)
	}
}

// Destroy releases the heap's storage. If any allocations are still live, each is logged and an
// error is returned, but the storage is released regardless.
func (h *Heap) Destroy() error {
	h.logger.Debug("Heap::Destroy")

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if err := h.checkAlive(); err != nil {
		return err
	}

	var unreleasedErr error
	if !h.metadata.IsEmpty() {
		h.logger.Warn("Warning - there are still allocations", slog.Int("Count", h.metadata.AllocationCount()))

		_ = h.metadata.VisitAllRegions(func(offset uint32, size uint32, free bool) error {
			if !free {
				h.logUnreleasedMemory(toOffset(offset), size)
			}
			return nil
		})

		unreleasedErr = errors.Newf("%d allocations were not freed before the destruction of heap %q",
			h.metadata.AllocationCount(), h.name)
	}

	h.writes.reset()
	destroyErr := h.backing.Destroy()
	h.backing = nil
	h.metadata.Clear()

	return errors.CombineErrors(unreleasedErr, destroyErr)
}

func (h *Heap) logUnreleasedMemory(offset Offset, size uint32) {
	h.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
		slog.Int("offset", int(offset)),
		slog.Int("size", int(size)),
		slog.String("name", h.name),
	)
}
