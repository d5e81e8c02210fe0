package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/suballoc/memutils"
)

// BlockMetadata represents a single large linear region of memory within some system. It manages
// suballocations within the region, allowing allocations to be requested and freed, as well as
// enumerated and queried. Offsets handed out by a BlockMetadata are relative to the start of the
// region and carry no meaning outside of it.
//
// Implementations are not safe for concurrent use. Consumers are expected to hold a single lock
// around every call made against one BlockMetadata.
type BlockMetadata interface {
	// Size retrieves the size in bytes of the managed region, after alignment
	Size() uint32
	// Alignment retrieves the granularity that every allocation size is rounded up to
	Alignment() uint32

	// Validate performs internal consistency checks on the metadata. These checks may be expensive, depending
	// on the implementation. When the implementation is functioning correctly, it should not be possible
	// for this method to return an error, but this may assist in diagnosing issues with the implementation.
	Validate() error
	// AllocationCount returns the number of suballocations currently live in the implementation. This number
	// should generally be the number of successful allocations minus the number of successful frees.
	AllocationCount() int
	// FreeRegionsCount returns the number of unique regions of free memory in the block. Adjacent
	// regions of free memory are always merged, so each free region is bounded by allocations or by
	// the ends of the block.
	FreeRegionsCount() int
	// SumFreeSize returns the number of free bytes of memory in the block.
	SumFreeSize() int
	// IsEmpty will return true if this block has no live suballocations
	IsEmpty() bool

	// Allocate reserves a region of at least size bytes and returns its offset. The size is rounded
	// up to Alignment. If no single free region can hold the rounded size, an error wrapping
	// memutils.AllocationFailedError is returned and the metadata is left unchanged.
	Allocate(size uint32) (uint32, error)
	// Free releases the allocation at the provided offset. If offset does not identify a live
	// allocation, an error wrapping memutils.FreeOfUnknownOffsetError is returned and the metadata
	// is left unchanged.
	Free(offset uint32) error
	// AllocationSize returns the rounded size in bytes of the live allocation at offset
	AllocationSize(offset uint32) (uint32, error)

	// Statistics returns a snapshot of the block's usage
	Statistics() memutils.Statistics
	// AddDetailedStatistics sums this block's allocation statistics into the statistics currently present
	// in the provided memutils.DetailedStatistics object.
	AddDetailedStatistics(stats *memutils.DetailedStatistics)

	// VisitAllRegions will call the provided callback once for each allocation and free region in
	// the block, in offset order. Iteration stops at the first error, which is returned.
	VisitAllRegions(handleRegion func(offset uint32, size uint32, free bool) error) error

	// Clear instantly frees all allocations
	Clear()
	// BlockJsonData populates a json object with summary information about this block
	BlockJsonData(json *jwriter.ObjectState)
	// PrintDetailedMap populates a json object with summary information about this block as well as
	// an entry for every region
	PrintDetailedMap(json *jwriter.ObjectState)
}

// BlockMetadataBase is a simple struct that provides a few shared utilities for BlockMetadata
// implementations in the memutils module.
type BlockMetadataBase struct {
	size      uint32
	alignment uint32
}

// NewBlockMetadata creates a new BlockMetadataBase from the aligned region size and the
// allocation granularity
func NewBlockMetadata(size uint32, alignment uint32) BlockMetadataBase {
	return BlockMetadataBase{
		size:      size,
		alignment: alignment,
	}
}

// Size returns the size of the block in bytes
func (m *BlockMetadataBase) Size() uint32 { return m.size }

// Alignment returns the allocation granularity of the block in bytes
func (m *BlockMetadataBase) Alignment() uint32 { return m.alignment }

// blockJsonData writes the summary fields shared by every implementation
func (m *BlockMetadataBase) blockJsonData(json *jwriter.ObjectState, unusedBytes, allocationCount, unusedRangeCount int) {
	json.Name("TotalBytes").Int(int(m.size))
	json.Name("Alignment").Int(int(m.alignment))
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}
