package metadata

import (
	"math"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/suballoc/memutils"
)

// BestFitBlockMetadata is a BlockMetadata implementation that always places a new allocation in
// the smallest free region able to hold it. Regions are split on allocation and merged with
// their free neighbours on free, so no two adjacent regions are ever both free.
//
// Allocate and Free are O(log n) in the number of free regions. Statistics walks every region
// and is O(n).
type BestFitBlockMetadata struct {
	BlockMetadataBase

	blocks      blockIndex
	freeBlocks  freeIndex
	allocations allocationTable
	usedSize    int
}

var _ BlockMetadata = &BestFitBlockMetadata{}

// NewBestFitBlockMetadata creates a metadata managing numElements * elementSize bytes, rounded up
// to alignment. The total must fit in 32 bits. Every allocation made from the metadata is
// rounded up to alignment as well.
func NewBestFitBlockMetadata(numElements, elementSize, alignment uint32) (*BestFitBlockMetadata, error) {
	if numElements == 0 {
		return nil, errors.Wrap(memutils.InvalidArgumentError, "numElements must be greater than 0")
	}
	if elementSize == 0 {
		return nil, errors.Wrap(memutils.InvalidArgumentError, "elementSize must be greater than 0")
	}
	if alignment == 0 {
		return nil, errors.Wrap(memutils.InvalidArgumentError, "alignment must be greater than 0")
	}

	totalSize := memutils.AlignUp(uint64(numElements)*uint64(elementSize), uint64(alignment))
	if totalSize > math.MaxUint32 {
		return nil, errors.Wrapf(memutils.InvalidArgumentError,
			"%d elements of %d bytes aligned to %d require %d bytes, which is more than a block can address",
			numElements, elementSize, alignment, totalSize)
	}

	m := &BestFitBlockMetadata{
		BlockMetadataBase: NewBlockMetadata(uint32(totalSize), alignment),
		freeBlocks:        newFreeIndex(),
		allocations:       newAllocationTable(),
	}
	m.Clear()

	return m, nil
}

func (m *BestFitBlockMetadata) Clear() {
	m.freeBlocks.clear()
	m.allocations.clear()
	m.usedSize = 0

	m.blocks.init(m.size)
	m.freeBlocks.insert(entryFor(m.blocks.head, m.blocks.get(m.blocks.head)))
}

func (m *BestFitBlockMetadata) Validate() error {
	if m.blocks.head == NoBlock {
		return errors.New("the block sequence is empty")
	}

	nextOffset := uint32(0)
	prev := NoBlock
	prevFree := false
	var blockCount, freeCount, allocCount, usedSize int

	for handle := m.blocks.head; handle != NoBlock; handle = m.blocks.get(handle).next {
		b := m.blocks.get(handle)
		blockCount++

		if b.prev != prev {
			return errors.Errorf("block at offset %d does not link back to the block before it", b.offset)
		}
		if b.offset != nextOffset {
			return errors.Errorf("block at offset %d should start at offset %d", b.offset, nextOffset)
		}
		if b.size == 0 {
			return errors.Errorf("block at offset %d is empty", b.offset)
		}
		if uint64(b.offset)+uint64(b.size) > uint64(m.size) {
			return errors.Errorf("block at offset %d with size %d runs past the end of the region", b.offset, b.size)
		}

		if b.free {
			if prevFree {
				return errors.Errorf("block at offset %d is free, but so is the block before it", b.offset)
			}
			if !m.freeBlocks.contains(entryFor(handle, b)) {
				return errors.Errorf("block at offset %d is free but is not in the free block index", b.offset)
			}
			if _, allocated := m.allocations.get(b.offset); allocated {
				return errors.Errorf("block at offset %d is free but has a live allocation", b.offset)
			}

			freeCount++
		} else {
			info, allocated := m.allocations.get(b.offset)
			if !allocated {
				return errors.Errorf("block at offset %d is in use but has no allocation record", b.offset)
			}
			if info.Block != handle || info.Size != b.size {
				return errors.Errorf("allocation record at offset %d does not match its block", b.offset)
			}

			allocCount++
			usedSize += int(b.size)
		}

		prevFree = b.free
		prev = handle
		nextOffset = b.offset + b.size
	}

	if m.blocks.tail != prev {
		return errors.New("the block sequence's tail is not its last block")
	}
	if nextOffset != m.size {
		return errors.Errorf("the full size of the metadata is %d, but the blocks only added up to %d", m.size, nextOffset)
	}
	if blockCount != m.blocks.count {
		return errors.Errorf("the block index holds %d blocks, but only %d are linked", m.blocks.count, blockCount)
	}
	if freeCount != m.freeBlocks.len() {
		return errors.Errorf("the number of free blocks in the block sequence and the number of blocks in the free index do not match! free index size: %d, free blocks: %d", m.freeBlocks.len(), freeCount)
	}
	if allocCount != m.allocations.count() {
		return errors.Errorf("the allocation count of the metadata is %d, but the used blocks only added up to %d", m.allocations.count(), allocCount)
	}
	if usedSize != m.usedSize {
		return errors.Errorf("the used size of the metadata is %d, but the used blocks only added up to %d", m.usedSize, usedSize)
	}

	return nil
}

func (m *BestFitBlockMetadata) AllocationCount() int {
	return m.allocations.count()
}

func (m *BestFitBlockMetadata) FreeRegionsCount() int {
	return m.freeBlocks.len()
}

func (m *BestFitBlockMetadata) SumFreeSize() int {
	return int(m.size) - m.usedSize
}

func (m *BestFitBlockMetadata) IsEmpty() bool {
	return m.allocations.count() == 0
}

func (m *BestFitBlockMetadata) largestFreeSize() uint32 {
	largest, ok := m.freeBlocks.largest()
	if !ok {
		return 0
	}

	return largest.size
}

func (m *BestFitBlockMetadata) Allocate(size uint32) (uint32, error) {
	if size == 0 {
		return 0, errors.Wrap(memutils.InvalidArgumentError, "allocation size must be greater than 0")
	}

	memutils.DebugValidate(m)

	alignedSize := memutils.AlignUp(uint64(size), uint64(m.alignment))
	if alignedSize > uint64(m.size) {
		return 0, errors.Wrapf(memutils.AllocationFailedError,
			"requested %d bytes (%d aligned), but the block is only %d bytes", size, alignedSize, m.size)
	}
	allocSize := uint32(alignedSize)

	entry, found := m.freeBlocks.bestFit(allocSize)
	if !found {
		return 0, errors.Wrapf(memutils.AllocationFailedError,
			"requested %d bytes (%d aligned), but the largest free block is %d bytes", size, allocSize, m.largestFreeSize())
	}

	m.freeBlocks.remove(entry)
	handle := entry.block

	current := m.blocks.get(handle)
	if current.size > allocSize {
		remainderOffset := current.offset + allocSize
		remainderSize := current.size - allocSize
		current.size = allocSize

		remainder := m.blocks.insertAfter(handle, remainderOffset, remainderSize, true)
		m.freeBlocks.insert(entryFor(remainder, m.blocks.get(remainder)))

		// The arena may have grown
		current = m.blocks.get(handle)
	}

	current.free = false
	m.allocations.put(AllocationInfo{
		Offset: current.offset,
		Size:   allocSize,
		Block:  handle,
	})
	m.usedSize += int(allocSize)

	return current.offset, nil
}

func (m *BestFitBlockMetadata) Free(offset uint32) error {
	info, found := m.allocations.get(offset)
	if !found {
		return errors.Wrapf(memutils.FreeOfUnknownOffsetError, "offset %d", offset)
	}

	memutils.DebugValidate(m)

	m.allocations.delete(offset)
	m.usedSize -= int(info.Size)

	handle := info.Block
	current := m.blocks.get(handle)
	current.free = true

	// Merge with the previous block
	if prevHandle := current.prev; prevHandle != NoBlock {
		prev := m.blocks.get(prevHandle)
		if prev.free {
			m.freeBlocks.remove(entryFor(prevHandle, prev))
			prev.size += current.size
			m.blocks.remove(handle)

			handle = prevHandle
			current = prev
		}
	}

	// Merge with the next block
	if nextHandle := current.next; nextHandle != NoBlock {
		next := m.blocks.get(nextHandle)
		if next.free {
			m.freeBlocks.remove(entryFor(nextHandle, next))
			current.size += next.size
			m.blocks.remove(nextHandle)
		}
	}

	m.freeBlocks.insert(entryFor(handle, current))

	return nil
}

func (m *BestFitBlockMetadata) AllocationSize(offset uint32) (uint32, error) {
	info, found := m.allocations.get(offset)
	if !found {
		return 0, errors.Wrapf(memutils.FreeOfUnknownOffsetError, "offset %d", offset)
	}

	return info.Size, nil
}

func (m *BestFitBlockMetadata) Statistics() memutils.Statistics {
	stats := memutils.Statistics{
		TotalSize: int(m.size),
	}

	for handle := m.blocks.head; handle != NoBlock; {
		b := m.blocks.get(handle)
		if b.free {
			stats.AddFreeBlock(int(b.size))
		} else {
			stats.AddAllocation(int(b.size))
		}

		handle = b.next
	}

	stats.CalculateFragmentation()
	return stats
}

func (m *BestFitBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.TotalSize += int(m.size)

	for handle := m.blocks.head; handle != NoBlock; {
		b := m.blocks.get(handle)
		if b.free {
			stats.AddUnusedRange(int(b.size))
		} else {
			stats.AddAllocation(int(b.size))
		}

		handle = b.next
	}

	stats.CalculateFragmentation()
}

func (m *BestFitBlockMetadata) VisitAllRegions(handleRegion func(offset uint32, size uint32, free bool) error) error {
	for handle := m.blocks.head; handle != NoBlock; {
		b := *m.blocks.get(handle)

		err := handleRegion(b.offset, b.size, b.free)
		if err != nil {
			return err
		}

		handle = b.next
	}

	return nil
}

func (m *BestFitBlockMetadata) BlockJsonData(json *jwriter.ObjectState) {
	m.blockJsonData(json, m.SumFreeSize(), m.AllocationCount(), m.FreeRegionsCount())
	json.Name("LargestFreeBlock").Int(int(m.largestFreeSize()))
}

func (m *BestFitBlockMetadata) PrintDetailedMap(json *jwriter.ObjectState) {
	m.BlockJsonData(json)

	arrayState := json.Name("Suballocations").Array()
	defer arrayState.End()

	_ = m.VisitAllRegions(func(offset uint32, size uint32, free bool) error {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(int(offset))
		obj.Name("Size").Int(int(size))
		if free {
			obj.Name("Type").String("FREE")
		} else {
			obj.Name("Type").String("ALLOCATION")
		}

		return nil
	})
}
