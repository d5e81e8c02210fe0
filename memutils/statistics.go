package memutils

import "math"

// Statistics is a point-in-time snapshot of the state of a single managed region
type Statistics struct {
	// TotalSize is the size in bytes of the managed region, after alignment
	TotalSize int
	// UsedSize is the number of bytes currently held by live allocations
	UsedSize int
	// NumAllocations is the number of live allocations
	NumAllocations int
	// NumFreeBlocks is the number of distinct free regions
	NumFreeBlocks int
	// LargestFreeBlock is the size in bytes of the largest free region, which is also the
	// largest allocation that can currently succeed
	LargestFreeBlock int
	// FragmentationRatio is 0 when all free space is one contiguous region and approaches 1 as
	// free space is split into many regions that are small relative to the total free space
	FragmentationRatio float64
}

func (s *Statistics) Clear() {
	s.TotalSize = 0
	s.UsedSize = 0
	s.NumAllocations = 0
	s.NumFreeBlocks = 0
	s.LargestFreeBlock = 0
	s.FragmentationRatio = 0
}

// FreeSize returns the number of bytes not held by live allocations
func (s *Statistics) FreeSize() int {
	return s.TotalSize - s.UsedSize
}

// AddAllocation records a live allocation of the provided size
func (s *Statistics) AddAllocation(size int) {
	s.NumAllocations++
	s.UsedSize += size
}

// AddFreeBlock records a free region of the provided size
func (s *Statistics) AddFreeBlock(size int) {
	s.NumFreeBlocks++
	if size > s.LargestFreeBlock {
		s.LargestFreeBlock = size
	}
}

// CalculateFragmentation fills FragmentationRatio from the other fields. It should be called
// once all allocations and free blocks have been added.
func (s *Statistics) CalculateFragmentation() {
	s.FragmentationRatio = 0

	freeSpace := s.FreeSize()
	if freeSpace > 0 && s.LargestFreeBlock > 0 {
		s.FragmentationRatio = 1.0 - float64(s.LargestFreeBlock)/float64(freeSpace)
	}
}

type DetailedStatistics struct {
	Statistics
	AllocationSizeMin  int
	AllocationSizeMax  int
	UnusedRangeSizeMin int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
	s.UnusedRangeSizeMin = math.MaxInt
}

func (s *DetailedStatistics) AddUnusedRange(size int) {
	s.Statistics.AddFreeBlock(size)

	if size < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = size
	}
}

func (s *DetailedStatistics) AddAllocation(size int) {
	s.Statistics.AddAllocation(size)

	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}

	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}
