package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint | ~uint32 | ~uint64
}

func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment. Alignment does not need to be
// a power of two, since element-sized granularities frequently are not, but it must not be 0.
// The arithmetic is done in 64 bits so that callers can detect results that no longer fit
// in their own offset type.
func AlignUp(value uint64, alignment uint64) uint64 {
	if alignment&(alignment-1) == 0 {
		return (value + alignment - 1) & ^(alignment - 1)
	}

	return (value + alignment - 1) / alignment * alignment
}

// AlignDown rounds value down to the previous multiple of alignment, which must not be 0
func AlignDown(value uint64, alignment uint64) uint64 {
	if alignment&(alignment-1) == 0 {
		return value & ^(alignment - 1)
	}

	return value / alignment * alignment
}
