package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// AllocationFailedError is returned when no free region is large enough to hold a requested
// allocation. The allocator is left exactly as it was before the request.
var AllocationFailedError error = errors.New("no free block large enough for the requested allocation")

// FreeOfUnknownOffsetError is returned when a caller attempts to free an offset that does not
// belong to a live allocation: it was never allocated, was already freed, or is garbage.
var FreeOfUnknownOffsetError error = errors.New("no live allocation at the provided offset")

// InvalidArgumentError is returned when an allocator is configured or called with values it
// cannot represent
var InvalidArgumentError error = errors.New("invalid argument")
