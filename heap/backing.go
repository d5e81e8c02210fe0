package heap

import (
	"unsafe"
)

// Backing is the storage that a Heap's offsets index into. It must be at least as large as the
// heap's AlignedSize.
type Backing interface {
	// Size returns the size of the storage in bytes
	Size() int
	// MappedData returns a host pointer to the start of the storage, or nil if the storage cannot be
	// read or written by the host
	MappedData() unsafe.Pointer
	// Destroy releases the storage. The backing must not be used afterward.
	Destroy() error
}

// Flusher is implemented by backings whose host writes must be explicitly made visible to other
// observers of the storage, such as a file mapping or non-coherent device memory.
type Flusher interface {
	// Flush makes host writes in the provided byte range visible
	Flush(offset, size int) error
}

// BackingFactory creates the storage for a heap once its aligned size is known
type BackingFactory func(size int) (Backing, error)

type hostBacking struct {
	data []byte
}

func newHostBacking(size int) (Backing, error) {
	return &hostBacking{data: make([]byte, size)}, nil
}

func (b *hostBacking) Size() int {
	return len(b.data)
}

func (b *hostBacking) MappedData() unsafe.Pointer {
	if len(b.data) == 0 {
		return nil
	}

	return unsafe.Pointer(&b.data[0])
}

func (b *hostBacking) Destroy() error {
	b.data = nil
	return nil
}
