// Package backing provides heap storage that lives outside the Go heap.
package backing

import (
	"os"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/suballoc/heap"
	"github.com/vkngwrapper/suballoc/memutils"
)

// ErrMappingNotSupported is returned when memory mapping is not available on the current platform
var ErrMappingNotSupported = errors.New("memory mapping is not supported on this platform")

// MappedMemory is heap storage backed by a memory mapping. An anonymous mapping behaves like
// ordinary host memory that the garbage collector never scans or moves. A file mapping shares
// the heap's contents with the file, and Flush writes them back to it.
type MappedMemory struct {
	data []byte
	file *os.File
}

var _ heap.Backing = &MappedMemory{}
var _ heap.Flusher = &MappedMemory{}

// NewAnonymousMapping maps size bytes of zeroed memory
func NewAnonymousMapping(size int) (*MappedMemory, error) {
	if size <= 0 {
		return nil, errors.Wrapf(memutils.InvalidArgumentError, "cannot map %d bytes", size)
	}

	data, err := mapAnonymous(size)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map %d anonymous bytes", size)
	}

	return &MappedMemory{data: data}, nil
}

// NewFileMapping maps the first size bytes of the file at path, creating the file if it does not
// exist and growing it if it is shorter than size. Existing contents are preserved.
func NewFileMapping(path string, size int) (*MappedMemory, error) {
	if size <= 0 {
		return nil, errors.Wrapf(memutils.InvalidArgumentError, "cannot map %d bytes", size)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}

	info, err := file.Stat()
	if err == nil && info.Size() < int64(size) {
		err = file.Truncate(int64(size))
	}
	if err != nil {
		return nil, errors.CombineErrors(errors.Wrapf(err, "failed to size %s", path), file.Close())
	}

	data, err := mapFile(file.Fd(), size)
	if err != nil {
		return nil, errors.CombineErrors(errors.Wrapf(err, "failed to map %s", path), file.Close())
	}

	return &MappedMemory{data: data, file: file}, nil
}

// AnonymousFactory creates heaps backed by anonymous mappings
func AnonymousFactory() heap.BackingFactory {
	return func(size int) (heap.Backing, error) {
		return NewAnonymousMapping(size)
	}
}

// FileFactory creates heaps backed by a mapping of the file at path
func FileFactory(path string) heap.BackingFactory {
	return func(size int) (heap.Backing, error) {
		return NewFileMapping(path, size)
	}
}

// Size returns the size of the mapping in bytes
func (m *MappedMemory) Size() int {
	return len(m.data)
}

// MappedData returns a pointer to the start of the mapping
func (m *MappedMemory) MappedData() unsafe.Pointer {
	if len(m.data) == 0 {
		return nil
	}

	return unsafe.Pointer(&m.data[0])
}

// Bytes returns the whole mapping
func (m *MappedMemory) Bytes() []byte {
	return m.data
}

// Flush synchronously writes the pages covering the provided range back to the mapped file. It
// is a no-op for anonymous mappings.
func (m *MappedMemory) Flush(offset, size int) error {
	if m.data == nil {
		return errors.New("mapping has been destroyed")
	}
	if offset < 0 || size < 0 || offset+size > len(m.data) {
		return errors.Wrapf(memutils.InvalidArgumentError,
			"range [%d, %d) is outside the %d byte mapping", offset, offset+size, len(m.data))
	}
	if m.file == nil || size == 0 {
		return nil
	}

	return syncRange(m.data, offset, size)
}

// Destroy unmaps the memory and closes the mapped file, if any
func (m *MappedMemory) Destroy() error {
	if m.data == nil {
		return nil
	}

	err := unmap(m.data)
	m.data = nil

	if m.file != nil {
		err = errors.CombineErrors(err, m.file.Close())
		m.file = nil
	}

	return err
}
