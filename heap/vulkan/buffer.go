// Package vulkan provides heap storage made of a single Vulkan buffer bound to its own device
// memory, so that heap offsets can be used directly as buffer offsets in descriptors and
// bindings.
package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/suballoc/heap"
	"github.com/vkngwrapper/suballoc/memutils"
)

// BufferOptions contains the settings used to create a BufferBacking
type BufferOptions struct {
	// Usage is the set of usages the buffer is created with
	Usage core1_0.BufferUsageFlags
	// MemoryProperties is the set of properties that the memory type the buffer is bound to must
	// have. If it includes MemoryPropertyHostVisible, the memory is persistently mapped and the heap
	// can translate offsets into host pointers.
	MemoryProperties core1_0.MemoryPropertyFlags
	// AllocationCallbacks is passed to every Vulkan call that creates or destroys an object. It
	// may be nil.
	AllocationCallbacks *driver.AllocationCallbacks
}

// BufferBacking is heap storage made of a Vulkan buffer and a dedicated device memory allocation
type BufferBacking struct {
	device    core1_0.Device
	callbacks *driver.AllocationCallbacks

	buffer          core1_0.Buffer
	memory          core1_0.DeviceMemory
	memoryTypeIndex int
	size            int
	memorySize      int

	mapped unsafe.Pointer
	// 0 when the memory is host coherent or not host visible
	nonCoherentAtomSize int
}

var _ heap.Backing = &BufferBacking{}
var _ heap.Flusher = &BufferBacking{}

// NewBufferBacking creates a buffer of size bytes, allocates device memory for it from the first
// memory type that supports both the buffer and options.MemoryProperties, and binds the two
// together.
func NewBufferBacking(device core1_0.Device, physicalDevice core1_0.PhysicalDevice, size int, options BufferOptions) (*BufferBacking, error) {
	if size <= 0 {
		return nil, errors.Wrapf(memutils.InvalidArgumentError, "cannot create a buffer of %d bytes", size)
	}

	deviceProperties, err := physicalDevice.Properties()
	if err != nil {
		return nil, err
	}
	memoryProperties := physicalDevice.MemoryProperties()

	b := &BufferBacking{
		device:    device,
		callbacks: options.AllocationCallbacks,
		size:      size,
	}

	b.buffer, _, err = device.CreateBuffer(options.AllocationCallbacks, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       options.Usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create a buffer of %d bytes", size)
	}

	memReqs := b.buffer.MemoryRequirements()
	err = memutils.CheckPow2(memReqs.Alignment, "buffer memory alignment")
	if err != nil {
		return nil, b.destroyOnError(err)
	}

	b.memoryTypeIndex = findMemoryTypeIndex(memoryProperties, memReqs.MemoryTypeBits, options.MemoryProperties)
	if b.memoryTypeIndex < 0 {
		return nil, b.destroyOnError(errors.Newf("no memory type supports the buffer with properties %s",
			options.MemoryProperties.String()))
	}

	b.memorySize = memReqs.Size
	b.memory, _, err = device.AllocateMemory(options.AllocationCallbacks, core1_0.MemoryAllocateInfo{
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: b.memoryTypeIndex,
	})
	if err != nil {
		return nil, b.destroyOnError(errors.Wrapf(err, "failed to allocate %d bytes of device memory", memReqs.Size))
	}

	_, err = b.buffer.BindBufferMemory(b.memory, 0)
	if err != nil {
		return nil, b.destroyOnError(errors.Wrap(err, "failed to bind buffer memory"))
	}

	flags := memoryProperties.MemoryTypes[b.memoryTypeIndex].PropertyFlags
	if flags&core1_0.MemoryPropertyHostVisible == 0 {
		return b, nil
	}

	if flags&core1_0.MemoryPropertyHostCoherent == 0 {
		b.nonCoherentAtomSize = deviceProperties.Limits.NonCoherentAtomSize
		err = memutils.CheckPow2(b.nonCoherentAtomSize, "device nonCoherentAtomSize")
		if err != nil {
			return nil, b.destroyOnError(err)
		}
	}

	b.mapped, _, err = b.memory.Map(0, -1, 0)
	if err != nil {
		return nil, b.destroyOnError(errors.Wrap(err, "failed to map buffer memory"))
	}

	return b, nil
}

// Factory creates heaps backed by a BufferBacking
func Factory(device core1_0.Device, physicalDevice core1_0.PhysicalDevice, options BufferOptions) heap.BackingFactory {
	return func(size int) (heap.Backing, error) {
		return NewBufferBacking(device, physicalDevice, size, options)
	}
}

func findMemoryTypeIndex(memoryProperties *core1_0.PhysicalDeviceMemoryProperties, memoryTypeBits uint32, required core1_0.MemoryPropertyFlags) int {
	for memTypeIndex, memType := range memoryProperties.MemoryTypes {
		if memoryTypeBits&(1<<memTypeIndex) == 0 {
			continue
		}

		if memType.PropertyFlags&required == required {
			return memTypeIndex
		}
	}

	return -1
}

func (b *BufferBacking) destroyOnError(err error) error {
	return errors.CombineErrors(err, b.Destroy())
}

// Buffer returns the buffer that heap offsets index into
func (b *BufferBacking) Buffer() core1_0.Buffer {
	return b.buffer
}

// Memory returns the device memory bound to the buffer
func (b *BufferBacking) Memory() core1_0.DeviceMemory {
	return b.memory
}

// MemoryTypeIndex returns the index of the memory type the buffer's memory was allocated from
func (b *BufferBacking) MemoryTypeIndex() int {
	return b.memoryTypeIndex
}

// Size returns the size of the buffer in bytes
func (b *BufferBacking) Size() int {
	return b.size
}

// MappedData returns a host pointer to the start of the buffer, or nil if the buffer's memory is
// not host visible
func (b *BufferBacking) MappedData() unsafe.Pointer {
	return b.mapped
}

// Flush makes host writes to the provided byte range of the buffer visible to the device. It is a
// no-op for host coherent memory.
func (b *BufferBacking) Flush(offset, size int) error {
	if b.mapped == nil || b.nonCoherentAtomSize == 0 || size == 0 {
		return nil
	}

	if offset < 0 || size < 0 || offset+size > b.size {
		return errors.Wrapf(memutils.InvalidArgumentError,
			"range [%d, %d) is outside the %d byte buffer", offset, offset+size, b.size)
	}

	memutils.DebugCheckPow2(b.nonCoherentAtomSize, "nonCoherentAtomSize")
	atomSize := uint64(b.nonCoherentAtomSize)
	memRange := core1_0.MappedMemoryRange{
		Memory: b.memory,
		Offset: int(memutils.AlignDown(uint64(offset), atomSize)),
	}
	memRange.Size = int(memutils.AlignUp(uint64(offset+size-memRange.Offset), atomSize))
	if memRange.Offset+memRange.Size > b.memorySize {
		memRange.Size = b.memorySize - memRange.Offset
	}

	_, err := b.device.FlushMappedMemoryRanges([]core1_0.MappedMemoryRange{memRange})
	return err
}

// Destroy unmaps and frees the buffer's memory and destroys the buffer
func (b *BufferBacking) Destroy() error {
	if b.mapped != nil {
		b.memory.Unmap()
		b.mapped = nil
	}

	if b.buffer != nil {
		b.buffer.Destroy(b.callbacks)
		b.buffer = nil
	}

	if b.memory != nil {
		b.memory.Free(b.callbacks)
		b.memory = nil
	}

	return nil
}
