package vulkan_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/suballoc/heap"
	"github.com/vkngwrapper/suballoc/heap/vulkan"
	"github.com/vkngwrapper/suballoc/memutils"
)

type fakePhysicalDevice struct {
	core1_0.PhysicalDevice

	properties       core1_0.PhysicalDeviceProperties
	memoryProperties core1_0.PhysicalDeviceMemoryProperties
}

func (d *fakePhysicalDevice) Properties() (*core1_0.PhysicalDeviceProperties, error) {
	return &d.properties, nil
}

func (d *fakePhysicalDevice) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return &d.memoryProperties
}

type fakeDevice struct {
	core1_0.Device

	memoryTypeBits uint32
	alignment      int
	buffers        []*fakeBuffer
	memories       []*fakeMemory
	allocateInfos  []core1_0.MemoryAllocateInfo
	flushedRanges  []core1_0.MappedMemoryRange
}

func (d *fakeDevice) CreateBuffer(callbacks *driver.AllocationCallbacks, o core1_0.BufferCreateInfo) (core1_0.Buffer, common.VkResult, error) {
	buffer := &fakeBuffer{
		createInfo: o,
		requirements: core1_0.MemoryRequirements{
			Size:           int(memutils.AlignUp(uint64(o.Size), uint64(d.alignment))),
			Alignment:      d.alignment,
			MemoryTypeBits: d.memoryTypeBits,
		},
	}
	d.buffers = append(d.buffers, buffer)
	return buffer, core1_0.VKSuccess, nil
}

func (d *fakeDevice) AllocateMemory(callbacks *driver.AllocationCallbacks, o core1_0.MemoryAllocateInfo) (core1_0.DeviceMemory, common.VkResult, error) {
	d.allocateInfos = append(d.allocateInfos, o)
	memory := &fakeMemory{data: make([]byte, o.AllocationSize)}
	d.memories = append(d.memories, memory)
	return memory, core1_0.VKSuccess, nil
}

func (d *fakeDevice) FlushMappedMemoryRanges(ranges []core1_0.MappedMemoryRange) (common.VkResult, error) {
	d.flushedRanges = append(d.flushedRanges, ranges...)
	return core1_0.VKSuccess, nil
}

type fakeBuffer struct {
	core1_0.Buffer

	createInfo   core1_0.BufferCreateInfo
	requirements core1_0.MemoryRequirements
	boundMemory  core1_0.DeviceMemory
	destroyed    bool
}

func (b *fakeBuffer) MemoryRequirements() *core1_0.MemoryRequirements {
	return &b.requirements
}

func (b *fakeBuffer) BindBufferMemory(memory core1_0.DeviceMemory, offset int) (common.VkResult, error) {
	b.boundMemory = memory
	return core1_0.VKSuccess, nil
}

func (b *fakeBuffer) Destroy(callbacks *driver.AllocationCallbacks) {
	b.destroyed = true
}

type fakeMemory struct {
	core1_0.DeviceMemory

	data     []byte
	mapped   bool
	unmapped bool
	freed    bool
}

func (m *fakeMemory) Map(offset int, size int, flags core1_0.MemoryMapFlags) (unsafe.Pointer, common.VkResult, error) {
	m.mapped = true
	return unsafe.Pointer(&m.data[offset]), core1_0.VKSuccess, nil
}

func (m *fakeMemory) Unmap() {
	m.unmapped = true
}

func (m *fakeMemory) Free(callbacks *driver.AllocationCallbacks) {
	m.freed = true
}

func readyDevice(memoryTypes []core1_0.MemoryType) (*fakeDevice, *fakePhysicalDevice) {
	device := &fakeDevice{
		memoryTypeBits: 0xffffffff,
		alignment:      256,
	}
	physicalDevice := &fakePhysicalDevice{
		properties: core1_0.PhysicalDeviceProperties{
			Limits: &core1_0.PhysicalDeviceLimits{
				NonCoherentAtomSize: 64,
			},
		},
		memoryProperties: core1_0.PhysicalDeviceMemoryProperties{
			MemoryTypes: memoryTypes,
		},
	}

	return device, physicalDevice
}

func TestBufferBackingHostCoherent(t *testing.T) {
	device, physicalDevice := readyDevice([]core1_0.MemoryType{
		{PropertyFlags: core1_0.MemoryPropertyDeviceLocal},
		{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent},
	})

	backing, err := vulkan.NewBufferBacking(device, physicalDevice, 1000, vulkan.BufferOptions{
		Usage:            core1_0.BufferUsageStorageBuffer,
		MemoryProperties: core1_0.MemoryPropertyHostVisible,
	})
	require.NoError(t, err)

	require.Equal(t, 1000, backing.Size())
	require.Equal(t, 1, backing.MemoryTypeIndex())
	require.NotNil(t, backing.MappedData())
	require.Len(t, device.buffers, 1)
	require.Equal(t, core1_0.BufferCreateInfo{
		Size:        1000,
		Usage:       core1_0.BufferUsageStorageBuffer,
		SharingMode: core1_0.SharingModeExclusive,
	}, device.buffers[0].createInfo)
	require.Equal(t, []core1_0.MemoryAllocateInfo{
		{AllocationSize: 1024, MemoryTypeIndex: 1},
	}, device.allocateInfos)
	require.Same(t, device.memories[0], device.buffers[0].boundMemory)

	// Coherent memory never needs flushing
	require.NoError(t, backing.Flush(10, 20))
	require.Empty(t, device.flushedRanges)

	require.NoError(t, backing.Destroy())
	require.True(t, device.memories[0].unmapped)
	require.True(t, device.memories[0].freed)
	require.True(t, device.buffers[0].destroyed)
}

func TestBufferBackingNonCoherentFlush(t *testing.T) {
	device, physicalDevice := readyDevice([]core1_0.MemoryType{
		{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCached},
	})

	backing, err := vulkan.NewBufferBacking(device, physicalDevice, 1000, vulkan.BufferOptions{
		Usage:            core1_0.BufferUsageStorageBuffer,
		MemoryProperties: core1_0.MemoryPropertyHostVisible,
	})
	require.NoError(t, err)

	require.NoError(t, backing.Flush(100, 10))
	require.NoError(t, backing.Flush(990, 10))
	require.Equal(t, []core1_0.MappedMemoryRange{
		{Memory: device.memories[0], Offset: 64, Size: 64},
		{Memory: device.memories[0], Offset: 960, Size: 64},
	}, device.flushedRanges)

	require.ErrorIs(t, backing.Flush(990, 20), memutils.InvalidArgumentError)
	require.NoError(t, backing.Destroy())
}

func TestBufferBackingDeviceLocal(t *testing.T) {
	device, physicalDevice := readyDevice([]core1_0.MemoryType{
		{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent},
		{PropertyFlags: core1_0.MemoryPropertyDeviceLocal},
	})
	device.memoryTypeBits = 0x2

	backing, err := vulkan.NewBufferBacking(device, physicalDevice, 512, vulkan.BufferOptions{
		Usage: core1_0.BufferUsageStorageBuffer,
	})
	require.NoError(t, err)
	require.Equal(t, 1, backing.MemoryTypeIndex())
	require.Nil(t, backing.MappedData())
	require.False(t, device.memories[0].mapped)

	require.NoError(t, backing.Destroy())
	require.False(t, device.memories[0].unmapped)
	require.True(t, device.memories[0].freed)
}

func TestBufferBackingNoMemoryType(t *testing.T) {
	device, physicalDevice := readyDevice([]core1_0.MemoryType{
		{PropertyFlags: core1_0.MemoryPropertyDeviceLocal},
	})

	_, err := vulkan.NewBufferBacking(device, physicalDevice, 512, vulkan.BufferOptions{
		MemoryProperties: core1_0.MemoryPropertyHostVisible,
	})
	require.Error(t, err)
	require.Len(t, device.buffers, 1)
	require.True(t, device.buffers[0].destroyed)
	require.Empty(t, device.memories)
}

func TestBufferBackingRejectsNonPowerOfTwoAlignment(t *testing.T) {
	device, physicalDevice := readyDevice([]core1_0.MemoryType{
		{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent},
	})
	device.alignment = 48

	_, err := vulkan.NewBufferBacking(device, physicalDevice, 512, vulkan.BufferOptions{})
	require.ErrorIs(t, err, memutils.PowerOfTwoError)
	require.True(t, device.buffers[0].destroyed)
}

func TestHeapOnBuffer(t *testing.T) {
	device, physicalDevice := readyDevice([]core1_0.MemoryType{
		{PropertyFlags: core1_0.MemoryPropertyHostVisible},
	})

	h, err := heap.New(nil, 16, 64, heap.CreateOptions{
		Name: "Uniforms",
		Backing: vulkan.Factory(device, physicalDevice, vulkan.BufferOptions{
			Usage:            core1_0.BufferUsageUniformBuffer,
			MemoryProperties: core1_0.MemoryPropertyHostVisible,
		}),
	})
	require.NoError(t, err)

	first, err := h.Allocate(64)
	require.NoError(t, err)
	second, err := h.Allocate(100)
	require.NoError(t, err)

	offset, ok := h.ResourceOffset(second)
	require.True(t, ok)
	require.Equal(t, 64, offset)

	copy(h.Bytes(second), []byte("uniform data"))
	require.Equal(t, []byte("uniform data"), device.memories[0].data[64:76])

	require.NoError(t, h.TrackWrite(first, 0))
	require.NoError(t, h.TrackWrite(second, 12))
	require.NoError(t, h.FlushWrites())
	require.Equal(t, []core1_0.MappedMemoryRange{
		{Memory: device.memories[0], Offset: 0, Size: 128},
	}, device.flushedRanges)

	require.NoError(t, h.Free(first))
	require.NoError(t, h.Free(second))
	require.NoError(t, h.Destroy())
	require.True(t, device.buffers[0].destroyed)
	require.True(t, device.memories[0].freed)
}
