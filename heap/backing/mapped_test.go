//go:build unix

package backing_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/suballoc/heap"
	"github.com/vkngwrapper/suballoc/heap/backing"
	"github.com/vkngwrapper/suballoc/memutils"
)

func TestAnonymousMapping(t *testing.T) {
	mapping, err := backing.NewAnonymousMapping(4096)
	require.NoError(t, err)

	require.Equal(t, 4096, mapping.Size())
	require.NotNil(t, mapping.MappedData())
	require.Equal(t, make([]byte, 4096), mapping.Bytes())

	mapping.Bytes()[4095] = 0xff
	require.NoError(t, mapping.Flush(4000, 96))
	require.ErrorIs(t, mapping.Flush(4000, 97), memutils.InvalidArgumentError)

	require.NoError(t, mapping.Destroy())
	require.Nil(t, mapping.MappedData())
	require.NoError(t, mapping.Destroy())
}

func TestAnonymousMappingRejectsEmpty(t *testing.T) {
	_, err := backing.NewAnonymousMapping(0)
	require.ErrorIs(t, err, memutils.InvalidArgumentError)
}

func TestFileMappingPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.bin")

	mapping, err := backing.NewFileMapping(path, 10000)
	require.NoError(t, err)

	copy(mapping.Bytes()[5000:], "persisted")
	require.NoError(t, mapping.Flush(5000, 9))
	require.NoError(t, mapping.Destroy())

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, contents, 10000)
	require.Equal(t, []byte("persisted"), contents[5000:5009])

	// Mapping the file again sees the old contents
	mapping, err = backing.NewFileMapping(path, 10000)
	require.NoError(t, err)
	require.Equal(t, []byte("persisted"), mapping.Bytes()[5000:5009])
	require.NoError(t, mapping.Destroy())
}

func TestHeapOnFileMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.bin")

	h, err := heap.New(nil, 100, 40, heap.CreateOptions{
		Name:    "Mapped",
		Backing: backing.FileFactory(path),
	})
	require.NoError(t, err)

	offset, err := h.Allocate(40)
	require.NoError(t, err)
	offset2, err := h.Allocate(40)
	require.NoError(t, err)

	copy(h.Bytes(offset2), "second element")
	require.NoError(t, h.TrackWrite(offset2, 14))
	require.NoError(t, h.FlushWrites())

	require.NoError(t, h.Free(offset))
	require.NoError(t, h.Free(offset2))
	require.NoError(t, h.Destroy())

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("second element"), contents[40:54])
}

func TestHeapOnAnonymousMapping(t *testing.T) {
	h, err := heap.New(nil, 8, 512, heap.CreateOptions{
		Backing: backing.AnonymousFactory(),
	})
	require.NoError(t, err)

	_, isMapped := h.Backing().(*backing.MappedMemory)
	require.True(t, isMapped)

	offset, err := h.Allocate(1000)
	require.NoError(t, err)
	require.Len(t, h.Bytes(offset), 1024)
	require.NoError(t, h.Free(offset))
	require.NoError(t, h.Destroy())
}
