package heap

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/suballoc/heap/internal/utils"
	"github.com/vkngwrapper/suballoc/memutils"
	"github.com/vkngwrapper/suballoc/memutils/metadata"
	"golang.org/x/exp/slog"
)

const defaultHeapName = "Unnamed Heap"

// CreateOptions contains optional settings when creating a heap
type CreateOptions struct {
	// Flags indicates specific heap behaviors to activate or deactivate
	Flags CreateFlags
	// Name is used to identify the heap in logs and statistics
	Name string
	// Alignment is the granularity every allocation is rounded up to. If it is left 0, the element
	// size is used.
	Alignment uint32
	// Backing creates the storage the heap's offsets index into. If it is left nil, the heap is
	// backed by ordinary host memory.
	Backing BackingFactory
}

// New creates a new Heap able to hold numElements elements of elementSize bytes each.
//
// logger - Receives diagnostic output. It may be nil, in which case nothing is logged.
//
// numElements, elementSize - Together these determine the size of the heap. The product is
// rounded up to the heap's alignment and must fit in 32 bits.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, numElements, elementSize uint32, options CreateOptions) (*Heap, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard))
	}

	alignment := options.Alignment
	if alignment == 0 {
		alignment = elementSize
	}

	name := options.Name
	if name == "" {
		name = defaultHeapName
	}

	md, err := metadata.NewBestFitBlockMetadata(numElements, elementSize, alignment)
	if err != nil {
		return nil, errors.Wrapf(err, "could not create heap %q", name)
	}

	factory := options.Backing
	if factory == nil {
		factory = newHostBacking
	}

	backing, err := factory(int(md.Size()))
	if err != nil {
		return nil, errors.Wrapf(err, "could not create storage for heap %q", name)
	}

	if backing.Size() < int(md.Size()) {
		destroyErr := backing.Destroy()
		return nil, errors.CombineErrors(
			errors.Wrapf(memutils.InvalidArgumentError,
				"storage for heap %q is %d bytes, but the heap requires %d", name, backing.Size(), md.Size()),
			destroyErr,
		)
	}

	h := &Heap{
		logger:      logger.With(slog.String("heap", name)),
		name:        name,
		flags:       options.Flags,
		numElements: numElements,
		elementSize: elementSize,
		mutex: utils.OptionalMutex{
			UseMutex: options.Flags&CreateExternallySynchronized == 0,
		},
		metadata: md,
		backing:  backing,
	}

	h.logger.Info("initialized",
		slog.Int("SizeKB", int(md.Size()/1024)),
		slog.Int("ElementSize", int(elementSize)),
		slog.Int("NumElements", int(numElements)),
		slog.Bool("HostVisible", backing.MappedData() != nil),
		slog.String("Flags", options.Flags.String()),
	)

	return h, nil
}
