package heap

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/suballoc/memutils"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

type writeRange struct {
	offset int
	size   int
}

func (r writeRange) end() int {
	return r.offset + r.size
}

// writeTracker accumulates ranges of the backing storage that have been written by the host
// since the last flush
type writeTracker struct {
	ranges []writeRange
}

func (t *writeTracker) add(offset, size int) {
	t.ranges = append(t.ranges, writeRange{offset: offset, size: size})
}

func (t *writeTracker) reset() {
	t.ranges = t.ranges[:0]
}

// drain returns the tracked ranges sorted by offset with overlapping and touching ranges merged,
// and empties the tracker
func (t *writeTracker) drain() []writeRange {
	if len(t.ranges) == 0 {
		return nil
	}

	slices.SortFunc(t.ranges, func(a, b writeRange) bool {
		return a.offset < b.offset
	})

	merged := make([]writeRange, 0, len(t.ranges))
	current := t.ranges[0]
	for _, r := range t.ranges[1:] {
		if r.offset <= current.end() {
			if r.end() > current.end() {
				current.size = r.end() - current.offset
			}
			continue
		}

		merged = append(merged, current)
		current = r
	}
	merged = append(merged, current)

	t.reset()
	return merged
}

// TrackWrite records that the host has written size bytes of the allocation at offset, starting
// at the beginning of the allocation. A size of 0 or less records the whole allocation. The
// recorded ranges are made visible by the next call to FlushWrites.
func (h *Heap) TrackWrite(offset Offset, size int) error {
	if offset == NullOffset {
		return errors.Wrap(memutils.InvalidArgumentError, "cannot track a write to the null offset")
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if err := h.checkAlive(); err != nil {
		return err
	}

	allocSize, err := h.metadata.AllocationSize(offset.blockOffset())
	if err != nil {
		return errors.Wrapf(err, "heap %q", h.name)
	}

	if size <= 0 {
		size = int(allocSize)
	} else if size > int(allocSize) {
		return errors.Wrapf(memutils.InvalidArgumentError,
			"write of %d bytes exceeds the %d byte allocation at offset %d", size, allocSize, offset)
	}

	h.writes.add(int(offset.blockOffset()), size)
	return nil
}

// FlushWrites makes every range recorded by TrackWrite visible to other observers of the heap's
// storage. If the storage does not implement Flusher, the recorded ranges are discarded.
func (h *Heap) FlushWrites() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if err := h.checkAlive(); err != nil {
		return err
	}

	ranges := h.writes.drain()
	flusher, isFlusher := h.backing.(Flusher)
	if !isFlusher {
		return nil
	}

	var flushErr error
	for _, r := range ranges {
		h.logger.Debug("Heap::FlushWrites", slog.Int("Offset", r.offset), slog.Int("Size", r.size))

		err := flusher.Flush(r.offset, r.size)
		if err != nil {
			flushErr = errors.CombineErrors(flushErr,
				errors.Wrapf(err, "failed to flush %d bytes at %d in heap %q", r.size, r.offset, h.name))
		}
	}

	return flushErr
}
