package metadata

type block struct {
	offset uint32
	size   uint32
	free   bool

	prev BlockHandle
	next BlockHandle
}

// blockIndex is the offset-ordered sequence of blocks covering the managed region. Blocks live
// in a slot arena and are linked by handle so that neighbour lookup, insertion and removal are
// all O(1) and handles held by the other indices survive arena growth.
type blockIndex struct {
	slots  []block
	unused []BlockHandle

	head  BlockHandle
	tail  BlockHandle
	count int
}

func (b *blockIndex) init(size uint32) {
	b.slots = b.slots[:0]
	b.unused = b.unused[:0]
	b.count = 0
	b.head = NoBlock
	b.tail = NoBlock

	handle := b.newSlot()
	b.slots[handle] = block{offset: 0, size: size, free: true, prev: NoBlock, next: NoBlock}
	b.head = handle
	b.tail = handle
}

func (b *blockIndex) newSlot() BlockHandle {
	b.count++

	if len(b.unused) > 0 {
		handle := b.unused[len(b.unused)-1]
		b.unused = b.unused[:len(b.unused)-1]
		return handle
	}

	b.slots = append(b.slots, block{})
	return BlockHandle(len(b.slots) - 1)
}

// get returns the block for a handle. The pointer is only valid until the next call to
// insertAfter, which may grow the arena.
func (b *blockIndex) get(handle BlockHandle) *block {
	return &b.slots[handle]
}

// insertAfter creates a new block immediately after the provided one in offset order
func (b *blockIndex) insertAfter(handle BlockHandle, offset, size uint32, free bool) BlockHandle {
	newHandle := b.newSlot()
	next := b.slots[handle].next

	b.slots[newHandle] = block{
		offset: offset,
		size:   size,
		free:   free,
		prev:   handle,
		next:   next,
	}

	b.slots[handle].next = newHandle
	if next != NoBlock {
		b.slots[next].prev = newHandle
	} else {
		b.tail = newHandle
	}

	return newHandle
}

// remove unlinks a block from the sequence and recycles its slot. It does not adjust any
// other block's size; the caller is responsible for keeping the sequence gap-free.
func (b *blockIndex) remove(handle BlockHandle) {
	removed := b.slots[handle]

	if removed.prev != NoBlock {
		b.slots[removed.prev].next = removed.next
	} else {
		b.head = removed.next
	}

	if removed.next != NoBlock {
		b.slots[removed.next].prev = removed.prev
	} else {
		b.tail = removed.prev
	}

	b.slots[handle] = block{prev: NoBlock, next: NoBlock}
	b.unused = append(b.unused, handle)
	b.count--
}
