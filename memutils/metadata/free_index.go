package metadata

import "github.com/google/btree"

const freeIndexDegree = 16

type freeEntry struct {
	size   uint32
	offset uint32
	block  BlockHandle
}

// Entries of equal size are ordered by offset, so among equally good candidates the lowest
// address wins.
func freeEntryLess(a, b freeEntry) bool {
	if a.size != b.size {
		return a.size < b.size
	}

	return a.offset < b.offset
}

// freeIndex orders every free block by size so that the smallest block able to hold a
// request can be found in O(log n).
type freeIndex struct {
	tree *btree.BTreeG[freeEntry]
}

func newFreeIndex() freeIndex {
	return freeIndex{
		tree: btree.NewG[freeEntry](freeIndexDegree, freeEntryLess),
	}
}

func entryFor(handle BlockHandle, b *block) freeEntry {
	return freeEntry{size: b.size, offset: b.offset, block: handle}
}

func (i *freeIndex) insert(entry freeEntry) {
	_, replaced := i.tree.ReplaceOrInsert(entry)
	if replaced {
		panic("free block index already contained a block at this offset")
	}
}

func (i *freeIndex) remove(entry freeEntry) {
	_, found := i.tree.Delete(entry)
	if !found {
		panic("block was not in the free block index at the expected location")
	}
}

func (i *freeIndex) contains(entry freeEntry) bool {
	found, ok := i.tree.Get(entry)
	return ok && found.block == entry.block
}

// bestFit returns the smallest free block whose size is at least size
func (i *freeIndex) bestFit(size uint32) (freeEntry, bool) {
	var result freeEntry
	var found bool

	i.tree.AscendGreaterOrEqual(freeEntry{size: size}, func(entry freeEntry) bool {
		result = entry
		found = true
		return false
	})

	return result, found
}

func (i *freeIndex) largest() (freeEntry, bool) {
	return i.tree.Max()
}

func (i *freeIndex) len() int {
	return i.tree.Len()
}

func (i *freeIndex) clear() {
	i.tree.Clear(true)
}
