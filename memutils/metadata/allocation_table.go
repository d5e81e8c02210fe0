package metadata

import "github.com/dolthub/swiss"

const initialAllocationTableSize = 42

// allocationTable maps the offset of each live allocation to its record
type allocationTable struct {
	byOffset *swiss.Map[uint32, AllocationInfo]
}

func newAllocationTable() allocationTable {
	return allocationTable{
		byOffset: swiss.NewMap[uint32, AllocationInfo](initialAllocationTableSize),
	}
}

func (t *allocationTable) get(offset uint32) (AllocationInfo, bool) {
	return t.byOffset.Get(offset)
}

func (t *allocationTable) put(info AllocationInfo) {
	t.byOffset.Put(info.Offset, info)
}

func (t *allocationTable) delete(offset uint32) {
	t.byOffset.Delete(offset)
}

func (t *allocationTable) count() int {
	return t.byOffset.Count()
}

func (t *allocationTable) clear() {
	t.byOffset = swiss.NewMap[uint32, AllocationInfo](initialAllocationTableSize)
}
