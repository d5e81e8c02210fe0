package metadata

// BlockHandle identifies a block in the block index. Handles are stable for the lifetime of
// the block they refer to, but are recycled once that block is merged away.
type BlockHandle int32

const (
	NoBlock BlockHandle = -1
)

// AllocationInfo describes a single live allocation
type AllocationInfo struct {
	Offset uint32
	Size   uint32
	Block  BlockHandle
}
