package common

import "fmt"

// uoffsetBits is the width of the intra-block part of a packed virtual
// offset. The compressed file offset occupies the remaining upper 48 bits.
const uoffsetBits = 16

// VirtualOffset addresses a single byte of the decompressed stream inside
// a block-compressed container. Coffset is the file offset of the block's
// first byte, Uoffset the byte offset within that block's decompressed
// payload. Offsets are totally ordered by (Coffset, Uoffset).
type VirtualOffset struct {
	Coffset uint64
	Uoffset uint16
}

// EndOfStream is the sentinel offset that sorts after every addressable
// position, used to mean "read to the end of the container".
var EndOfStream = VirtualOffset{
	Coffset: 1<<(64-uoffsetBits) - 1,
	Uoffset: 1<<uoffsetBits - 1,
}

// Packed folds the offset into a single uint64:
//
//	+------- 48 bits -------+---- 16 bits ----+
//	|        Coffset        |     Uoffset     |
//	+-----------------------+-----------------+
func (v VirtualOffset) Packed() uint64 {
	return v.Coffset<<uoffsetBits | uint64(v.Uoffset)
}

// UnpackVirtualOffset is the inverse of Packed.
func UnpackVirtualOffset(p uint64) VirtualOffset {
	return VirtualOffset{
		Coffset: p >> uoffsetBits,
		Uoffset: uint16(p & (1<<uoffsetBits - 1)),
	}
}

func (v VirtualOffset) Less(other VirtualOffset) bool {
	return v.Packed() < other.Packed()
}

func (v VirtualOffset) Equal(other VirtualOffset) bool {
	return v == other
}

func (v VirtualOffset) String() string {
	return fmt.Sprintf("%d:%d", v.Coffset, v.Uoffset)
}
