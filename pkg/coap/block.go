package coap

import (
	"fmt"

	"github.com/plgd-dev/go-coap/v3/net/blockwise"
)

// Block is a decoded Block1/Block2 option value (RFC 7959 Section 2.2).
type Block struct {
	// Num is the block number.
	Num uint32
	// More is set when further blocks follow.
	More bool
	// Size is the block size in bytes, a power of two from 16 to 1024.
	Size int
}

// Offset returns the byte offset of the block within the whole body.
func (b Block) Offset() int {
	return int(b.Num) * b.Size
}

// Encode returns the option value for b.
func (b Block) Encode() (uint32, error) {
	szx, err := sizeToSZX(b.Size)
	if err != nil {
		return 0, err
	}
	v, err := blockwise.EncodeBlockOption(szx, int64(b.Num), b.More)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidBlock, err)
	}
	return v, nil
}

// DecodeBlock parses a Block1/Block2 option value. BERT is rejected.
func DecodeBlock(v uint32) (Block, error) {
	szx, num, more, err := blockwise.DecodeBlockOption(v)
	if err != nil {
		return Block{}, fmt.Errorf("%w: %v", ErrInvalidBlock, err)
	}
	if szx > blockwise.SZX1024 {
		return Block{}, ErrInvalidBlock
	}
	return Block{Num: uint32(num), More: more, Size: int(szx.Size())}, nil
}

func sizeToSZX(size int) (blockwise.SZX, error) {
	for szx := blockwise.SZX16; szx <= blockwise.SZX1024; szx++ {
		if int(szx.Size()) == size {
			return szx, nil
		}
	}
	return 0, ErrInvalidBlock
}
