package pool

import (
	"fmt"

	termerrors "github.com/machdmach/termpool/errors"
)

// SliceReader reads back one term's byte stream, following forwarding
// addresses across chained slices. It reads the bytes of each slice until
// it hits that slice's limit, then jumps to the address stored in the
// slice's last four bytes.
type SliceReader struct {
	pool        *BytePool
	block       []byte
	blockOffset int
	upto        int
	limit       int
	level       int
	endIndex    int
}

// Init positions the reader at packed address startIndex and bounds it at
// endIndex, the stream's current write cursor.
func (r *SliceReader) Init(p *BytePool, startIndex, endIndex int) {
	r.pool = p
	r.endIndex = endIndex
	r.level = 0

	blockUpto := startIndex >> ByteBlockShift
	r.blockOffset = blockUpto << ByteBlockShift
	r.block = p.Blocks[blockUpto]
	r.upto = startIndex & ByteBlockMask

	if startIndex+FirstSliceSize >= endIndex {
		// the whole stream fits in the first slice
		r.limit = endIndex & ByteBlockMask
	} else {
		r.limit = r.upto + FirstSliceSize - 4
	}
}

// Eof reports whether the stream is exhausted.
func (r *SliceReader) Eof() bool {
	return r.upto+r.blockOffset == r.endIndex
}

// ReadByte returns the next stream byte.
func (r *SliceReader) ReadByte() (byte, error) {
	if r.Eof() {
		return 0, fmt.Errorf("%w: read past end of stream", termerrors.ErrCorruptPostings)
	}
	if r.upto == r.limit {
		r.nextSlice()
	}
	b := r.block[r.upto]
	r.upto++
	return b, nil
}

// ReadVInt decodes a variable-length int written by the stream writer.
func (r *SliceReader) ReadVInt() (int, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	v := int(b & 0x7f)
	for shift := 7; b&0x80 != 0; shift += 7 {
		if shift > 28 {
			return 0, fmt.Errorf("%w: vint too long", termerrors.ErrCorruptPostings)
		}
		if b, err = r.ReadByte(); err != nil {
			return 0, err
		}
		v |= int(b&0x7f) << shift
	}
	return v, nil
}

func (r *SliceReader) nextSlice() {
	// The last four bytes of the slice hold the forwarding address.
	nextIndex := int(r.block[r.limit])<<24 |
		int(r.block[r.limit+1])<<16 |
		int(r.block[r.limit+2])<<8 |
		int(r.block[r.limit+3])

	r.level = nextSliceLevel[r.level]
	size := sliceSizes[r.level]

	blockUpto := nextIndex >> ByteBlockShift
	r.blockOffset = blockUpto << ByteBlockShift
	r.block = r.pool.Blocks[blockUpto]
	r.upto = nextIndex & ByteBlockMask

	if nextIndex+size >= r.endIndex {
		// final slice
		r.limit = r.endIndex - r.blockOffset
	} else {
		// this slice ends with a forwarding address
		r.limit = r.upto + size - 4
	}
}
