// Package pool implements the block-pooled storage backing term indexing:
// append-only pools of fixed-size byte and int blocks addressed by packed
// block/offset integers, with chained variable-length regions ("slices")
// carved out of the byte blocks for per-term streams.
package pool

const (
	// ByteBlockShift fixes byte blocks at 32 KiB. A packed byte-pool
	// address is blockIndex<<ByteBlockShift | offsetWithinBlock.
	ByteBlockShift = 15
	ByteBlockSize  = 1 << ByteBlockShift
	ByteBlockMask  = ByteBlockSize - 1
)

// Per-term byte streams are stored as chained slices of increasing size.
// A stream starts in a FirstSliceSize slice; when a write hits the non-zero
// end marker, AllocSlice carves the next larger slice and overwrites the old
// slice's tail with a 4-byte forwarding address. Slice interiors must read
// as zero for the end-marker scheme to work, so blocks reach the pool
// zero-filled: fresh from the allocator, or cleared on a recycling Reset.
var (
	sliceSizes     = [10]int{5, 14, 20, 30, 40, 40, 80, 80, 120, 200}
	nextSliceLevel = [10]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 9}
)

// FirstSliceSize is the size of the first slice of every stream. Streams of
// one term are allocated back to back, so stream i of a term starts at the
// term's first slice address plus i*FirstSliceSize.
const FirstSliceSize = 5

// ByteAllocator hands out fixed-size byte blocks and takes them back when a
// pool is reset.
type ByteAllocator interface {
	ByteBlock() []byte
	RecycleByteBlocks(blocks [][]byte)
}

// DirectByteAllocator never recycles. It tracks total block bytes held so
// the caller can make memory-pressure decisions.
type DirectByteAllocator struct {
	bytesUsed Counter
}

func NewDirectByteAllocator(bytesUsed Counter) *DirectByteAllocator {
	return &DirectByteAllocator{bytesUsed: bytesUsed}
}

func (a *DirectByteAllocator) ByteBlock() []byte {
	a.bytesUsed.Add(ByteBlockSize)
	return make([]byte, ByteBlockSize)
}

func (a *DirectByteAllocator) RecycleByteBlocks(blocks [][]byte) {
	a.bytesUsed.Add(-int64(len(blocks)) * ByteBlockSize)
}

// RecyclingByteAllocator keeps up to maxBuffered returned blocks on a free
// list for the next session. Buffered blocks stay accounted in bytesUsed;
// only blocks dropped beyond the limit are subtracted. Callers recycling
// through a pool Reset must pass clear=true: slice bookkeeping requires
// reused blocks to read as zero.
type RecyclingByteAllocator struct {
	free        [][]byte
	maxBuffered int
	bytesUsed   Counter
}

func NewRecyclingByteAllocator(maxBuffered int, bytesUsed Counter) *RecyclingByteAllocator {
	return &RecyclingByteAllocator{maxBuffered: maxBuffered, bytesUsed: bytesUsed}
}

func (a *RecyclingByteAllocator) ByteBlock() []byte {
	if n := len(a.free); n > 0 {
		b := a.free[n-1]
		a.free[n-1] = nil
		a.free = a.free[:n-1]
		return b
	}
	a.bytesUsed.Add(ByteBlockSize)
	return make([]byte, ByteBlockSize)
}

func (a *RecyclingByteAllocator) RecycleByteBlocks(blocks [][]byte) {
	dropped := 0
	for _, b := range blocks {
		if len(a.free) < a.maxBuffered {
			a.free = append(a.free, b)
		} else {
			dropped++
		}
	}
	a.bytesUsed.Add(-int64(dropped) * ByteBlockSize)
}

// BytePool is a growable arena of fixed-size byte blocks shared by every
// field of one indexing session. Term text and per-term byte streams live
// here, addressed by packed block/offset integers. Growth is append-only:
// a block reference handed out stays valid until the pool is reset.
type BytePool struct {
	// Blocks holds every allocated block; Blocks[addr>>ByteBlockShift]
	// resolves a packed address.
	Blocks [][]byte

	// BlockUpto is the index of the current block, -1 before first use.
	BlockUpto int

	// ByteUpto is the write offset within the current block.
	ByteUpto int

	// ByteOffset is the packed address of the current block's first byte.
	ByteOffset int

	// Block is Blocks[BlockUpto].
	Block []byte

	alloc ByteAllocator
}

func NewBytePool(alloc ByteAllocator) *BytePool {
	return &BytePool{
		BlockUpto:  -1,
		ByteUpto:   ByteBlockSize,
		ByteOffset: -ByteBlockSize,
		alloc:      alloc,
	}
}

// NextBlock appends one block and makes it current, returning its index.
// Previously returned blocks are never moved or invalidated.
func (p *BytePool) NextBlock() int {
	p.Blocks = append(p.Blocks, p.alloc.ByteBlock())
	p.BlockUpto++
	p.Block = p.Blocks[p.BlockUpto]
	p.ByteUpto = 0
	p.ByteOffset += ByteBlockSize
	return p.BlockUpto
}

// Reset truncates the pool to zero logical size between sessions.
//
// If recycle is true the first block is kept for immediate reuse and the
// rest are returned to the allocator's free list; otherwise every block is
// released. If clear is true the bytes written so far are zeroed first,
// which a kept first block needs before slices can be carved from it again.
func (p *BytePool) Reset(recycle, clear bool) {
	if p.BlockUpto == -1 {
		return
	}
	if clear {
		for i := 0; i < p.BlockUpto; i++ {
			zeroBytes(p.Blocks[i])
		}
		zeroBytes(p.Blocks[p.BlockUpto][:p.ByteUpto])
	}
	if recycle {
		if p.BlockUpto > 0 {
			p.alloc.RecycleByteBlocks(p.Blocks[1 : p.BlockUpto+1])
		}
		p.Blocks = p.Blocks[:1]
		p.BlockUpto = 0
		p.ByteUpto = 0
		p.ByteOffset = 0
		p.Block = p.Blocks[0]
		return
	}
	p.alloc.RecycleByteBlocks(p.Blocks)
	p.Blocks = nil
	p.BlockUpto = -1
	p.ByteUpto = ByteBlockSize
	p.ByteOffset = -ByteBlockSize
	p.Block = nil
}

// NewSlice allocates a fresh slice of the given size in the current block,
// marks its end, and returns the in-block offset of its first byte.
func (p *BytePool) NewSlice(size int) int {
	if p.ByteUpto > ByteBlockSize-size {
		p.NextBlock()
	}
	upto := p.ByteUpto
	p.ByteUpto += size
	p.Block[p.ByteUpto-1] = 16
	return upto
}

// AllocSlice grows a stream that hit the end marker of its current slice:
// it carves the next-level slice, moves the last three written bytes into
// it, and leaves a forwarding address in the old slice's tail. Returns the
// in-block write offset for the next byte; the new slice is in the current
// block.
func (p *BytePool) AllocSlice(slice []byte, upto int) int {
	level := int(slice[upto] & 15)
	newLevel := nextSliceLevel[level]
	size := sliceSizes[newLevel]

	if p.ByteUpto > ByteBlockSize-size {
		p.NextBlock()
	}
	newUpto := p.ByteUpto
	offset := newUpto + p.ByteOffset
	p.ByteUpto += size

	// Copy forward the bytes the forwarding address will overwrite.
	p.Block[newUpto] = slice[upto-3]
	p.Block[newUpto+1] = slice[upto-2]
	p.Block[newUpto+2] = slice[upto-1]

	slice[upto-3] = byte(offset >> 24)
	slice[upto-2] = byte(offset >> 16)
	slice[upto-1] = byte(offset >> 8)
	slice[upto] = byte(offset)

	p.Block[p.ByteUpto-1] = byte(16 | newLevel)
	return newUpto + 3
}

// Term returns a view of the length-prefixed term bytes stored at the
// packed address textStart. The view stays valid until the pool is reset;
// term bytes never span a block boundary.
func (p *BytePool) Term(textStart int) []byte {
	block := p.Blocks[textStart>>ByteBlockShift]
	pos := textStart & ByteBlockMask
	if block[pos]&0x80 == 0 {
		length := int(block[pos])
		return block[pos+1 : pos+1+length]
	}
	length := int(block[pos]&0x7f) | int(block[pos+1])<<7
	return block[pos+2 : pos+2+length]
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
