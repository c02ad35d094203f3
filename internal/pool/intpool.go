package pool

import "strconv"

const (
	// IntBlockShift fixes int blocks at 8192 entries. A packed int-pool
	// address is blockIndex<<IntBlockShift | offsetWithinBlock.
	IntBlockShift = 13
	IntBlockSize  = 1 << IntBlockShift
	IntBlockMask  = IntBlockSize - 1
)

// BytesPerInt is the accounted size of one int-pool entry.
const BytesPerInt = strconv.IntSize / 8

// IntAllocator hands out fixed-size int blocks and takes them back when a
// pool is reset.
type IntAllocator interface {
	IntBlock() []int
	RecycleIntBlocks(blocks [][]int)
}

// DirectIntAllocator never recycles; it only tracks total bytes held.
type DirectIntAllocator struct {
	bytesUsed Counter
}

func NewDirectIntAllocator(bytesUsed Counter) *DirectIntAllocator {
	return &DirectIntAllocator{bytesUsed: bytesUsed}
}

func (a *DirectIntAllocator) IntBlock() []int {
	a.bytesUsed.Add(IntBlockSize * BytesPerInt)
	return make([]int, IntBlockSize)
}

func (a *DirectIntAllocator) RecycleIntBlocks(blocks [][]int) {
	a.bytesUsed.Add(-int64(len(blocks)) * IntBlockSize * BytesPerInt)
}

// RecyclingIntAllocator keeps up to maxBuffered returned blocks for reuse.
type RecyclingIntAllocator struct {
	free        [][]int
	maxBuffered int
	bytesUsed   Counter
}

func NewRecyclingIntAllocator(maxBuffered int, bytesUsed Counter) *RecyclingIntAllocator {
	return &RecyclingIntAllocator{maxBuffered: maxBuffered, bytesUsed: bytesUsed}
}

func (a *RecyclingIntAllocator) IntBlock() []int {
	if n := len(a.free); n > 0 {
		b := a.free[n-1]
		a.free[n-1] = nil
		a.free = a.free[:n-1]
		return b
	}
	a.bytesUsed.Add(IntBlockSize * BytesPerInt)
	return make([]int, IntBlockSize)
}

func (a *RecyclingIntAllocator) RecycleIntBlocks(blocks [][]int) {
	dropped := 0
	for _, b := range blocks {
		if len(a.free) < a.maxBuffered {
			a.free = append(a.free, b)
		} else {
			dropped++
		}
	}
	a.bytesUsed.Add(-int64(dropped) * IntBlockSize * BytesPerInt)
}

// IntPool is the int-block counterpart of BytePool. It stores the per-term
// stream write cursors: each live term owns a run of consecutive ints, one
// per stream, each holding the packed byte-pool address the stream's next
// byte goes to.
type IntPool struct {
	Blocks    [][]int
	BlockUpto int
	IntUpto   int
	IntOffset int
	Block     []int

	alloc IntAllocator
}

func NewIntPool(alloc IntAllocator) *IntPool {
	return &IntPool{
		BlockUpto: -1,
		IntUpto:   IntBlockSize,
		IntOffset: -IntBlockSize,
		alloc:     alloc,
	}
}

// NextBlock appends one block and makes it current, returning its index.
func (p *IntPool) NextBlock() int {
	p.Blocks = append(p.Blocks, p.alloc.IntBlock())
	p.BlockUpto++
	p.Block = p.Blocks[p.BlockUpto]
	p.IntUpto = 0
	p.IntOffset += IntBlockSize
	return p.BlockUpto
}

// Reset truncates the pool to zero logical size between sessions; see
// BytePool.Reset for the recycle/clear contract.
func (p *IntPool) Reset(recycle, clear bool) {
	if p.BlockUpto == -1 {
		return
	}
	if clear {
		for i := 0; i < p.BlockUpto; i++ {
			zeroInts(p.Blocks[i])
		}
		zeroInts(p.Blocks[p.BlockUpto][:p.IntUpto])
	}
	if recycle {
		if p.BlockUpto > 0 {
			p.alloc.RecycleIntBlocks(p.Blocks[1 : p.BlockUpto+1])
		}
		p.Blocks = p.Blocks[:1]
		p.BlockUpto = 0
		p.IntUpto = 0
		p.IntOffset = 0
		p.Block = p.Blocks[0]
		return
	}
	p.alloc.RecycleIntBlocks(p.Blocks)
	p.Blocks = nil
	p.BlockUpto = -1
	p.IntUpto = IntBlockSize
	p.IntOffset = -IntBlockSize
	p.Block = nil
}

func zeroInts(b []int) {
	for i := range b {
		b[i] = 0
	}
}
