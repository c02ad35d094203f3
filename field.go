package termpool

import "github.com/machdmach/termpool/internal/pool"

// FieldState tracks per-document progress for one field. It is reset by
// StartDocument and read by consumers on the token path.
type FieldState struct {
	// Position is the position of the token being processed, -1 before the
	// document's first token.
	Position int
	// Length counts the tokens seen in the current document.
	Length int
	// UniqueTerms counts the terms first seen in the current document.
	UniqueTerms int
}

// Field accumulates one field's terms for the owning dispatcher. It is
// created lazily by TermsHash.AddField on the field's first token and lives
// until the dispatcher resets between flush cycles. Term ids it assigns are
// stable for that whole cycle; there is no per-document reset.
type Field struct {
	hash  *TermsHash
	info  FieldInfo
	state FieldState

	table    *termTable
	intPool  *pool.IntPool
	bytePool *pool.BytePool
	arr      *parallelArray

	consumers   []FieldConsumer
	streamSets  []*StreamSet
	streamCount int

	// next is the chained secondary dispatcher's field for the same name,
	// sharing term bytes through the common byte pool.
	next *Field

	// Stream cursors of the term being processed.
	curStarts []int
	curBase   int
}

func newField(h *TermsHash, info FieldInfo) *Field {
	f := &Field{
		hash:     h,
		info:     info,
		state:    FieldState{Position: -1},
		intPool:  h.intPool,
		bytePool: h.bytePool,
	}
	for _, c := range h.consumers {
		ss := &StreamSet{field: f, base: f.streamCount}
		fc := c.AddField(ss, info)
		ss.count = fc.StreamCount()
		f.streamCount += ss.count
		f.consumers = append(f.consumers, fc)
		f.streamSets = append(f.streamSets, ss)
	}
	f.table = newTermTable(h.bytePool, initialTableSize, h.seed, h.chained, &fieldStartArray{f: f, used: h.tableBytes})
	if h.next != nil {
		f.next = h.next.AddField(info)
	}
	return f
}

// Info returns the field's identity.
func (f *Field) Info() FieldInfo { return f.info }

// State returns the field's per-document state.
func (f *Field) State() *FieldState { return &f.state }

// TermCount returns the number of distinct terms seen this flush cycle.
func (f *Field) TermCount() int { return f.table.size() }

// Term returns a pool-backed view of a term id's bytes.
func (f *Field) Term(id int) []byte { return f.table.term(id) }

// Add indexes one token occurrence. The token's bytes are copied into
// pooled storage on first sight, so the caller may reuse the buffer
// immediately. Returns the term's id within this field session.
func (f *Field) Add(term []byte) (int, error) {
	if !f.hash.inDoc {
		panic("termpool: Field.Add called outside StartDocument/FinishDocument")
	}
	id, created, err := f.table.add(term)
	if err != nil {
		return 0, err
	}
	f.state.Position++
	f.state.Length++
	doc := f.hash.doc.id
	if created {
		f.state.UniqueTerms++
		f.initTermStreams(id)
		for _, c := range f.consumers {
			c.NewTerm(id, doc)
		}
	} else {
		f.loadTermStreams(id)
		for _, c := range f.consumers {
			c.AddTerm(id, doc)
		}
	}
	if f.next != nil {
		f.next.addOffset(f.table.textStart(id))
	}
	return id, nil
}

// addOffset feeds a chained field the pool address of term bytes the
// primary field just processed. The secondary table assigns its own id but
// resolves to the same bytes.
func (f *Field) addOffset(textStart int) {
	id, created := f.table.addOffset(textStart)
	f.state.Position++
	f.state.Length++
	doc := f.hash.doc.id
	if created {
		f.state.UniqueTerms++
		f.initTermStreams(id)
		for _, c := range f.consumers {
			c.NewTerm(id, doc)
		}
	} else {
		f.loadTermStreams(id)
		for _, c := range f.consumers {
			c.AddTerm(id, doc)
		}
	}
	if f.next != nil {
		f.next.addOffset(textStart)
	}
}

// initTermStreams allocates a new term's stream cursors in the int pool and
// its first slices in the byte pool. All of a term's first slices land in
// one block, back to back, so stream i starts at byteStarts[id] plus
// i*FirstSliceSize.
func (f *Field) initTermStreams(id int) {
	if f.intPool.IntUpto > pool.IntBlockSize-f.streamCount {
		f.intPool.NextBlock()
	}
	if f.bytePool.ByteUpto > pool.ByteBlockSize-f.streamCount*pool.FirstSliceSize {
		f.bytePool.NextBlock()
	}
	f.curStarts = f.intPool.Block
	f.curBase = f.intPool.IntUpto
	f.intPool.IntUpto += f.streamCount
	f.arr.addrStarts[id] = f.curBase + f.intPool.IntOffset

	for i := 0; i < f.streamCount; i++ {
		upto := f.bytePool.NewSlice(pool.FirstSliceSize)
		f.curStarts[f.curBase+i] = upto + f.bytePool.ByteOffset
	}
	f.arr.byteStarts[id] = f.curStarts[f.curBase]
}

// loadTermStreams points the cursor window at an existing term's streams.
func (f *Field) loadTermStreams(id int) {
	start := f.arr.addrStarts[id]
	f.curStarts = f.intPool.Blocks[start>>pool.IntBlockShift]
	f.curBase = start & pool.IntBlockMask
}

func (f *Field) writeByte(stream int, b byte) {
	upto := f.curStarts[f.curBase+stream]
	block := f.bytePool.Blocks[upto>>pool.ByteBlockShift]
	offset := upto & pool.ByteBlockMask
	if block[offset] != 0 {
		// end of slice; grow the chain
		offset = f.bytePool.AllocSlice(block, offset)
		block = f.bytePool.Block
		f.curStarts[f.curBase+stream] = offset + f.bytePool.ByteOffset
	}
	block[offset] = b
	f.curStarts[f.curBase+stream]++
}

func (f *Field) writeVInt(stream, v int) {
	for uint(v) > 0x7f {
		f.writeByte(stream, byte(v&0x7f|0x80))
		v = int(uint(v) >> 7)
	}
	f.writeByte(stream, byte(v))
}

// StreamSet is one consumer's write handle onto its share of a field's
// per-term byte streams. Stream indices passed to its methods are local to
// the consumer; the set maps them onto the field's stream space.
type StreamSet struct {
	field *Field
	base  int
	count int
}

// Field returns the field this set writes into.
func (s *StreamSet) Field() *Field { return s.field }

// WriteByte appends one byte to the active term's given stream.
func (s *StreamSet) WriteByte(stream int, b byte) {
	s.field.writeByte(s.base+stream, b)
}

// WriteVInt appends a variable-length int to the active term's given stream.
func (s *StreamSet) WriteVInt(stream, v int) {
	s.field.writeVInt(s.base+stream, v)
}

// InitReader positions r over the bytes written to a term's stream.
func (s *StreamSet) InitReader(r *pool.SliceReader, id, stream int) {
	f := s.field
	start := f.arr.addrStarts[id]
	ints := f.intPool.Blocks[start>>pool.IntBlockShift]
	base := start & pool.IntBlockMask
	g := s.base + stream
	r.Init(f.bytePool, f.arr.byteStarts[id]+g*pool.FirstSliceSize, ints[base+g])
}

// SortedTermIDs returns the field's term ids in unsigned byte order of
// their term bytes. Only valid during flush; the table is compacted.
func (s *StreamSet) SortedTermIDs() []int {
	return s.field.table.sortedIDs()
}

// parallelArray holds the per-term records every field keeps regardless of
// consumer: the term's text address (owned by the table), the int-pool
// address of its stream cursors, and the address of its first slice.
// Consumer extensions grow in lockstep.
type parallelArray struct {
	size       int
	textStarts []int
	addrStarts []int
	byteStarts []int
	extras     []PostingsArray
}

func newParallelArray(f *Field, size int) *parallelArray {
	a := &parallelArray{
		size:       size,
		textStarts: make([]int, size),
		addrStarts: make([]int, size),
		byteStarts: make([]int, size),
	}
	for _, c := range f.consumers {
		a.extras = append(a.extras, c.NewPostingsArray(size))
	}
	return a
}

func (a *parallelArray) grow() {
	newSize := a.size + a.size>>1
	a.textStarts = growInts(a.textStarts, newSize)
	a.addrStarts = growInts(a.addrStarts, newSize)
	a.byteStarts = growInts(a.byteStarts, newSize)
	for _, e := range a.extras {
		e.Grow(newSize)
	}
	a.size = newSize
}

func (a *parallelArray) bytesPerTerm() int {
	n := 3 * pool.BytesPerInt
	for _, e := range a.extras {
		n += e.BytesPerTerm()
	}
	return n
}

func growInts(s []int, size int) []int {
	out := make([]int, size)
	copy(out, s)
	return out
}

// fieldStartArray adapts a field's parallelArray to the term table's
// growth hooks, so table growth and consumer state growth stay in sync.
type fieldStartArray struct {
	f    *Field
	used pool.Counter
}

func (s *fieldStartArray) init() []int {
	f := s.f
	if f.arr == nil {
		f.arr = newParallelArray(f, initialTableSize/2)
		s.used.Add(int64(f.arr.size) * int64(f.arr.bytesPerTerm()))
	}
	return f.arr.textStarts
}

func (s *fieldStartArray) grow() []int {
	a := s.f.arr
	oldSize := a.size
	a.grow()
	s.used.Add(int64(a.size-oldSize) * int64(a.bytesPerTerm()))
	return a.textStarts
}

func (s *fieldStartArray) clear() []int {
	a := s.f.arr
	if a != nil {
		s.used.Add(-int64(a.size) * int64(a.bytesPerTerm()))
		s.f.arr = nil
	}
	return nil
}

func (s *fieldStartArray) bytesUsed() pool.Counter {
	return s.used
}
