package termpool

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/spaolacci/murmur3"

	termerrors "github.com/machdmach/termpool/errors"
	"github.com/machdmach/termpool/internal/pool"
)

// MaxTermLength is the longest term the table accepts. Term bytes are stored
// length-prefixed inside one byte block, so a term plus its two-byte length
// header must fit in a block.
const MaxTermLength = pool.ByteBlockSize - 2

const initialTableSize = 16 // power of two

// startArray manages the per-term address array that grows with the table.
// The ints it returns map term id to the packed byte-pool address of the
// term's length-prefixed bytes; implementations grow consumer state in
// lockstep.
type startArray interface {
	init() []int
	grow() []int
	clear() []int
	bytesUsed() pool.Counter
}

// termTable is an open-addressed hash table mapping term byte sequences to
// dense term ids. Keys are not copied out of caller buffers into the table;
// they are copied once into the byte pool and referenced by packed address
// from then on. Collisions are resolved by linear probing with full byte
// comparison, since hash collisions are expected at scale.
//
// A table constructed with byOffset set is keyed on byte-pool addresses
// instead of term content: two inserts of the same address are the same
// term. Chained dispatchers use this to assign their own ids to term bytes
// the primary already stored.
type termTable struct {
	pool       *pool.BytePool
	textStarts []int
	starts     startArray
	used       pool.Counter

	hashSize     int
	hashHalfSize int
	hashMask     int
	count        int
	lastCount    int
	ids          []int

	seed     uint32
	byOffset bool
}

func newTermTable(p *pool.BytePool, capacity int, seed uint32, byOffset bool, starts startArray) *termTable {
	ids := make([]int, capacity)
	for i := range ids {
		ids[i] = -1
	}
	used := starts.bytesUsed()
	used.Add(int64(capacity) * pool.BytesPerInt)
	return &termTable{
		pool:         p,
		textStarts:   starts.init(),
		starts:       starts,
		used:         used,
		hashSize:     capacity,
		hashHalfSize: capacity >> 1,
		hashMask:     capacity - 1,
		lastCount:    -1,
		ids:          ids,
		seed:         seed,
		byOffset:     byOffset,
	}
}

// size returns the number of distinct terms added since the last clear.
func (t *termTable) size() int {
	return t.count
}

// term returns a pool-backed view of the bytes for a term id.
func (t *termTable) term(id int) []byte {
	return t.pool.Term(t.textStarts[id])
}

// textStart returns the packed byte-pool address of a term id's bytes.
func (t *termTable) textStart(id int) int {
	return t.textStarts[id]
}

// add looks the term up by content and inserts it on a miss, copying the
// bytes into the byte pool so the caller's buffer can be reused immediately.
// Returns the term's id and whether this call created it.
func (t *termTable) add(term []byte) (id int, created bool, err error) {
	length := len(term)
	if length > MaxTermLength {
		return 0, false, fmt.Errorf("%w: %d bytes, max %d", termerrors.ErrTermTooLong, length, MaxTermLength)
	}
	t.reinit()

	hashPos := t.findHash(term)
	if e := t.ids[hashPos]; e != -1 {
		return e, false, nil
	}

	// New entry: copy length-prefixed bytes into the pool. The length header
	// is one byte below 0x80 and two bytes otherwise.
	p := t.pool
	if 2+length+p.ByteUpto > pool.ByteBlockSize {
		p.NextBlock()
	}
	block := p.Block
	upto := p.ByteUpto

	if t.count >= len(t.textStarts) {
		t.textStarts = t.starts.grow()
	}
	id = t.count
	t.count++
	t.textStarts[id] = upto + p.ByteOffset

	if length < 0x80 {
		block[upto] = byte(length)
		copy(block[upto+1:], term)
		p.ByteUpto += length + 1
	} else {
		block[upto] = byte(0x80 | length&0x7f)
		block[upto+1] = byte(length >> 7)
		copy(block[upto+2:], term)
		p.ByteUpto += length + 2
	}

	t.ids[hashPos] = id
	if t.count == t.hashHalfSize {
		t.rehash(2 * t.hashSize)
	}
	return id, true, nil
}

// addOffset inserts by byte-pool address. The bytes at textStart must be a
// length-prefixed term the primary table already stored; no copy is made.
func (t *termTable) addOffset(textStart int) (id int, created bool) {
	t.reinit()
	hashPos := t.findHashOffset(textStart)
	if e := t.ids[hashPos]; e != -1 {
		return e, false
	}
	if t.count >= len(t.textStarts) {
		t.textStarts = t.starts.grow()
	}
	id = t.count
	t.count++
	t.textStarts[id] = textStart
	t.ids[hashPos] = id
	if t.count == t.hashHalfSize {
		t.rehash(2 * t.hashSize)
	}
	return id, true
}

func (t *termTable) hash(term []byte) int {
	return int(murmur3.Sum32WithSeed(term, t.seed))
}

func (t *termTable) findHash(term []byte) int {
	code := t.hash(term)
	hashPos := code & t.hashMask
	if e := t.ids[hashPos]; e != -1 && !bytes.Equal(t.term(e), term) {
		// conflict; linear probe to an open or matching slot
		for {
			code++
			hashPos = code & t.hashMask
			e = t.ids[hashPos]
			if e == -1 || bytes.Equal(t.term(e), term) {
				break
			}
		}
	}
	return hashPos
}

func (t *termTable) findHashOffset(textStart int) int {
	// Addresses identify terms uniquely within the shared pool, so the
	// address itself serves as the hash code and the equality check.
	code := textStart
	hashPos := code & t.hashMask
	if e := t.ids[hashPos]; e != -1 && t.textStarts[e] != textStart {
		for {
			code++
			hashPos = code & t.hashMask
			e = t.ids[hashPos]
			if e == -1 || t.textStarts[e] == textStart {
				break
			}
		}
	}
	return hashPos
}

// rehash doubles the slot array, repositioning every live id while leaving
// id values (and therefore all id-indexed consumer state) untouched.
func (t *termTable) rehash(newSize int) {
	newMask := newSize - 1
	t.used.Add(int64(newSize) * pool.BytesPerInt)
	newIds := make([]int, newSize)
	for i := range newIds {
		newIds[i] = -1
	}
	for i := 0; i < t.hashSize; i++ {
		e := t.ids[i]
		if e == -1 {
			continue
		}
		var code int
		if t.byOffset {
			code = t.textStarts[e]
		} else {
			code = t.hash(t.term(e))
		}
		hashPos := code & newMask
		for newIds[hashPos] != -1 {
			code++
			hashPos = code & newMask
		}
		newIds[hashPos] = e
	}
	t.used.Add(-int64(len(t.ids)) * pool.BytesPerInt)
	t.ids = newIds
	t.hashSize = newSize
	t.hashHalfSize = newSize >> 1
	t.hashMask = newMask
}

// sortedIDs returns every live term id ordered by unsigned byte-wise
// comparison of the term bytes. This compacts the slot array, so the table
// must be cleared before further inserts.
func (t *termTable) sortedIDs() []int {
	upto := 0
	for i := 0; i < t.hashSize; i++ {
		if t.ids[i] != -1 {
			if upto < i {
				t.ids[upto] = t.ids[i]
				t.ids[i] = -1
			}
			upto++
		}
	}
	t.lastCount = t.count
	sorted := t.ids[:t.count]
	slices.SortFunc(sorted, func(a, b int) int {
		return bytes.Compare(t.term(a), t.term(b))
	})
	return sorted
}

// clear empties the table for the next session. The byte pool is not
// touched; the owning dispatcher resets pools itself. The per-term address
// array is dropped and rebuilt lazily by reinit on the next insert.
func (t *termTable) clear() {
	t.lastCount = t.count
	t.count = 0
	t.textStarts = t.starts.clear()
	if t.lastCount != -1 && t.shrink(t.lastCount) {
		// shrink installed a fresh slot array
		return
	}
	for i := range t.ids {
		t.ids[i] = -1
	}
}

func (t *termTable) reinit() {
	if t.textStarts == nil {
		t.textStarts = t.starts.init()
	}
}

// shrink resizes the slot array down toward targetSize after a clear, so a
// field that saw one huge document does not pin a huge table forever.
func (t *termTable) shrink(targetSize int) bool {
	newSize := t.hashSize
	for newSize >= 8 && newSize/4 > targetSize {
		newSize /= 2
	}
	if newSize == t.hashSize {
		return false
	}
	t.used.Add(-int64(t.hashSize-newSize) * pool.BytesPerInt)
	t.hashSize = newSize
	t.hashHalfSize = newSize >> 1
	t.hashMask = newSize - 1
	t.ids = make([]int, newSize)
	for i := range t.ids {
		t.ids[i] = -1
	}
	return true
}
