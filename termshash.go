package termpool

import (
	"errors"
	"slices"

	"github.com/machdmach/termpool/internal/pool"
)

// docState is shared by every dispatcher in a chain so chained consumers
// observe the same document ids.
type docState struct {
	id int
}

// TermsHash converts each field's token stream into pooled postings data.
// It owns the shared block pools, hands out per-field term tables, and
// forwards document-scoped lifecycle events to its registered consumers and
// down the optional chain.
//
// One TermsHash instance (with its full chain) serves exactly one
// document-processing worker; it performs no internal locking. Run one
// instance per indexing goroutine and merge flushed results downstream.
type TermsHash struct {
	consumers []Consumer
	next      *TermsHash

	intPool  *pool.IntPool
	bytePool *pool.BytePool

	// bytesUsed tracks block-pool memory; tableBytes tracks hash and
	// per-term array memory separately so block accounting matches exactly
	// what the pools hold.
	bytesUsed  pool.Counter
	tableBytes pool.Counter

	fields map[string]*Field
	doc    *docState

	seed     uint32
	inDoc    bool
	numDocs  int
	chained  bool // keyed-by-offset tables, shared byte pool, no pool reset
	recycle  bool
}

// New creates a dispatcher feeding consumer. Additional consumers, a
// chained secondary, memory accounting and hashing are configured through
// options.
func New(consumer Consumer, opts ...Option) *TermsHash {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	var byteAlloc pool.ByteAllocator
	var intAlloc pool.IntAllocator
	if cfg.recycleBlocks > 0 {
		byteAlloc = pool.NewRecyclingByteAllocator(cfg.recycleBlocks, cfg.bytesUsed)
		intAlloc = pool.NewRecyclingIntAllocator(cfg.recycleBlocks, cfg.bytesUsed)
	} else {
		byteAlloc = pool.NewDirectByteAllocator(cfg.bytesUsed)
		intAlloc = pool.NewDirectIntAllocator(cfg.bytesUsed)
	}

	h := &TermsHash{
		consumers:  append([]Consumer{consumer}, cfg.consumers...),
		intPool:    pool.NewIntPool(intAlloc),
		bytePool:   pool.NewBytePool(byteAlloc),
		bytesUsed:  cfg.bytesUsed,
		tableBytes: pool.NewCounter(),
		fields:     make(map[string]*Field),
		doc:        &docState{},
		seed:       cfg.seed,
		recycle:    cfg.recycleBlocks > 0,
	}

	if cfg.chained != nil {
		// The secondary shares the primary's byte pool by reference and
		// never resets it; it owns its int pool and tables outright.
		h.next = &TermsHash{
			consumers:  []Consumer{cfg.chained},
			intPool:    pool.NewIntPool(intAlloc),
			bytePool:   h.bytePool,
			bytesUsed:  cfg.bytesUsed,
			tableBytes: pool.NewCounter(),
			fields:     make(map[string]*Field),
			doc:        h.doc,
			seed:       cfg.seed,
			chained:    true,
			recycle:    h.recycle,
		}
	}
	return h
}

// StartDocument opens a new document: primary consumers are notified
// first, then the chained secondary with its own consumers.
func (h *TermsHash) StartDocument() error {
	for _, c := range h.consumers {
		if err := c.StartDocument(); err != nil {
			return err
		}
	}
	if h.next != nil {
		if err := h.next.StartDocument(); err != nil {
			return err
		}
	}
	for _, f := range h.fields {
		f.state = FieldState{Position: -1}
	}
	h.inDoc = true
	return nil
}

// AddField returns the per-field handle for info.Name, creating it on
// first use. The handle stays valid for the whole flush cycle.
func (h *TermsHash) AddField(info FieldInfo) *Field {
	if f, ok := h.fields[info.Name]; ok {
		return f
	}
	f := newField(h, info)
	h.fields[info.Name] = f
	return f
}

// FinishDocument signals consumers that the current document's terms are
// final, primary first, then down the chain. If a consumer fails, the
// remaining consumers and the secondary still receive Abort before the
// error surfaces.
func (h *TermsHash) FinishDocument() error {
	for i, c := range h.consumers {
		if err := c.FinishDocument(); err != nil {
			return errors.Join(err, h.abortFrom(i+1))
		}
	}
	if h.next != nil {
		if err := h.next.FinishDocument(); err != nil {
			return err
		}
	}
	h.inDoc = false
	if !h.chained {
		h.doc.id++
		h.numDocs++
	}
	return nil
}

// Flush drains the named fields (all fields when fieldNames is nil)
// through every consumer, then down the chain, and resets the dispatcher
// for the next cycle. Results are the concatenation of each consumer's
// per-field data, primary consumers first, chain last.
//
// Calling Flush while a document is open is a contract violation.
func (h *TermsHash) Flush(fieldNames []string, state *FlushState) ([]FieldData, error) {
	if h.inDoc {
		panic("termpool: Flush called between StartDocument and FinishDocument")
	}
	if state == nil {
		state = &FlushState{}
	}
	if !h.chained {
		state.NumDocs = h.numDocs
	}

	fields := h.flushSet(fieldNames)
	var out []FieldData
	for i, c := range h.consumers {
		perConsumer := make(map[string]FieldConsumer, len(fields))
		for name, f := range fields {
			perConsumer[name] = f.consumers[i]
		}
		data, err := c.Flush(perConsumer, state)
		if err != nil {
			return nil, errors.Join(err, h.abortFrom(i+1))
		}
		out = append(out, data...)
	}
	if h.next != nil {
		data, err := h.next.Flush(fieldNames, state)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	h.reset()
	return out, nil
}

// Abort discards all unflushed state for the current cycle without writing
// anything. Every consumer in the chain receives its Abort even when an
// earlier one fails; failures are aggregated and surfaced together. The
// dispatcher is ready for a fresh StartDocument afterwards.
func (h *TermsHash) Abort() error {
	var errs []error
	for _, c := range h.consumers {
		if err := c.Abort(); err != nil {
			errs = append(errs, err)
		}
	}
	h.reset()
	h.inDoc = false
	if h.next != nil {
		if err := h.next.Abort(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BytesUsed reports the block-pool bytes currently held by this dispatcher
// chain's allocators, plus table overhead.
func (h *TermsHash) BytesUsed() int64 {
	n := h.bytesUsed.Get() + h.tableBytes.Get()
	if h.next != nil {
		n += h.next.tableBytes.Get()
	}
	return n
}

// abortFrom aborts the consumers from index start on, then the chained
// secondary, aggregating their failures. Used when an earlier consumer's
// FinishDocument or Flush fails, so no consumer is left half-finished.
func (h *TermsHash) abortFrom(start int) error {
	var errs []error
	for _, c := range h.consumers[start:] {
		if err := c.Abort(); err != nil {
			errs = append(errs, err)
		}
	}
	if h.next != nil {
		if err := h.next.Abort(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// flushSet resolves the requested field names against the live fields.
func (h *TermsHash) flushSet(fieldNames []string) map[string]*Field {
	if fieldNames == nil {
		return h.fields
	}
	set := make(map[string]*Field, len(fieldNames))
	for _, name := range fieldNames {
		if f, ok := h.fields[name]; ok {
			set[name] = f
		}
	}
	return set
}

// reset clears every field's table and truncates the pools. The chained
// secondary resets its own tables and int pool but never the shared byte
// pool; that is the primary's to reset.
func (h *TermsHash) reset() {
	for _, f := range h.fields {
		f.table.clear()
		f.state = FieldState{Position: -1}
		f.curStarts = nil
	}
	// Recycled blocks must come back zeroed for slice bookkeeping; dropped
	// blocks need no scrub.
	h.intPool.Reset(h.recycle, h.recycle)
	if !h.chained {
		h.bytePool.Reset(h.recycle, h.recycle)
		h.doc.id = 0
		h.numDocs = 0
	}
}

// fieldNamesSorted returns the live field names in sorted order. Flush
// output is deterministic because consumers iterate fields this way.
func fieldNamesSorted[T any](fields map[string]T) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
