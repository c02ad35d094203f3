package termpool

// IndexOptions selects how much per-term detail a field records.
type IndexOptions int

const (
	// IndexDocs records only the documents each term appears in.
	IndexDocs IndexOptions = iota + 1
	// IndexDocsFreqs additionally records per-document frequencies.
	IndexDocsFreqs
	// IndexDocsFreqsPositions additionally records token positions.
	IndexDocsFreqsPositions
)

// FieldInfo identifies one indexed field.
type FieldInfo struct {
	Name    string
	Number  int
	Options IndexOptions
}

// Consumer is a downstream writer attached to a TermsHash. The dispatcher
// guarantees the lifecycle hooks are invoked in document order and never
// concurrently for the same dispatcher instance. Abort is the only hook
// that may arrive while a document is partially processed, and it may
// arrive more than once; implementations must tolerate repeats.
type Consumer interface {
	// StartDocument is called before any term of a new document.
	StartDocument() error

	// FinishDocument is called once the current document's terms are final.
	// Consumers use it for bookkeeping they could not emit incrementally.
	FinishDocument() error

	// AddField creates the consumer's per-field writer. streams is the
	// consumer's write handle onto its share of the field's per-term byte
	// streams.
	AddField(streams *StreamSet, info FieldInfo) FieldConsumer

	// Flush drains the consumer's per-field state. fields holds the
	// FieldConsumers this consumer created, keyed by field name. The
	// returned data lists each field's terms in unsigned byte order.
	Flush(fields map[string]FieldConsumer, state *FlushState) ([]FieldData, error)

	// Abort releases all unflushed state without writing anything.
	Abort() error
}

// FieldConsumer receives term events for one field. NewTerm and AddTerm run
// on the token path and append encoded data to the term's byte streams
// through the StreamSet handed to AddField; a term's committed bytes are
// only ever appended to, never rewritten.
type FieldConsumer interface {
	// StreamCount is the number of byte streams this consumer writes per
	// term. Fixed for the lifetime of the field.
	StreamCount() int

	// NewPostingsArray allocates the consumer's id-indexed term state. It
	// grows in lockstep with the field's term table.
	NewPostingsArray(size int) PostingsArray

	// NewTerm is invoked for a term's first occurrence in the field session.
	NewTerm(id, doc int)

	// AddTerm is invoked for every repeat occurrence.
	AddTerm(id, doc int)
}

// PostingsArray is consumer-owned per-term state indexed by term id.
type PostingsArray interface {
	// Grow extends the arrays to hold size terms, preserving contents.
	Grow(size int)
	// BytesPerTerm reports the accounted bytes per term slot.
	BytesPerTerm() int
}

// FlushState carries flush-wide context handed to every consumer.
type FlushState struct {
	// NumDocs is the number of documents finished since the last reset.
	NumDocs int

	// Output, when set, receives each consumer's encoded terms as a
	// sequential byte stream.
	Output *PagedWriter
}

// TermData is one term's flushed form: its bytes, its id within the field
// session, and the consumer's encoded payload.
type TermData struct {
	Term    []byte
	ID      int
	Payload []byte
}

// FieldData is the flushed postings of one field from one consumer, terms
// sorted by unsigned byte-wise comparison.
type FieldData struct {
	Field string
	Terms []TermData
}
