package termpool

import (
	"encoding/binary"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	termerrors "github.com/machdmach/termpool/errors"
	"github.com/machdmach/termpool/internal/pool"
)

// PostingsWriter is the standard dispatcher consumer: per term it records
// the documents the term appears in, the in-document frequency, and token
// positions, according to each field's IndexOptions. Document and frequency
// data go to stream 0, positions to stream 1.
type PostingsWriter struct{}

func NewPostingsWriter() *PostingsWriter {
	return &PostingsWriter{}
}

func (w *PostingsWriter) StartDocument() error  { return nil }
func (w *PostingsWriter) FinishDocument() error { return nil }
func (w *PostingsWriter) Abort() error          { return nil }

func (w *PostingsWriter) AddField(streams *StreamSet, info FieldInfo) FieldConsumer {
	return &postingsField{
		streams: streams,
		info:    info,
		hasFreq: info.Options >= IndexDocsFreqs,
		hasProx: info.Options >= IndexDocsFreqsPositions,
	}
}

// Flush encodes every field's accumulated postings. Fields are encoded in
// parallel (each field's term table and streams are independent), then
// streamed to state.Output in field-name order.
func (w *PostingsWriter) Flush(fields map[string]FieldConsumer, state *FlushState) ([]FieldData, error) {
	names := fieldNamesSorted(fields)

	results := make([]FieldData, len(names))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, name := range names {
		pf := fields[name].(*postingsField)
		g.Go(func() error {
			fd, err := pf.flush()
			if err != nil {
				return fmt.Errorf("field %q: %w", pf.info.Name, err)
			}
			results[i] = fd
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if state.Output != nil {
		for _, fd := range results {
			if err := writeFieldData(state.Output, fd); err != nil {
				return nil, err
			}
		}
	}
	return results, nil
}

// postingsField buffers one field's term events between flushes.
//
// The encoding matches what the byte streams make cheap: stream 0 holds,
// for every document a term appeared in except the most recent, a docCode
// (delta to the previous document, shifted left one bit, low bit set when
// the frequency is exactly one and therefore omitted) and the frequency
// when not omitted. The most recent document stays pending in the postings
// array until the term shows up in a later document or the field flushes.
type postingsField struct {
	streams *StreamSet
	info    FieldInfo
	arr     *postingsArray
	hasFreq bool
	hasProx bool
}

func (p *postingsField) StreamCount() int {
	if p.hasProx {
		return 2
	}
	return 1
}

func (p *postingsField) NewPostingsArray(size int) PostingsArray {
	p.arr = newPostingsArray(size, p.hasFreq, p.hasProx)
	return p.arr
}

func (p *postingsField) NewTerm(id, doc int) {
	a := p.arr
	a.lastDocs[id] = doc
	if p.hasFreq {
		a.lastCodes[id] = doc << 1
		a.termFreqs[id] = 1
	} else {
		a.lastCodes[id] = doc
	}
	if p.hasProx {
		pos := p.streams.Field().State().Position
		p.streams.WriteVInt(1, pos)
		a.lastPositions[id] = pos
	}
}

func (p *postingsField) AddTerm(id, doc int) {
	a := p.arr
	if doc != a.lastDocs[id] {
		// First sight in a new document: emit the pending summary for the
		// previous one.
		if !p.hasFreq {
			p.streams.WriteVInt(0, a.lastCodes[id])
			a.lastCodes[id] = doc - a.lastDocs[id]
		} else {
			if a.termFreqs[id] == 1 {
				p.streams.WriteVInt(0, a.lastCodes[id]|1)
			} else {
				p.streams.WriteVInt(0, a.lastCodes[id])
				p.streams.WriteVInt(0, a.termFreqs[id])
			}
			a.lastCodes[id] = (doc - a.lastDocs[id]) << 1
			a.termFreqs[id] = 1
		}
		a.lastDocs[id] = doc
		if p.hasProx {
			pos := p.streams.Field().State().Position
			p.streams.WriteVInt(1, pos)
			a.lastPositions[id] = pos
		}
		return
	}

	if p.hasFreq {
		a.termFreqs[id]++
	}
	if p.hasProx {
		pos := p.streams.Field().State().Position
		p.streams.WriteVInt(1, pos-a.lastPositions[id])
		a.lastPositions[id] = pos
	}
}

// flush walks the field's terms in sorted order, decodes each term's byte
// streams plus the pending document, and re-encodes the final payload:
// uvarint docCount, then per document uvarint docDelta, uvarint freq (when
// the field records frequencies) and freq uvarint position deltas (when it
// records positions).
func (p *postingsField) flush() (FieldData, error) {
	ids := p.streams.SortedTermIDs()
	fd := FieldData{
		Field: p.info.Name,
		Terms: make([]TermData, 0, len(ids)),
	}

	var docsReader, proxReader pool.SliceReader
	var scratch [binary.MaxVarintLen64]byte
	for _, id := range ids {
		docs, freqs, err := p.decodeDocs(&docsReader, id)
		if err != nil {
			return FieldData{}, err
		}

		var payload []byte
		put := func(v int) {
			n := binary.PutUvarint(scratch[:], uint64(v))
			payload = append(payload, scratch[:n]...)
		}
		put(len(docs))
		if p.hasProx {
			p.streams.InitReader(&proxReader, id, 1)
		}
		prevDoc := 0
		for i, doc := range docs {
			put(doc - prevDoc)
			prevDoc = doc
			if p.hasFreq {
				put(freqs[i])
			}
			if p.hasProx {
				for j := 0; j < freqs[i]; j++ {
					delta, err := proxReader.ReadVInt()
					if err != nil {
						return FieldData{}, err
					}
					put(delta)
				}
			}
		}
		if p.hasProx && !proxReader.Eof() {
			return FieldData{}, fmt.Errorf("%w: trailing position bytes", termerrors.ErrCorruptPostings)
		}

		fd.Terms = append(fd.Terms, TermData{
			Term:    append([]byte(nil), p.streams.Field().Term(id)...),
			ID:      id,
			Payload: payload,
		})
	}
	return fd, nil
}

// decodeDocs reconstructs the absolute document ids and frequencies for a
// term: the completed entries from stream 0 followed by the pending entry
// held in the postings array.
func (p *postingsField) decodeDocs(r *pool.SliceReader, id int) (docs, freqs []int, err error) {
	a := p.arr
	p.streams.InitReader(r, id, 0)
	doc := 0
	for !r.Eof() {
		code, err := r.ReadVInt()
		if err != nil {
			return nil, nil, err
		}
		if !p.hasFreq {
			doc += code
			docs = append(docs, doc)
			freqs = append(freqs, 1)
			continue
		}
		doc += code >> 1
		freq := 1
		if code&1 == 0 {
			if freq, err = r.ReadVInt(); err != nil {
				return nil, nil, err
			}
		}
		docs = append(docs, doc)
		freqs = append(freqs, freq)
	}

	// pending document
	if !p.hasFreq {
		docs = append(docs, doc+a.lastCodes[id])
		freqs = append(freqs, 1)
	} else {
		docs = append(docs, doc+a.lastCodes[id]>>1)
		freqs = append(freqs, a.termFreqs[id])
	}
	return docs, freqs, nil
}

// postingsArray is the PostingsWriter extension of the field's per-term
// records.
type postingsArray struct {
	lastDocs      []int // last document each term occurred in
	lastCodes     []int // pending docCode for that document
	termFreqs     []int // frequency within that document
	lastPositions []int // last position written, for deltas
}

func newPostingsArray(size int, hasFreq, hasProx bool) *postingsArray {
	a := &postingsArray{
		lastDocs:  make([]int, size),
		lastCodes: make([]int, size),
	}
	if hasFreq {
		a.termFreqs = make([]int, size)
	}
	if hasProx {
		a.lastPositions = make([]int, size)
	}
	return a
}

func (a *postingsArray) Grow(size int) {
	a.lastDocs = growInts(a.lastDocs, size)
	a.lastCodes = growInts(a.lastCodes, size)
	if a.termFreqs != nil {
		a.termFreqs = growInts(a.termFreqs, size)
	}
	if a.lastPositions != nil {
		a.lastPositions = growInts(a.lastPositions, size)
	}
}

func (a *postingsArray) BytesPerTerm() int {
	n := 2 * pool.BytesPerInt
	if a.termFreqs != nil {
		n += pool.BytesPerInt
	}
	if a.lastPositions != nil {
		n += pool.BytesPerInt
	}
	return n
}

// Posting is one decoded document entry of a term's payload.
type Posting struct {
	Doc       int
	Freq      int
	Positions []int
}

// DecodePostings decodes a TermData payload produced by PostingsWriter for
// a field indexed with the given options.
func DecodePostings(payload []byte, options IndexOptions) ([]Posting, error) {
	next := func() (int, error) {
		v, n := binary.Uvarint(payload)
		if n <= 0 {
			return 0, fmt.Errorf("%w: truncated payload", termerrors.ErrCorruptPostings)
		}
		payload = payload[n:]
		return int(v), nil
	}

	count, err := next()
	if err != nil {
		return nil, err
	}
	out := make([]Posting, 0, count)
	doc := 0
	for i := 0; i < count; i++ {
		delta, err := next()
		if err != nil {
			return nil, err
		}
		doc += delta
		p := Posting{Doc: doc, Freq: 1}
		if options >= IndexDocsFreqs {
			if p.Freq, err = next(); err != nil {
				return nil, err
			}
		}
		if options >= IndexDocsFreqsPositions {
			pos := 0
			p.Positions = make([]int, 0, p.Freq)
			for j := 0; j < p.Freq; j++ {
				d, err := next()
				if err != nil {
					return nil, err
				}
				pos += d
				p.Positions = append(p.Positions, pos)
			}
		}
		out = append(out, p)
	}
	if len(payload) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", termerrors.ErrCorruptPostings, len(payload))
	}
	return out, nil
}

// writeFieldData streams one field's encoded terms through the output
// writer: uvarint field-name length and bytes, uvarint term count, then per
// term uvarint term length, term bytes, uvarint payload length, payload.
func writeFieldData(out *PagedWriter, fd FieldData) error {
	if err := out.WriteUvarint(uint64(len(fd.Field))); err != nil {
		return err
	}
	if _, err := out.Write([]byte(fd.Field)); err != nil {
		return err
	}
	if err := out.WriteUvarint(uint64(len(fd.Terms))); err != nil {
		return err
	}
	for _, td := range fd.Terms {
		if err := out.WriteUvarint(uint64(len(td.Term))); err != nil {
			return err
		}
		if _, err := out.Write(td.Term); err != nil {
			return err
		}
		if err := out.WriteUvarint(uint64(len(td.Payload))); err != nil {
			return err
		}
		if _, err := out.Write(td.Payload); err != nil {
			return err
		}
	}
	return nil
}
