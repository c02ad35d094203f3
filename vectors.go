package termpool

import (
	"encoding/binary"

	"github.com/machdmach/termpool/internal/pool"
)

// VectorsWriter is a document/frequency-only consumer, the shape a
// term-vectors writer takes when chained behind the postings consumer: it
// keys its own term ids off the primary's term bytes and keeps a single
// stream per term recording which documents the term appeared in and how
// often. Position data is the primary consumer's business.
type VectorsWriter struct{}

func NewVectorsWriter() *VectorsWriter {
	return &VectorsWriter{}
}

func (w *VectorsWriter) StartDocument() error  { return nil }
func (w *VectorsWriter) FinishDocument() error { return nil }
func (w *VectorsWriter) Abort() error          { return nil }

func (w *VectorsWriter) AddField(streams *StreamSet, info FieldInfo) FieldConsumer {
	return &vectorsField{streams: streams, info: info}
}

func (w *VectorsWriter) Flush(fields map[string]FieldConsumer, state *FlushState) ([]FieldData, error) {
	var out []FieldData
	for _, name := range fieldNamesSorted(fields) {
		vf := fields[name].(*vectorsField)
		fd, err := vf.flush()
		if err != nil {
			return nil, err
		}
		if state.Output != nil {
			if err := writeFieldData(state.Output, fd); err != nil {
				return nil, err
			}
		}
		out = append(out, fd)
	}
	return out, nil
}

// vectorsField uses the same pending-document scheme as postingsField,
// without the position stream.
type vectorsField struct {
	streams *StreamSet
	info    FieldInfo
	arr     *vectorsArray
}

func (v *vectorsField) StreamCount() int { return 1 }

func (v *vectorsField) NewPostingsArray(size int) PostingsArray {
	v.arr = &vectorsArray{
		lastDocs:  make([]int, size),
		lastCodes: make([]int, size),
		termFreqs: make([]int, size),
	}
	return v.arr
}

func (v *vectorsField) NewTerm(id, doc int) {
	a := v.arr
	a.lastDocs[id] = doc
	a.lastCodes[id] = doc << 1
	a.termFreqs[id] = 1
}

func (v *vectorsField) AddTerm(id, doc int) {
	a := v.arr
	if doc == a.lastDocs[id] {
		a.termFreqs[id]++
		return
	}
	if a.termFreqs[id] == 1 {
		v.streams.WriteVInt(0, a.lastCodes[id]|1)
	} else {
		v.streams.WriteVInt(0, a.lastCodes[id])
		v.streams.WriteVInt(0, a.termFreqs[id])
	}
	a.lastCodes[id] = (doc - a.lastDocs[id]) << 1
	a.lastDocs[id] = doc
	a.termFreqs[id] = 1
}

func (v *vectorsField) flush() (FieldData, error) {
	ids := v.streams.SortedTermIDs()
	fd := FieldData{
		Field: v.info.Name,
		Terms: make([]TermData, 0, len(ids)),
	}

	var r pool.SliceReader
	var scratch [binary.MaxVarintLen64]byte
	a := v.arr
	for _, id := range ids {
		var docs, freqs []int
		v.streams.InitReader(&r, id, 0)
		doc := 0
		for !r.Eof() {
			code, err := r.ReadVInt()
			if err != nil {
				return FieldData{}, err
			}
			doc += code >> 1
			freq := 1
			if code&1 == 0 {
				if freq, err = r.ReadVInt(); err != nil {
					return FieldData{}, err
				}
			}
			docs = append(docs, doc)
			freqs = append(freqs, freq)
		}
		docs = append(docs, doc+a.lastCodes[id]>>1)
		freqs = append(freqs, a.termFreqs[id])

		var payload []byte
		put := func(n int) {
			w := binary.PutUvarint(scratch[:], uint64(n))
			payload = append(payload, scratch[:w]...)
		}
		put(len(docs))
		prev := 0
		for i, d := range docs {
			put(d - prev)
			prev = d
			put(freqs[i])
		}

		fd.Terms = append(fd.Terms, TermData{
			Term:    append([]byte(nil), v.streams.Field().Term(id)...),
			ID:      id,
			Payload: payload,
		})
	}
	return fd, nil
}

type vectorsArray struct {
	lastDocs  []int
	lastCodes []int
	termFreqs []int
}

func (a *vectorsArray) Grow(size int) {
	a.lastDocs = growInts(a.lastDocs, size)
	a.lastCodes = growInts(a.lastCodes, size)
	a.termFreqs = growInts(a.termFreqs, size)
}

func (a *vectorsArray) BytesPerTerm() int {
	return 3 * pool.BytesPerInt
}
