package termpool

import (
	"fmt"
	"math/rand/v2"
	"testing"
)

// document is a set of tokenized fields for test indexing helpers.
type document map[string][][]byte

// tokens converts string literals to token byte slices.
func tokens(words ...string) [][]byte {
	out := make([][]byte, len(words))
	for i, w := range words {
		out[i] = []byte(w)
	}
	return out
}

// fieldInfoFor builds a FieldInfo with a stable number derived from the name.
func fieldInfoFor(name string, options IndexOptions) FieldInfo {
	return FieldInfo{Name: name, Number: int(name[0]), Options: options}
}

// indexDocuments pushes docs through th with every field indexed at the
// given options level.
func indexDocuments(t *testing.T, th *TermsHash, options IndexOptions, docs []document) {
	t.Helper()
	for _, doc := range docs {
		if err := th.StartDocument(); err != nil {
			t.Fatalf("StartDocument failed: %v", err)
		}
		for name, toks := range doc {
			field := th.AddField(fieldInfoFor(name, options))
			for _, tok := range toks {
				if _, err := field.Add(tok); err != nil {
					t.Fatalf("Add(%q) failed: %v", tok, err)
				}
			}
		}
		if err := th.FinishDocument(); err != nil {
			t.Fatalf("FinishDocument failed: %v", err)
		}
	}
}

// flushAll flushes every field and fails the test on error.
func flushAll(t *testing.T, th *TermsHash) []FieldData {
	t.Helper()
	fields, err := th.Flush(nil, nil)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	return fields
}

// fieldByName finds the flushed data for one field produced by one consumer.
// With multiple consumers the same name appears more than once; idx selects
// which occurrence.
func fieldByName(t *testing.T, fields []FieldData, name string, idx int) FieldData {
	t.Helper()
	seen := 0
	for _, fd := range fields {
		if fd.Field == name {
			if seen == idx {
				return fd
			}
			seen++
		}
	}
	t.Fatalf("no flushed data for field %q (occurrence %d)", name, idx)
	return FieldData{}
}

// termStrings extracts the flushed terms as strings in flush order.
func termStrings(fd FieldData) []string {
	out := make([]string, len(fd.Terms))
	for i, td := range fd.Terms {
		out[i] = string(td.Term)
	}
	return out
}

// generateTerms creates n distinct deterministic pseudo-random terms of
// lengths in [minLen, maxLen].
func generateTerms(rng *rand.Rand, n, minLen, maxLen int) [][]byte {
	terms := make([][]byte, n)
	for i := range terms {
		length := minLen + int(rng.Uint64N(uint64(maxLen-minLen+1)))
		term := make([]byte, length, length+10)
		for j := range term {
			term[j] = byte('a' + rng.Uint64N(26))
		}
		// Distinctness by construction: suffix the ordinal.
		terms[i] = append(term, []byte(fmt.Sprintf("#%d", i))...)
	}
	return terms
}

// recordingConsumer counts lifecycle calls and optionally fails a hook.
// It writes nothing into its streams.
type recordingConsumer struct {
	startDocs   int
	finishDocs  int
	flushes     int
	aborts      int
	finishErr   error
	flushErr    error
	abortErr    error
	fieldsAdded []string
}

func (c *recordingConsumer) StartDocument() error {
	c.startDocs++
	return nil
}

func (c *recordingConsumer) FinishDocument() error {
	c.finishDocs++
	return c.finishErr
}

func (c *recordingConsumer) Abort() error {
	c.aborts++
	return c.abortErr
}

func (c *recordingConsumer) AddField(streams *StreamSet, info FieldInfo) FieldConsumer {
	c.fieldsAdded = append(c.fieldsAdded, info.Name)
	return &recordingField{}
}

func (c *recordingConsumer) Flush(fields map[string]FieldConsumer, state *FlushState) ([]FieldData, error) {
	c.flushes++
	return nil, c.flushErr
}

// recordingField tallies term events. It claims one stream like any real
// consumer but never writes to it.
type recordingField struct {
	newTerms int
	addTerms int
}

func (f *recordingField) StreamCount() int { return 1 }

func (f *recordingField) NewPostingsArray(size int) PostingsArray {
	return &recordingArray{}
}

func (f *recordingField) NewTerm(id, doc int) { f.newTerms++ }
func (f *recordingField) AddTerm(id, doc int) { f.addTerms++ }

type recordingArray struct{}

func (a *recordingArray) Grow(size int)     {}
func (a *recordingArray) BytesPerTerm() int { return 0 }
