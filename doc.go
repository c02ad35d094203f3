// Package termpool implements the in-memory write path of an inverted
// index: pooled block allocation, per-field term deduplication, and
// per-term byte streams that accumulate postings until flush.
//
// All term bytes and postings live in large reusable blocks handed out
// by byte and int pools, so indexing millions of terms produces a
// handful of allocations instead of one per term. A TermsHash
// dispatcher drives one or more Consumer implementations through the
// document lifecycle and hands each field's deduplicated terms to them
// at flush time in byte order.
//
// # Basic Usage
//
// Indexing documents and flushing postings:
//
//	th := termpool.New(termpool.NewPostingsWriter())
//	for _, doc := range docs {
//	    if err := th.StartDocument(); err != nil {
//	        log.Fatal(err)
//	    }
//	    body := th.AddField(termpool.FieldInfo{Name: "body", Options: termpool.IndexDocsFreqsPositions})
//	    for _, token := range doc.Tokens {
//	        if _, err := body.Add(token); err != nil {
//	            log.Fatal(err)
//	        }
//	    }
//	    if err := th.FinishDocument(); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//	out := termpool.NewPagedWriter(segment)
//	fields, err := th.Flush(nil, &termpool.FlushState{Output: out})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// A secondary dispatcher (for example a term-vectors pass) chains
// behind the primary and shares its byte pool:
//
//	th := termpool.New(termpool.NewPostingsWriter(),
//	    termpool.WithChain(termpool.NewVectorsWriter()))
//
// # Package Structure
//
// The implementation is organized as follows:
//
//   - Dispatcher: termshash.go (New, StartDocument, AddField, FinishDocument, Flush, Abort)
//   - Configuration: options.go (Option, With* functions)
//   - Term table: termtable.go (open-addressed bytes-to-id map over the byte pool)
//   - Per-field state: field.go (Field, StreamSet, parallel term arrays)
//   - Consumers: consumer.go (Consumer, FieldConsumer contracts), postings.go, vectors.go
//   - Block pools: internal/pool/ (BytePool, IntPool, SliceReader, usage counters)
//   - Flush output: output.go (PagedWriter, SegmentFile)
//   - Platform: fallocate_*.go, prefault_*.go (OS-specific optimizations)
//
// A TermsHash and the Fields it returns must be confined to a single
// goroutine; independent TermsHash instances may run concurrently and
// may share a bytes-used counter via WithBytesUsed.
package termpool
