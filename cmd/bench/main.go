// Bench is a benchmarking tool for measuring termpool indexing
// throughput, flush performance, and pooled memory usage.
//
// Usage:
//
//	go run ./cmd/bench -docs 100000 -terms 50000 -fields 2
//
// Flags:
//
//	-docs     Number of documents to index (default: 100,000)
//	-terms    Vocabulary size, distinct terms (default: 50,000)
//	-tokens   Tokens per field per document (default: 64)
//	-fields   Number of indexed fields (default: 2)
//	-chain    Attach a chained doc/freq consumer (default: false)
//	-recycle  Block free-list size, 0 disables recycling (default: 0)
//	-out      Write flush output to a segment file instead of discarding
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	mrand "math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/spaolacci/murmur3"
	"github.com/zeebo/xxh3"

	"github.com/machdmach/termpool"
)

// getMaxRSS returns the maximum resident set size in bytes.
// Uses getrusage(RUSAGE_SELF) which tracks peak RSS since process start.
func getMaxRSS() uint64 {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0
	}
	// On macOS, MaxRss is in bytes. On Linux, it's in kilobytes.
	maxRSS := uint64(rusage.Maxrss)
	if runtime.GOOS == "linux" {
		maxRSS *= 1024 // Convert KB to bytes on Linux
	}
	return maxRSS
}

// makeVocabulary builds numTerms distinct terms. Each term is the hex
// form of an xxh3 of its ordinal, giving realistic byte spread without
// a dictionary file.
func makeVocabulary(numTerms int) [][]byte {
	var ord [8]byte
	vocab := make([][]byte, numTerms)
	for i := range vocab {
		binary.LittleEndian.PutUint64(ord[:], uint64(i))
		vocab[i] = []byte(fmt.Sprintf("%016x", xxh3.Hash(ord[:])))
	}
	return vocab
}

func main() {
	docsFlag := flag.Int("docs", 100_000, "number of documents")
	termsFlag := flag.Int("terms", 50_000, "vocabulary size (distinct terms)")
	tokensFlag := flag.Int("tokens", 64, "tokens per field per document")
	fieldsFlag := flag.Int("fields", 2, "number of indexed fields")
	chainFlag := flag.Bool("chain", false, "attach a chained doc/freq consumer")
	recycleFlag := flag.Int("recycle", 0, "block free-list size (0 disables recycling)")
	outFlag := flag.Bool("out", false, "write flush output to a segment file")
	flag.Parse()

	numDocs := *docsFlag
	numTerms := *termsFlag
	tokensPerField := *tokensFlag
	numFields := *fieldsFlag

	fmt.Println("Generating vocabulary...")
	vocab := makeVocabulary(numTerms)

	// Zipf-ish skew: low ordinals occur far more often, like natural text.
	zipf := mrand.NewZipf(mrand.New(mrand.NewPCG(42, 99)), 1.2, 1.0, uint64(numTerms-1))

	fieldInfos := make([]termpool.FieldInfo, numFields)
	for i := range fieldInfos {
		fieldInfos[i] = termpool.FieldInfo{
			Name:    fmt.Sprintf("field%d", i),
			Number:  i,
			Options: termpool.IndexDocsFreqsPositions,
		}
	}

	opts := []termpool.Option{
		termpool.WithHashSeed(murmur3.Sum32([]byte("bench"))),
	}
	if *chainFlag {
		opts = append(opts, termpool.WithChain(termpool.NewVectorsWriter()))
	}
	if *recycleFlag > 0 {
		opts = append(opts, termpool.WithBlockRecycling(*recycleFlag))
	}
	th := termpool.New(termpool.NewPostingsWriter(), opts...)

	fmt.Println("Indexing documents...")
	indexStart := time.Now()
	tokenCount := 0
	for doc := 0; doc < numDocs; doc++ {
		if err := th.StartDocument(); err != nil {
			fmt.Printf("StartDocument failed: %v\n", err)
			return
		}
		for i := range fieldInfos {
			field := th.AddField(fieldInfos[i])
			for t := 0; t < tokensPerField; t++ {
				if _, err := field.Add(vocab[zipf.Uint64()]); err != nil {
					fmt.Printf("Add failed: %v\n", err)
					return
				}
				tokenCount++
			}
		}
		if err := th.FinishDocument(); err != nil {
			fmt.Printf("FinishDocument failed: %v\n", err)
			return
		}
	}
	indexDuration := time.Since(indexStart)
	pooledBytes := th.BytesUsed()

	var sink io.Writer = io.Discard
	var segment *termpool.SegmentFile
	if *outFlag {
		tmpDir, err := os.MkdirTemp("", "bench-")
		if err != nil {
			fmt.Printf("Failed to create temp dir: %v\n", err)
			return
		}
		defer func() { _ = os.RemoveAll(tmpDir) }()
		// Generous capacity; the segment is truncated to fit on Close.
		segment, err = termpool.CreateSegmentFile(filepath.Join(tmpDir, "bench.seg"), 2*pooledBytes+1<<20)
		if err != nil {
			fmt.Printf("CreateSegmentFile failed: %v\n", err)
			return
		}
		sink = segment
	}

	fmt.Println("Flushing...")
	out := termpool.NewPagedWriter(sink)
	flushStart := time.Now()
	fields, err := th.Flush(nil, &termpool.FlushState{Output: out})
	if err != nil {
		fmt.Printf("Flush failed: %v\n", err)
		return
	}
	if err := out.Flush(); err != nil {
		fmt.Printf("Drain failed: %v\n", err)
		return
	}
	flushDuration := time.Since(flushStart)

	uniqueTerms := 0
	for _, fd := range fields {
		uniqueTerms += len(fd.Terms)
	}

	fmt.Printf("\nIndexed %d docs, %d tokens in %v (%.0f tokens/sec)\n",
		numDocs, tokenCount, indexDuration.Round(time.Millisecond),
		float64(tokenCount)/indexDuration.Seconds())
	fmt.Printf("Flushed %d field blocks, %d unique terms in %v\n",
		len(fields), uniqueTerms, flushDuration.Round(time.Millisecond))
	fmt.Printf("Flush output: %d bytes, xxhash64 %016x\n", out.Position(), out.Sum64())
	fmt.Printf("Pooled memory: %.1f MiB, peak RSS: %.1f MiB\n",
		float64(pooledBytes)/(1<<20), float64(getMaxRSS())/(1<<20))

	if segment != nil {
		if err := segment.Close(); err != nil {
			fmt.Printf("Segment close failed: %v\n", err)
			return
		}
		fmt.Printf("Segment file: %d bytes on disk\n", segment.Size())
	}
}
