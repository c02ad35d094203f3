package termpool

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"

	termerrors "github.com/machdmach/termpool/errors"
)

// ---------------------------------------------------------------------------
// Category 1: PagedWriter buffering
// ---------------------------------------------------------------------------

func TestPagedWriterMatchesDirectWrites(t *testing.T) {
	rng := rand.New(rand.NewPCG(51, 53))
	data := make([]byte, 100_000)
	for i := range data {
		data[i] = byte(rng.Uint64())
	}

	for _, size := range []int{1, 2, 7, 100, 4096, DefaultBufferSize} {
		var buf bytes.Buffer
		w := NewPagedWriterSize(&buf, size)

		// Mix of single-byte and bulk writes of varying lengths.
		i := 0
		for i < len(data) {
			if i%5 == 0 {
				if err := w.WriteByte(data[i]); err != nil {
					t.Fatal(err)
				}
				i++
				continue
			}
			n := i + 1 + int(rng.Uint64N(1000))
			if n > len(data) {
				n = len(data)
			}
			if _, err := w.Write(data[i:n]); err != nil {
				t.Fatal(err)
			}
			i = n
		}
		if err := w.Flush(); err != nil {
			t.Fatal(err)
		}

		if !bytes.Equal(buf.Bytes(), data) {
			t.Fatalf("buffer size %d: output differs from input", size)
		}
		if w.Position() != int64(len(data)) {
			t.Errorf("buffer size %d: Position = %d, want %d", size, w.Position(), len(data))
		}
	}
}

func TestPagedWriterInvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("size %d did not panic", size)
				}
			}()
			NewPagedWriterSize(io.Discard, size)
		}()
	}
}

func TestPagedWriterPositionCountsBuffered(t *testing.T) {
	var buf bytes.Buffer
	w := NewPagedWriterSize(&buf, 1024)
	if _, err := w.Write([]byte("unflushed")); err != nil {
		t.Fatal(err)
	}
	if w.Position() != 9 {
		t.Errorf("Position = %d, want 9 before flush", w.Position())
	}
	if buf.Len() != 0 {
		t.Errorf("underlying writer saw %d bytes before flush", buf.Len())
	}
}

func TestPagedWriterUvarint(t *testing.T) {
	var buf bytes.Buffer
	w := NewPagedWriterSize(&buf, 3)
	values := []uint64{0, 1, 127, 128, 16_384, 1 << 40}
	for _, v := range values {
		if err := w.WriteUvarint(v); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	rest := buf.Bytes()
	for _, want := range values {
		got, n := binary.Uvarint(rest)
		if n <= 0 {
			t.Fatalf("uvarint decode failed at value %d", want)
		}
		if got != want {
			t.Errorf("decoded %d, want %d", got, want)
		}
		rest = rest[n:]
	}
	if len(rest) != 0 {
		t.Errorf("%d trailing bytes after uvarints", len(rest))
	}
}

func TestPagedWriterSum64(t *testing.T) {
	rng := rand.New(rand.NewPCG(61, 67))
	data := make([]byte, 50_000)
	for i := range data {
		data[i] = byte(rng.Uint64())
	}

	w := NewPagedWriterSize(io.Discard, 777)
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if got, want := w.Sum64(), xxhash.Sum64(data); got != want {
		t.Errorf("Sum64 = %#x, want %#x", got, want)
	}
}

// ---------------------------------------------------------------------------
// Category 2: PagedWriter seeking
// ---------------------------------------------------------------------------

func TestPagedWriterSeek(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	w := NewPagedWriterSize(file, 8)
	if _, err := w.Write([]byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	pos, err := w.Seek(2, io.SeekStart)
	if err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if pos != 2 {
		t.Fatalf("Seek position = %d, want 2", pos)
	}
	if w.Position() != 2 {
		t.Errorf("Position after seek = %d, want 2", w.Position())
	}
	if _, err := w.Write([]byte("AB")); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "01AB456789" {
		t.Errorf("file = %q, want %q", got, "01AB456789")
	}
}

func TestPagedWriterSeekErrors(t *testing.T) {
	t.Run("Unsupported", func(t *testing.T) {
		w := NewPagedWriter(&bytes.Buffer{})
		if _, err := w.Seek(0, io.SeekStart); !errors.Is(err, termerrors.ErrSeekUnsupported) {
			t.Errorf("err = %v, want ErrSeekUnsupported", err)
		}
	})

	t.Run("Negative", func(t *testing.T) {
		sf, err := CreateSegmentFile(filepath.Join(t.TempDir(), "s.seg"), 1024)
		if err != nil {
			t.Fatal(err)
		}
		defer sf.Close()
		w := NewPagedWriter(sf)
		if _, err := w.Seek(-5, io.SeekStart); err == nil {
			t.Error("negative seek did not fail")
		}
	})
}

// ---------------------------------------------------------------------------
// Category 3: SegmentFile
// ---------------------------------------------------------------------------

func TestSegmentFileWriteAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.bin")
	sf, err := CreateSegmentFile(path, 1<<20)
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte("segment payload bytes")
	if _, err := sf.Write(payload); err != nil {
		t.Fatal(err)
	}
	if sf.Size() != int64(len(payload)) {
		t.Errorf("Size = %d, want %d", sf.Size(), len(payload))
	}
	if !bytes.Equal(sf.Bytes(), payload) {
		t.Error("Bytes() does not reflect written data")
	}

	if err := sf.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// The file is truncated to the written size, not the capacity.
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != int64(len(payload)) {
		t.Errorf("on-disk size = %d, want %d", info.Size(), len(payload))
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("on-disk contents differ from written data")
	}
}

func TestSegmentFileSeekRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.bin")
	sf, err := CreateSegmentFile(path, 4096)
	if err != nil {
		t.Fatal(err)
	}
	defer sf.Close()

	if _, err := sf.Write([]byte("aaaaaaaaaa")); err != nil {
		t.Fatal(err)
	}
	if _, err := sf.Seek(3, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	if _, err := sf.Write([]byte("BB")); err != nil {
		t.Fatal(err)
	}
	// Rewriting inside the written region does not move the high-water mark.
	if sf.Size() != 10 {
		t.Errorf("Size = %d, want 10", sf.Size())
	}
	if got := string(sf.Bytes()); got != "aaaBBaaaaa" {
		t.Errorf("contents = %q, want %q", got, "aaaBBaaaaa")
	}

	if _, err := sf.Seek(-2, io.SeekEnd); err != nil {
		t.Fatal(err)
	}
	if _, err := sf.Write([]byte("ZZZ")); err != nil {
		t.Fatal(err)
	}
	if sf.Size() != 11 {
		t.Errorf("Size after end write = %d, want 11", sf.Size())
	}
}

func TestSegmentFileOverflow(t *testing.T) {
	sf, err := CreateSegmentFile(filepath.Join(t.TempDir(), "seg.bin"), 16)
	if err != nil {
		t.Fatal(err)
	}
	defer sf.Close()

	if _, err := sf.Write(make([]byte, 16)); err != nil {
		t.Fatalf("write at capacity failed: %v", err)
	}
	if _, err := sf.Write([]byte{1}); !errors.Is(err, termerrors.ErrSegmentOverflow) {
		t.Errorf("overflow write err = %v, want ErrSegmentOverflow", err)
	}
	if _, err := sf.Seek(17, io.SeekStart); !errors.Is(err, termerrors.ErrSegmentOverflow) {
		t.Errorf("overflow seek err = %v, want ErrSegmentOverflow", err)
	}
}

func TestSegmentFileClosedOperations(t *testing.T) {
	sf, err := CreateSegmentFile(filepath.Join(t.TempDir(), "seg.bin"), 64)
	if err != nil {
		t.Fatal(err)
	}
	if err := sf.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := sf.Write([]byte{1}); !errors.Is(err, termerrors.ErrSegmentClosed) {
		t.Errorf("write after close err = %v, want ErrSegmentClosed", err)
	}
	if _, err := sf.Seek(0, io.SeekStart); !errors.Is(err, termerrors.ErrSegmentClosed) {
		t.Errorf("seek after close err = %v, want ErrSegmentClosed", err)
	}
	if err := sf.Close(); !errors.Is(err, termerrors.ErrSegmentClosed) {
		t.Errorf("double close err = %v, want ErrSegmentClosed", err)
	}
}

func TestSegmentFileInvalidCapacity(t *testing.T) {
	if _, err := CreateSegmentFile(filepath.Join(t.TempDir(), "seg.bin"), 0); err == nil {
		t.Error("zero capacity did not fail")
	}
}

// ---------------------------------------------------------------------------
// Category 4: Flushing through a segment
// ---------------------------------------------------------------------------

func TestFlushToSegmentFile(t *testing.T) {
	th := New(NewPostingsWriter())
	indexDocuments(t, th, IndexDocsFreqs, []document{
		{"body": tokens("persisted", "postings")},
	})

	path := filepath.Join(t.TempDir(), "flush.seg")
	sf, err := CreateSegmentFile(path, 1<<16)
	if err != nil {
		t.Fatal(err)
	}
	out := NewPagedWriter(sf)
	if _, err := th.Flush(nil, &FlushState{Output: out}); err != nil {
		t.Fatal(err)
	}
	if err := out.Flush(); err != nil {
		t.Fatal(err)
	}
	written := append([]byte(nil), sf.Bytes()...)
	if err := sf.Close(); err != nil {
		t.Fatal(err)
	}

	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(onDisk, written) {
		t.Error("on-disk segment differs from mapped contents")
	}
	if got, want := out.Sum64(), xxhash.Sum64(onDisk); got != want {
		t.Errorf("stream hash = %#x, want %#x over segment contents", got, want)
	}
}
