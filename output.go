package termpool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"

	termerrors "github.com/machdmach/termpool/errors"
)

// DefaultBufferSize is the buffer size used by NewPagedWriter.
const DefaultBufferSize = 16 * 1024

// PagedWriter is a buffered sequential writer over an io.Writer.
// Bytes accumulate in a fixed-size buffer and are pushed to the
// underlying writer only when the buffer fills or Flush is called.
// A streaming xxhash64 digest is folded in as buffers drain, so the
// checksum of everything written is available without a second pass.
//
// PagedWriter is not safe for concurrent use.
type PagedWriter struct {
	out     io.Writer
	buf     []byte
	upto    int
	start   int64 // absolute position of buf[0] in the output
	digest  *xxhash.Digest
	scratch [binary.MaxVarintLen64]byte
}

// NewPagedWriter returns a PagedWriter with the default buffer size.
func NewPagedWriter(out io.Writer) *PagedWriter {
	return NewPagedWriterSize(out, DefaultBufferSize)
}

// NewPagedWriterSize returns a PagedWriter using a buffer of the given
// size. Any positive size is legal, including 1. Panics on size <= 0.
func NewPagedWriterSize(out io.Writer, size int) *PagedWriter {
	if size <= 0 {
		panic(fmt.Sprintf("termpool: invalid PagedWriter buffer size %d", size))
	}
	return &PagedWriter{
		out:    out,
		buf:    make([]byte, size),
		digest: xxhash.New(),
	}
}

// WriteByte appends a single byte.
func (w *PagedWriter) WriteByte(b byte) error {
	if w.upto == len(w.buf) {
		if err := w.flushBuffer(); err != nil {
			return err
		}
	}
	w.buf[w.upto] = b
	w.upto++
	return nil
}

// Write appends p, draining the buffer as needed. It always reports
// len(p) bytes written on success.
func (w *PagedWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := copy(w.buf[w.upto:], p)
		w.upto += n
		written += n
		p = p[n:]
		if w.upto == len(w.buf) {
			if err := w.flushBuffer(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// WriteUvarint appends v in unsigned varint encoding.
func (w *PagedWriter) WriteUvarint(v uint64) error {
	n := binary.PutUvarint(w.scratch[:], v)
	_, err := w.Write(w.scratch[:n])
	return err
}

// Flush drains any buffered bytes to the underlying writer.
func (w *PagedWriter) Flush() error {
	return w.flushBuffer()
}

// Position reports the absolute write position, counting buffered
// bytes that have not yet reached the underlying writer.
func (w *PagedWriter) Position() int64 {
	return w.start + int64(w.upto)
}

// Sum64 returns the running xxhash64 of all bytes pushed to the
// underlying writer so far. Call Flush first to include buffered bytes.
func (w *PagedWriter) Sum64() uint64 {
	return w.digest.Sum64()
}

// Seek repositions the underlying writer. Buffered bytes are flushed
// first so the new position is exact. Returns ErrSeekUnsupported when
// the underlying writer is not an io.Seeker, and ErrInvalidSeek when
// the target position is negative. Seeking invalidates Sum64.
func (w *PagedWriter) Seek(offset int64, whence int) (int64, error) {
	s, ok := w.out.(io.Seeker)
	if !ok {
		return 0, termerrors.ErrSeekUnsupported
	}
	if err := w.flushBuffer(); err != nil {
		return 0, err
	}
	pos, err := s.Seek(offset, whence)
	if err != nil {
		return 0, err
	}
	if pos < 0 {
		return 0, fmt.Errorf("%w: position %d", termerrors.ErrInvalidSeek, pos)
	}
	w.start = pos
	return pos, nil
}

func (w *PagedWriter) flushBuffer() error {
	if w.upto == 0 {
		return nil
	}
	n := w.upto
	if _, err := w.out.Write(w.buf[:n]); err != nil {
		return fmt.Errorf("termpool: flush failed: %w", err)
	}
	// Hash while the bytes are still hot in cache.
	_, _ = w.digest.Write(w.buf[:n])
	w.start += int64(n)
	w.upto = 0
	return nil
}

// SegmentFile is a pre-allocated, memory-mapped flush target. The
// file is created at its final size up front (fallocate where the
// platform supports it) so writes cannot SIGBUS on disk full, and
// mapped read-write so flush output lands with zero copies.
//
// SegmentFile implements io.WriteSeeker and so composes with
// PagedWriter for buffered flush output.
type SegmentFile struct {
	file   *os.File
	mmap   mmap.MMap
	data   []byte
	pos    int64
	max    int64 // high-water mark, becomes the final file size
	closed bool
}

// CreateSegmentFile creates path at the given capacity, pre-allocates
// its disk blocks, and maps it read-write. On Close the file is
// truncated down to the bytes actually written.
func CreateSegmentFile(path string, capacity int64) (*SegmentFile, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("termpool: invalid segment capacity %d", capacity)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("termpool: failed to create segment file: %w", err)
	}
	if err := fallocateFile(file, capacity); err != nil {
		primaryErr := fmt.Errorf("termpool: failed to allocate disk space: %w", err)
		return nil, errors.Join(primaryErr, file.Close())
	}
	mm, err := mmap.MapRegion(file, int(capacity), mmap.RDWR, 0, 0)
	if err != nil {
		primaryErr := fmt.Errorf("termpool: failed to mmap segment file: %w", err)
		return nil, errors.Join(primaryErr, file.Close())
	}
	sf := &SegmentFile{
		file: file,
		mmap: mm,
		data: []byte(mm),
	}
	// On Linux 5.14+ this prefaults pages with MADV_POPULATE_WRITE.
	// No-op elsewhere.
	prefaultRegion(sf.data)
	return sf, nil
}

// Write copies p into the mapping at the current position. Writing
// past the pre-allocated capacity returns ErrSegmentOverflow.
func (f *SegmentFile) Write(p []byte) (int, error) {
	if f.closed {
		return 0, termerrors.ErrSegmentClosed
	}
	if f.pos+int64(len(p)) > int64(len(f.data)) {
		return 0, fmt.Errorf("%w: write of %d bytes at %d exceeds capacity %d",
			termerrors.ErrSegmentOverflow, len(p), f.pos, len(f.data))
	}
	n := copy(f.data[f.pos:], p)
	f.pos += int64(n)
	if f.pos > f.max {
		f.max = f.pos
	}
	return n, nil
}

// Seek repositions the write cursor within the mapping.
func (f *SegmentFile) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, termerrors.ErrSegmentClosed
	}
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = f.pos + offset
	case io.SeekEnd:
		pos = f.max + offset
	default:
		return 0, fmt.Errorf("%w: whence %d", termerrors.ErrInvalidSeek, whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("%w: position %d", termerrors.ErrInvalidSeek, pos)
	}
	if pos > int64(len(f.data)) {
		return 0, fmt.Errorf("%w: position %d exceeds capacity %d",
			termerrors.ErrSegmentOverflow, pos, len(f.data))
	}
	f.pos = pos
	return pos, nil
}

// Bytes returns the written prefix of the mapping. The slice aliases
// the mapping and is invalid after Close.
func (f *SegmentFile) Bytes() []byte {
	return f.data[:f.max]
}

// Size reports how many bytes have been written.
func (f *SegmentFile) Size() int64 {
	return f.max
}

// Close flushes the mapping, unmaps it, truncates the file to the
// bytes actually written, and closes it. Safe to call once.
func (f *SegmentFile) Close() error {
	if f.closed {
		return termerrors.ErrSegmentClosed
	}
	f.closed = true
	var errs []error
	if err := f.mmap.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("termpool: failed to flush mapping: %w", err))
	}
	if err := f.mmap.Unmap(); err != nil {
		errs = append(errs, fmt.Errorf("termpool: failed to unmap segment file: %w", err))
	}
	if err := f.file.Truncate(f.max); err != nil {
		errs = append(errs, fmt.Errorf("termpool: failed to truncate segment file: %w", err))
	}
	if err := f.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("termpool: failed to close segment file: %w", err))
	}
	return errors.Join(errs...)
}
