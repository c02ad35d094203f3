// Package errors defines all exported error sentinels for the termpool library.
//
// This is the single source of truth for error values. Both the top-level
// termpool package and internal packages import from here, ensuring errors.Is
// checks work across package boundaries.
package errors

import "errors"

// Indexing errors
var (
	ErrTermTooLong = errors.New("termpool: term exceeds maximum length")
)

// Flush errors
var (
	ErrCorruptPostings = errors.New("termpool: postings stream is corrupted")
)

// Output errors
var (
	ErrSegmentOverflow = errors.New("termpool: write exceeds segment capacity")
	ErrSeekUnsupported = errors.New("termpool: underlying writer does not support seeking")
	ErrInvalidSeek     = errors.New("termpool: invalid seek position")
	ErrSegmentClosed   = errors.New("termpool: segment file is closed")
)
