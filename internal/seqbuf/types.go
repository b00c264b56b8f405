package seqbuf

import "errors"

// Internal errors - mapped to public errors in the root package
var (
	ErrOverflow = errors.New("sci-capture: sequence buffer overflow")
	ErrClosed   = errors.New("sci-capture: sequence buffer is closed")
)

// OverflowPolicy defines what Insert does when every slot is occupied
type OverflowPolicy int

const (
	// Reject fails the insert with ErrOverflow and leaves the buffer untouched
	Reject OverflowPolicy = iota
	// Overwrite discards the oldest entry to make room
	Overwrite
)

// Entry is one buffered frame. Data and Metadata are owned by the buffer until
// the entry is received, then by the receiver.
type Entry struct {
	Data          []byte
	Width         int
	Height        int
	BytesPerPixel int
	Sequence      uint64
	Metadata      []byte
}

// Stats tracks buffer activity
type Stats struct {
	Inserted  uint64
	Received  uint64
	Overflows uint64
	Dropped   uint64
	Clears    uint64
	Len       int
	Capacity  int
}
