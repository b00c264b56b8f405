// Package metadata stamps delivered frames with session timing and tracks the
// actual frame interval.
package metadata

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Record is the metadata attached to one delivered frame.
type Record struct {
	SessionID   string    `msgpack:"session_id"`
	Camera      string    `msgpack:"camera"`
	StartTime   time.Time `msgpack:"start_time"`
	ElapsedMS   float64   `msgpack:"elapsed_ms"`
	ImageNumber uint64    `msgpack:"image_number"`

	// Hardware frame info
	FrameNr       int32 `msgpack:"frame_nr"`
	ReadoutTimeNs int64 `msgpack:"readout_time_ns"`
	TimeStamp     int64 `msgpack:"timestamp"`
	TimeStampBOF  int64 `msgpack:"timestamp_bof"`

	// Geometry of the payload
	Width         int  `msgpack:"width"`
	Height        int  `msgpack:"height"`
	BytesPerPixel int  `msgpack:"bytes_per_pixel"`
	BitDepth      int  `msgpack:"bit_depth"`
	Color         bool `msgpack:"color"`
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// Encode serializes the record with msgpack.
func (r Record) Encode() ([]byte, error) {
	b, err := msgpack.Marshal(&r)
	if err != nil {
		return nil, fmt.Errorf("sci-capture: encode metadata: %w", err)
	}
	return b, nil
}

// Decode parses a record produced by Encode.
func Decode(b []byte) (Record, error) {
	var r Record
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("sci-capture: decode metadata: %w", err)
	}
	return r, nil
}
