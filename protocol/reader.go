package protocol

import (
	"errors"
	"io"
)

// readChunkSize is how many bytes Reader asks the underlying reader for at a time
const readChunkSize = 4096

// Reader reads RESP frames from a stream. Bytes read past the end of a frame
// are kept for the next call, so pipelined requests and frames split across
// several reads both decode correctly.
type Reader struct {
	rd    io.Reader
	buf   []byte // accumulated, not yet consumed bytes
	chunk []byte // reusable read buffer
}

// NewReader creates a new RESP reader
func NewReader(r io.Reader) *Reader {
	return &Reader{
		rd:    r,
		buf:   make([]byte, 0, readChunkSize),
		chunk: make([]byte, readChunkSize),
	}
}

// ReadNext reads the next RESP value from the stream
func (r *Reader) ReadNext() (Value, error) {
	v, _, err := r.ReadFrame()
	return v, err
}

// ReadFrame reads the next RESP value and also returns the exact bytes it
// was decoded from. The raw slice is owned by the caller.
//
// A malformed frame discards everything buffered so far and returns a
// *ProtocolError. If the stream ends in the middle of a frame the error is
// io.ErrUnexpectedEOF; at a frame boundary it is io.EOF.
func (r *Reader) ReadFrame() (Value, []byte, error) {
	for {
		if len(r.buf) > 0 {
			v, n, err := Decode(r.buf)
			if err == nil {
				raw := append([]byte(nil), r.buf[:n]...)
				r.buf = append(r.buf[:0], r.buf[n:]...)
				return v, raw, nil
			}
			if !errors.Is(err, ErrIncompleteFrame) {
				r.buf = r.buf[:0]
				return Value{}, nil, err
			}
		}

		if err := r.fill(); err != nil {
			if errors.Is(err, io.EOF) && len(r.buf) > 0 {
				return Value{}, nil, io.ErrUnexpectedEOF
			}
			return Value{}, nil, err
		}
	}
}

// Buffered returns the number of bytes read from the stream but not yet consumed
func (r *Reader) Buffered() int {
	return len(r.buf)
}

// fill reads at least one more byte into buf or returns the read error
func (r *Reader) fill() error {
	for {
		n, err := r.rd.Read(r.chunk)
		if n > 0 {
			r.buf = append(r.buf, r.chunk[:n]...)
			return nil
		}
		if err != nil {
			return err
		}
	}
}
