package protocol

import (
	"bufio"
	"io"
)

// Writer provides buffered writing of RESP protocol messages
type Writer struct {
	bw      *bufio.Writer
	scratch []byte
}

// NewWriter creates a new RESP protocol writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		bw:      bufio.NewWriter(w),
		scratch: make([]byte, 0, 512),
	}
}

// WriteValue writes a RESP value to the output stream
func (w *Writer) WriteValue(v Value) error {
	w.scratch = AppendValue(w.scratch[:0], v)
	return w.WriteRaw(w.scratch)
}

// WriteCommand writes a Redis command as a RESP array of bulk strings
func (w *Writer) WriteCommand(cmd string, args ...string) error {
	w.scratch = AppendArray(w.scratch[:0], append([]string{cmd}, args...)...)
	return w.WriteRaw(w.scratch)
}

// WriteRaw writes already encoded bytes
func (w *Writer) WriteRaw(p []byte) error {
	_, err := w.bw.Write(p)
	return err
}

// Flush flushes any buffered data to the underlying writer
func (w *Writer) Flush() error {
	return w.bw.Flush()
}
