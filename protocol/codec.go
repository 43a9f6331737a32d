package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"
)

const (
	// CRLF is the Redis protocol line terminator
	CRLF = "\r\n"

	// maxBulkSize is the maximum size for bulk strings (512MB, as in Redis)
	maxBulkSize = 512 * 1024 * 1024

	// maxArraySize is the maximum number of elements in one array
	maxArraySize = 1024 * 1024
)

var crlfBytes = []byte(CRLF)

// ErrIncompleteFrame is returned by Decode when the buffer holds a valid
// prefix of a frame but not the whole frame. It is not fatal: append more
// bytes and decode again.
var ErrIncompleteFrame = errors.New("incomplete frame")

// ProtocolError represents a malformed frame. The frame cannot be recovered;
// the caller decides whether to drop the connection.
type ProtocolError struct {
	Message string
	Data    []byte
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Message)
}

func malformed(data []byte, format string, args ...interface{}) error {
	return &ProtocolError{Message: fmt.Sprintf(format, args...), Data: data}
}

// IsMalformed reports whether err is a ProtocolError
func IsMalformed(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// Decode parses one frame from the front of buf. It returns the value and the
// number of bytes the frame occupies; trailing bytes beyond the frame are left
// untouched. The returned value never aliases buf.
//
// If buf is a strict prefix of a frame, Decode returns ErrIncompleteFrame.
// Any other error is a *ProtocolError.
func Decode(buf []byte) (Value, int, error) {
	d := decoder{buf: buf}
	v, err := d.next()
	if err != nil {
		return Value{}, 0, err
	}
	return v, d.pos, nil
}

// decoder is a cursor over a byte buffer
type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) next() (Value, error) {
	if d.pos >= len(d.buf) {
		return Value{}, ErrIncompleteFrame
	}

	typeByte := d.buf[d.pos]
	d.pos++

	switch ValueType(typeByte) {
	case TypeSimpleString, TypeError:
		return d.readText(ValueType(typeByte))
	case TypeInteger:
		return d.readInteger()
	case TypeBulkString:
		return d.readBulkString()
	case TypeArray:
		return d.readArray()
	default:
		return Value{}, malformed(d.buf[d.pos-1:d.pos], "unrecognized frame type %q (0x%02x)", typeByte, typeByte)
	}
}

func (d *decoder) readText(t ValueType) (Value, error) {
	line, err := d.readLine()
	if err != nil {
		return Value{}, err
	}

	if !utf8.Valid(line) {
		return Value{}, malformed(line, "simple string is not valid UTF-8")
	}
	if bytes.IndexByte(line, '\r') >= 0 {
		return Value{}, malformed(line, "simple string contains CR")
	}

	return Value{
		Type: t,
		Data: append([]byte{}, line...),
	}, nil
}

func (d *decoder) readInteger() (Value, error) {
	line, err := d.readLine()
	if err != nil {
		return Value{}, err
	}

	n, err := parseInt64(line)
	if err != nil {
		return Value{}, malformed(line, "invalid integer: %q", line)
	}

	return Value{
		Type:    TypeInteger,
		Integer: n,
	}, nil
}

func (d *decoder) readBulkString() (Value, error) {
	line, err := d.readLine()
	if err != nil {
		return Value{}, err
	}

	length, err := parseInt64(line)
	if err != nil {
		return Value{}, malformed(line, "invalid bulk string length: %q", line)
	}

	if length == -1 {
		return Value{
			Type:   TypeBulkString,
			IsNull: true,
		}, nil
	}

	if length < 0 || length > maxBulkSize {
		return Value{}, malformed(line, "invalid bulk string length: %d", length)
	}

	n := int(length)
	available := len(d.buf) - d.pos

	// The terminator must follow the payload exactly; any other byte in
	// its place means the declared length does not match the payload.
	for i := 0; i < 2 && n+i < available; i++ {
		if d.buf[d.pos+n+i] != crlfBytes[i] {
			return Value{}, malformed(d.buf[d.pos:], "bulk string length mismatch: declared %d", n)
		}
	}

	if available < n+2 {
		return Value{}, ErrIncompleteFrame
	}

	data := make([]byte, n)
	copy(data, d.buf[d.pos:d.pos+n])
	d.pos += n + 2

	return Value{
		Type: TypeBulkString,
		Data: data,
	}, nil
}

func (d *decoder) readArray() (Value, error) {
	line, err := d.readLine()
	if err != nil {
		return Value{}, err
	}

	count, err := parseInt64(line)
	if err != nil {
		return Value{}, malformed(line, "invalid array length: %q", line)
	}

	if count == -1 {
		return Value{
			Type:   TypeArray,
			IsNull: true,
		}, nil
	}

	if count < 0 || count > maxArraySize {
		return Value{}, malformed(line, "invalid array length: %d", count)
	}

	// Capacity is capped so a bogus count on a short buffer does not
	// allocate up front.
	items := make([]Value, 0, min(int(count), 64))
	for i := int64(0); i < count; i++ {
		item, err := d.next()
		if err != nil {
			return Value{}, err
		}
		items = append(items, item)
	}

	return Value{
		Type:  TypeArray,
		Array: items,
	}, nil
}

// readLine returns the bytes up to the next CRLF and moves the cursor past it
func (d *decoder) readLine() ([]byte, error) {
	rest := d.buf[d.pos:]

	i := bytes.IndexByte(rest, '\n')
	if i < 0 {
		return nil, ErrIncompleteFrame
	}
	if i == 0 || rest[i-1] != '\r' {
		return nil, malformed(rest[:i+1], "missing CRLF terminator")
	}

	d.pos += i + 1
	return rest[:i-1], nil
}

// parseInt64 parses an int64 from a byte slice without allocation
func parseInt64(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, strconv.ErrSyntax
	}

	var neg bool
	var i int

	switch b[0] {
	case '-':
		neg = true
		i = 1
	case '+':
		i = 1
	}

	if i >= len(b) {
		return 0, strconv.ErrSyntax
	}

	// Accumulate the magnitude unsigned so that -1<<63 fits
	limit := uint64(1<<63 - 1)
	if neg {
		limit = 1 << 63
	}

	var n uint64
	for ; i < len(b); i++ {
		if b[i] < '0' || b[i] > '9' {
			return 0, strconv.ErrSyntax
		}

		digit := uint64(b[i] - '0')
		if n > (limit-digit)/10 {
			return 0, strconv.ErrRange
		}

		n = n*10 + digit
	}

	if neg {
		return -int64(n), nil
	}
	return int64(n), nil
}
