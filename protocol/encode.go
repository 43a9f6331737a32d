package protocol

import (
	"strconv"
	"strings"
)

// AppendBulkString appends the bulk string encoding of data to dst
func AppendBulkString(dst, data []byte) []byte {
	dst = append(dst, byte(TypeBulkString))
	dst = strconv.AppendInt(dst, int64(len(data)), 10)
	dst = append(dst, CRLF...)
	dst = append(dst, data...)
	return append(dst, CRLF...)
}

// AppendNullBulkString appends the null bulk string to dst
func AppendNullBulkString(dst []byte) []byte {
	return append(dst, "$-1\r\n"...)
}

// AppendSimpleString appends the simple string encoding of s to dst.
// CR and LF inside s are replaced with spaces since the format cannot
// carry them.
func AppendSimpleString(dst []byte, s string) []byte {
	dst = append(dst, byte(TypeSimpleString))
	dst = append(dst, sanitizeLine(s)...)
	return append(dst, CRLF...)
}

// AppendError appends an error reply to dst
func AppendError(dst []byte, msg string) []byte {
	dst = append(dst, byte(TypeError))
	dst = append(dst, sanitizeLine(msg)...)
	return append(dst, CRLF...)
}

// AppendInteger appends the integer encoding of n to dst
func AppendInteger(dst []byte, n int64) []byte {
	dst = append(dst, byte(TypeInteger))
	dst = strconv.AppendInt(dst, n, 10)
	return append(dst, CRLF...)
}

// AppendArray appends an array whose elements are all encoded as bulk strings
func AppendArray(dst []byte, items ...string) []byte {
	dst = append(dst, byte(TypeArray))
	dst = strconv.AppendInt(dst, int64(len(items)), 10)
	dst = append(dst, CRLF...)
	for _, item := range items {
		dst = AppendBulkString(dst, []byte(item))
	}
	return dst
}

// AppendValue appends the encoding of an arbitrary value, recursing into arrays
func AppendValue(dst []byte, v Value) []byte {
	switch v.Type {
	case TypeSimpleString:
		return AppendSimpleString(dst, string(v.Data))
	case TypeError:
		return AppendError(dst, string(v.Data))
	case TypeInteger:
		return AppendInteger(dst, v.Integer)
	case TypeArray:
		if v.IsNull {
			return append(dst, "*-1\r\n"...)
		}
		dst = append(dst, byte(TypeArray))
		dst = strconv.AppendInt(dst, int64(len(v.Array)), 10)
		dst = append(dst, CRLF...)
		for _, item := range v.Array {
			dst = AppendValue(dst, item)
		}
		return dst
	default:
		if v.IsNull {
			return AppendNullBulkString(dst)
		}
		return AppendBulkString(dst, v.Data)
	}
}

// EncodeBulkString returns $<len>\r\n<data>\r\n
func EncodeBulkString(data []byte) []byte {
	return AppendBulkString(make([]byte, 0, len(data)+16), data)
}

// EncodeNullBulkString returns $-1\r\n
func EncodeNullBulkString() []byte {
	return AppendNullBulkString(nil)
}

// EncodeSimpleString returns +<s>\r\n
func EncodeSimpleString(s string) []byte {
	return AppendSimpleString(make([]byte, 0, len(s)+3), s)
}

// EncodeError returns -<msg>\r\n
func EncodeError(msg string) []byte {
	return AppendError(make([]byte, 0, len(msg)+3), msg)
}

// EncodeInteger returns :<n>\r\n
func EncodeInteger(n int64) []byte {
	return AppendInteger(nil, n)
}

// EncodeArray returns *<n>\r\n followed by every item as a bulk string
func EncodeArray(items ...string) []byte {
	return AppendArray(nil, items...)
}

// EncodeValue returns the wire encoding of v
func EncodeValue(v Value) []byte {
	return AppendValue(nil, v)
}

func sanitizeLine(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
