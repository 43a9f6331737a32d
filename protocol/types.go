package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueType represents the type of a RESP value
type ValueType byte

const (
	// RESP value types
	TypeSimpleString ValueType = '+'
	TypeError        ValueType = '-'
	TypeInteger      ValueType = ':'
	TypeBulkString   ValueType = '$'
	TypeArray        ValueType = '*'
)

// Value represents a decoded RESP value.
//
// Type selects which of the remaining fields is meaningful: Data for simple
// strings, errors and bulk strings, Integer for integers and Array for
// arrays. IsNull marks the null bulk string ($-1) and the null array (*-1).
type Value struct {
	Type    ValueType
	Data    []byte
	Integer int64
	Array   []Value
	IsNull  bool
}

// SimpleString returns a simple string value
func SimpleString(s string) Value {
	return Value{Type: TypeSimpleString, Data: []byte(s)}
}

// BulkString returns a bulk string value holding a copy of data
func BulkString(data []byte) Value {
	return Value{Type: TypeBulkString, Data: append([]byte{}, data...)}
}

// NullBulkString returns the null bulk string
func NullBulkString() Value {
	return Value{Type: TypeBulkString, IsNull: true}
}

// Integer returns an integer value
func Integer(n int64) Value {
	return Value{Type: TypeInteger, Integer: n}
}

// Array returns an array value
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{Type: TypeArray, Array: items}
}

// String returns a string representation of the value
func (v Value) String() string {
	switch v.Type {
	case TypeSimpleString, TypeError:
		return string(v.Data)
	case TypeInteger:
		return strconv.FormatInt(v.Integer, 10)
	case TypeBulkString:
		if v.IsNull {
			return "(nil)"
		}
		return string(v.Data)
	case TypeArray:
		if v.IsNull {
			return "(nil)"
		}
		parts := make([]string, len(v.Array))
		for i, item := range v.Array {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("unknown type %c", v.Type)
	}
}

// IsError returns true if this is an error value
func (v Value) IsError() bool {
	return v.Type == TypeError
}

// Equal reports whether two values have the same type and content.
// An empty and a nil payload compare equal.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type || v.IsNull != o.IsNull {
		return false
	}
	switch v.Type {
	case TypeInteger:
		return v.Integer == o.Integer
	case TypeArray:
		if len(v.Array) != len(o.Array) {
			return false
		}
		for i := range v.Array {
			if !v.Array[i].Equal(o.Array[i]) {
				return false
			}
		}
		return true
	default:
		return string(v.Data) == string(o.Data)
	}
}

// Command represents a Redis command parsed from a RESP array
type Command struct {
	Name string
	Args [][]byte
}

// ParseCommand parses a RESP value into a Command.
//
// The usual shape is an array of bulk strings. A bare simple or bulk string
// is accepted as a command without arguments, and simple strings are
// accepted as array elements.
func ParseCommand(v Value) (*Command, error) {
	switch v.Type {
	case TypeSimpleString, TypeBulkString:
		if v.IsNull || len(v.Data) == 0 {
			return nil, fmt.Errorf("invalid command format")
		}
		return &Command{Name: strings.ToUpper(string(v.Data))}, nil
	case TypeArray:
	default:
		return nil, fmt.Errorf("invalid command format")
	}

	if v.IsNull || len(v.Array) == 0 {
		return nil, fmt.Errorf("invalid command format")
	}

	parts := make([][]byte, len(v.Array))
	for i, item := range v.Array {
		if item.IsNull || (item.Type != TypeBulkString && item.Type != TypeSimpleString) {
			if i == 0 {
				return nil, fmt.Errorf("command name must be bulk string")
			}
			return nil, fmt.Errorf("command arguments must be bulk strings")
		}
		parts[i] = item.Data
	}

	return &Command{
		Name: strings.ToUpper(string(parts[0])),
		Args: parts[1:],
	}, nil
}

// String returns a string representation of the command
func (c *Command) String() string {
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = string(arg)
	}
	return strings.TrimSpace(c.Name + " " + strings.Join(args, " "))
}

// Tokens returns the lowercase name and arguments joined by single spaces,
// e.g. "replconf listening-port 6380".
func (c *Command) Tokens() string {
	return strings.ToLower(c.String())
}
