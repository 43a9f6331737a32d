package replication

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync/atomic"
)

// IDLength is the length of a replication id
const IDLength = 40

const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ErrIDAlreadySet is returned when a replication id is assigned twice
var ErrIDAlreadySet = errors.New("replication id already set")

// GenerateID returns a random 40-character alphanumeric replication id
func GenerateID() (string, error) {
	// Bytes at or above this bound are rejected to keep the draw uniform
	const bound = 256 - 256%len(idAlphabet)

	id := make([]byte, 0, IDLength)
	buf := make([]byte, IDLength)
	for len(id) < IDLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate replication id: %w", err)
		}
		for _, b := range buf {
			if int(b) >= bound {
				continue
			}
			id = append(id, idAlphabet[int(b)%len(idAlphabet)])
			if len(id) == IDLength {
				break
			}
		}
	}
	return string(id), nil
}

// ValidID reports whether s has the shape of a replication id
func ValidID(s string) bool {
	if len(s) != IDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// ID is a write-once replication id cell. A master's id is known at
// construction; a replica's is learned during the handshake.
type ID struct {
	value atomic.Pointer[string]
}

// NewID returns a cell holding initial, or an empty cell if initial is ""
func NewID(initial string) *ID {
	id := &ID{}
	if initial != "" {
		id.value.Store(&initial)
	}
	return id
}

// Set stores the id. Only the first call succeeds.
func (id *ID) Set(value string) error {
	if value == "" {
		return fmt.Errorf("empty replication id")
	}
	if !id.value.CompareAndSwap(nil, &value) {
		return ErrIDAlreadySet
	}
	return nil
}

// Get returns the id and whether it is known yet
func (id *ID) Get() (string, bool) {
	p := id.value.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}
