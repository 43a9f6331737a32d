package storage

// Storage defines the key/value operations the server relies on
type Storage interface {
	// Get returns a copy of the value stored at key
	Get(key string) ([]byte, bool)

	// Set stores a copy of value at key, replacing any previous value
	Set(key string, value []byte) error

	// KeyCount returns the number of stored keys
	KeyCount() int64

	// Close releases resources; the store must not be used afterwards
	Close() error
}
