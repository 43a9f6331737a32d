// Package storage provides the key/value store behind the server.
//
// The store is a flat map of binary-safe keys to binary-safe values, split
// into shards selected by an xxhash of the key so that concurrent
// connections rarely contend on the same lock. Every operation is atomic on
// its own; nothing spans several keys.
//
// Basic usage:
//
//	store := storage.NewMemory()
//	store.Set("key", []byte("value"))
//	value, exists := store.Get("key")
package storage
