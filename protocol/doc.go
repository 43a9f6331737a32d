// Package protocol implements the Redis Serialization Protocol (RESP)
// subset spoken by the server: simple strings, errors, integers, bulk
// strings and arrays.
//
// Decoding is cursor based and works on a byte buffer that may hold a
// partial frame. Decode reports ErrIncompleteFrame in that case so the
// caller can read more bytes and retry; Reader does exactly that on top of
// an io.Reader and also hands back the raw bytes of every frame.
//
// Basic usage:
//
//	reader := protocol.NewReader(conn)
//	for {
//		value, raw, err := reader.ReadFrame()
//		if err != nil {
//			break
//		}
//		// Process value, forward raw verbatim
//	}
//
// Replies are built with the Encode* functions, requests with Writer.
package protocol
