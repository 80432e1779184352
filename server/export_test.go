package server

import "io"

// SetRandomSource replaces the reader behind state and nonce values and returns a func restoring it
func SetRandomSource(r io.Reader) func() {
	prev := randomSource
	randomSource = r
	return func() { randomSource = prev }
}
