package store

import "io"

const copyBlockSize = 64 * 1024

// copyBuffered streams src into dst using a fixed-size buffer, matching the
// block size internal/hasher uses for streaming hashes.
func copyBuffered(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyBlockSize)
	return io.CopyBuffer(dst, src, buf)
}
