package service

import (
	"io"
	"os"
)

// patternChunk is the repeating unit used to synthesize transfer content.
// Deterministic content lets two devices verify a transfer byte-for-byte
// without shipping the expected bytes out of band.
var patternChunk = func() []byte {
	chunk := make([]byte, 4096)
	for i := range chunk {
		chunk[i] = byte('a' + (i*7+i/251)%26)
	}
	return chunk
}()

// patternReader yields size bytes of the repeating pattern.
type patternReader struct {
	remaining int64
	offset    int
}

func newPatternReader(size int64) *patternReader {
	return &patternReader{remaining: size}
}

func (r *patternReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	n := len(p)
	if int64(n) > r.remaining {
		n = int(r.remaining)
	}
	for i := 0; i < n; i++ {
		p[i] = patternChunk[r.offset]
		r.offset = (r.offset + 1) % len(patternChunk)
	}
	r.remaining -= int64(n)
	return n, nil
}

// writePatternFile creates a file of exactly size pattern bytes.
func writePatternFile(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, newPatternReader(size)); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
