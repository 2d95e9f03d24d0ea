package artifact

import (
	"bytes"
	"encoding/base64"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/roach88/dcstats/internal/clock"
)

// NewGzipWriter returns a gzip writer whose header modification time is
// read from c. Callers must Close it to flush the stream.
func NewGzipWriter(w io.Writer, c clock.Clock) *gzip.Writer {
	gz := gzip.NewWriter(w)
	gz.ModTime = c.Now()
	return gz
}

// Compress gzips data with a header stamped by c.
func Compress(data []byte, c clock.Clock) ([]byte, error) {
	var buf bytes.Buffer
	gz := NewGzipWriter(&buf, c)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CompressString gzips data and returns it base64 encoded, the form blobs
// take in the key value store.
func CompressString(data []byte, c clock.Clock) (string, error) {
	gz, err := Compress(data, c)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(gz), nil
}

// DecompressString reverses CompressString.
func DecompressString(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(gz)
}
