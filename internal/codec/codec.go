// Package codec implements the zlib+base64 text packing shared by encoded job
// configs, captured repository diffs and kroki diagram URLs.
package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Pack compresses data at the best compression level and encodes it with the
// standard base64 alphabet.
func Pack(data []byte) (string, error) {
	compressed, err := compress(data)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(compressed), nil
}

// PackURL is Pack with the URL-safe alphabet.
func PackURL(data []byte) (string, error) {
	compressed, err := compress(data)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(compressed), nil
}

// Unpack reverses Pack.
func Unpack(value string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("codec: decode base64: %w", err)
	}
	return decompress(raw)
}

// UnpackURL reverses PackURL.
func UnpackURL(value string) ([]byte, error) {
	raw, err := base64.URLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("codec: decode base64: %w", err)
	}
	return decompress(raw)
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("codec: compress: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("codec: compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: compress: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("codec: decompress: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("codec: decompress: %w", err)
	}
	return out, nil
}
