// Package compression compresses stored document payloads.
package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Supported algorithms.
const (
	AlgorithmZstd = "zstd"
	AlgorithmGzip = "gzip"
)

const defaultMinSize int64 = 1024

var (
	// ErrUnsupportedAlgorithm indicates an algorithm the service cannot handle.
	ErrUnsupportedAlgorithm = errors.New("compression: unsupported algorithm")
)

var compressibleTypes = map[string]struct{}{
	"application/json":   {},
	"application/xml":    {},
	"application/pdf":    {},
	"application/msword": {},
	"application/rtf":    {},
	"image/svg+xml":      {},
}

// Config selects the algorithm and size threshold.
type Config struct {
	Algorithm string
	MinSize   int64
}

// Service compresses and decompresses payloads.
type Service struct {
	algorithm string
	minSize   int64
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// NewService validates the configuration and prepares reusable zstd codecs.
func NewService(cfg Config) (*Service, error) {
	algorithm := strings.ToLower(strings.TrimSpace(cfg.Algorithm))
	if algorithm == "" {
		algorithm = AlgorithmZstd
	}
	if algorithm != AlgorithmZstd && algorithm != AlgorithmGzip {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
	minSize := cfg.MinSize
	if minSize <= 0 {
		minSize = defaultMinSize
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("compression: init zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("compression: init zstd decoder: %w", err)
	}
	return &Service{
		algorithm: algorithm,
		minSize:   minSize,
		encoder:   encoder,
		decoder:   decoder,
	}, nil
}

// Algorithm returns the algorithm used by Compress.
func (s *Service) Algorithm() string {
	return s.algorithm
}

// ShouldCompress reports whether a payload of the MIME type and size is worth compressing.
func (s *Service) ShouldCompress(mimeType string, size int64) bool {
	if size < s.minSize {
		return false
	}
	normalized := strings.ToLower(strings.TrimSpace(mimeType))
	if index := strings.Index(normalized, ";"); index >= 0 {
		normalized = strings.TrimSpace(normalized[:index])
	}
	if strings.HasPrefix(normalized, "text/") {
		return true
	}
	_, ok := compressibleTypes[normalized]
	return ok
}

// Compress encodes data with the configured algorithm.
func (s *Service) Compress(data []byte) ([]byte, string, error) {
	switch s.algorithm {
	case AlgorithmZstd:
		return s.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), AlgorithmZstd, nil
	case AlgorithmGzip:
		var buffer bytes.Buffer
		writer, err := gzip.NewWriterLevel(&buffer, gzip.BestCompression)
		if err != nil {
			return nil, "", err
		}
		if _, err := writer.Write(data); err != nil {
			return nil, "", err
		}
		if err := writer.Close(); err != nil {
			return nil, "", err
		}
		return buffer.Bytes(), AlgorithmGzip, nil
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, s.algorithm)
	}
}

// Decompress decodes data previously produced with the named algorithm.
func (s *Service) Decompress(data []byte, algorithm string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case AlgorithmZstd:
		return s.decoder.DecodeAll(data, nil)
	case AlgorithmGzip:
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer reader.Close()
		return io.ReadAll(reader)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
}
