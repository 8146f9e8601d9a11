package model

import (
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// ErrUnsupportedCompression is returned when a codec cannot read or write the
// requested compression type.
var ErrUnsupportedCompression = errors.New("unsupported compression")

// CompressionHandler wraps readers and writers with a codec.
type CompressionHandler interface {
	// CreateReader wraps an io.Reader with a decompression reader if needed
	CreateReader(reader io.Reader) (io.Reader, func() error, error)
	// CreateWriter wraps an io.Writer with a compression writer if needed
	CreateWriter(writer io.Writer) (io.Writer, func() error, error)
	// Extension returns the file extension for this compression type (e.g., ".gz")
	Extension() string
}

type compressionHandler struct {
	compressionType CompressionType
}

// NewCompressionHandler returns the handler of compressionType.
func NewCompressionHandler(compressionType CompressionType) CompressionHandler {
	return &compressionHandler{compressionType: compressionType}
}

func noop() error { return nil }

// CreateReader creates a decompression reader based on the compression type
func (h *compressionHandler) CreateReader(reader io.Reader) (io.Reader, func() error, error) {
	switch h.compressionType {
	case CompressionNone:
		return reader, noop, nil

	case CompressionGZ:
		gzReader, err := gzip.NewReader(reader)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gzReader, gzReader.Close, nil

	case CompressionBZ2:
		return bzip2.NewReader(reader), noop, nil

	case CompressionXZ:
		xzReader, err := xz.NewReader(reader)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create xz reader: %w", err)
		}
		return xzReader, noop, nil

	case CompressionZSTD:
		decoder, err := zstd.NewReader(reader)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return decoder, func() error {
			decoder.Close()
			return nil
		}, nil

	case CompressionLZ4:
		return lz4.NewReader(reader), noop, nil

	default:
		return nil, nil, fmt.Errorf("%w for reading: %v", ErrUnsupportedCompression, h.compressionType)
	}
}

// CreateWriter creates a compression writer based on the compression type
func (h *compressionHandler) CreateWriter(writer io.Writer) (io.Writer, func() error, error) {
	switch h.compressionType {
	case CompressionNone:
		return writer, noop, nil

	case CompressionGZ:
		gzWriter := gzip.NewWriter(writer)
		return gzWriter, gzWriter.Close, nil

	case CompressionXZ:
		xzWriter, err := xz.NewWriter(writer)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create xz writer: %w", err)
		}
		return xzWriter, xzWriter.Close, nil

	case CompressionZSTD:
		zstdWriter, err := zstd.NewWriter(writer)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		return zstdWriter, zstdWriter.Close, nil

	case CompressionLZ4:
		lz4Writer := lz4.NewWriter(writer)
		return lz4Writer, lz4Writer.Close, nil

	default:
		// bzip2 has no writer
		return nil, nil, fmt.Errorf("%w for writing: %v", ErrUnsupportedCompression, h.compressionType)
	}
}

// Extension returns the file extension for this compression type
func (h *compressionHandler) Extension() string {
	return h.compressionType.Extension()
}

// OpenReader opens the file and returns a reader that decompresses it.
// The returned function closes both the codec and the file.
func (f *File) OpenReader() (io.Reader, func() error, error) {
	file, err := os.Open(f.path) //nolint:gosec // reading user-selected sources is the point
	if err != nil {
		return nil, nil, err
	}

	reader, cleanup, err := NewCompressionHandler(f.compression).CreateReader(file)
	if err != nil {
		_ = file.Close()
		return nil, nil, err
	}

	return reader, func() error {
		cleanupErr := cleanup()
		if closeErr := file.Close(); closeErr != nil && cleanupErr == nil {
			cleanupErr = closeErr
		}
		return cleanupErr
	}, nil
}

// CreateWriterForFile creates path and returns a writer compressing into it.
// The returned function flushes the codec, syncs and closes the file.
func CreateWriterForFile(path string, compressionType CompressionType) (io.Writer, func() error, error) {
	file, err := os.Create(path) //nolint:gosec // export destination is chosen by the caller
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create file: %w", err)
	}

	writer, cleanup, err := NewCompressionHandler(compressionType).CreateWriter(file)
	if err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, nil, err
	}

	return writer, func() error {
		cleanupErr := cleanup()
		if syncErr := file.Sync(); syncErr != nil && cleanupErr == nil {
			cleanupErr = syncErr
		}
		if closeErr := file.Close(); closeErr != nil && cleanupErr == nil {
			cleanupErr = closeErr
		}
		return cleanupErr
	}, nil
}
