package model

import (
	"path/filepath"
	"strings"
)

// File extensions
const (
	// ExtCSV is the CSV file extension
	ExtCSV = ".csv"
	// ExtTSV is the TSV file extension
	ExtTSV = ".tsv"
	// ExtLTSV is the LTSV file extension
	ExtLTSV = ".ltsv"
	// ExtXLSX is the Excel XLSX file extension
	ExtXLSX = ".xlsx"
	// ExtParquet is the Parquet file extension
	ExtParquet = ".parquet"
	// ExtGZ is the gzip compression extension
	ExtGZ = ".gz"
	// ExtBZ2 is the bzip2 compression extension
	ExtBZ2 = ".bz2"
	// ExtXZ is the xz compression extension
	ExtXZ = ".xz"
	// ExtZSTD is the zstd compression extension
	ExtZSTD = ".zst"
	// ExtLZ4 is the lz4 compression extension
	ExtLZ4 = ".lz4"
)

// compressionExtensions lists every compression suffix csvbook understands.
var compressionExtensions = []string{ExtGZ, ExtBZ2, ExtXZ, ExtZSTD, ExtLZ4}

// File is a CSV source on disk, possibly compressed.
type File struct {
	path        string
	compression CompressionType
}

// NewFile creates a new File
func NewFile(path string) *File {
	return &File{
		path:        path,
		compression: DetectCompressionType(path),
	}
}

// Path returns file path
func (f *File) Path() string {
	return f.path
}

// Compression returns the compression applied to the file.
func (f *File) Compression() CompressionType {
	return f.compression
}

// IsCompressed returns true if file is compressed
func (f *File) IsCompressed() bool {
	return f.compression != CompressionNone
}

// IsCSV returns true if the file (after removing compression) is a CSV file.
func (f *File) IsCSV() bool {
	return IsSupportedFile(f.path)
}

// IsSupportedFile checks if the file is a CSV file, optionally compressed.
func IsSupportedFile(fileName string) bool {
	base := strings.ToLower(RemoveCompressionExtension(fileName))
	return strings.HasSuffix(base, ExtCSV)
}

// IsPlainCSV reports whether fileName ends in ".csv" without compression.
// The folder scanner only picks these up.
func IsPlainCSV(fileName string) bool {
	return strings.EqualFold(filepath.Ext(fileName), ExtCSV)
}

// DetectCompressionType detects the compression type from a file path
func DetectCompressionType(path string) CompressionType {
	path = strings.ToLower(path)

	switch {
	case strings.HasSuffix(path, ExtGZ):
		return CompressionGZ
	case strings.HasSuffix(path, ExtBZ2):
		return CompressionBZ2
	case strings.HasSuffix(path, ExtXZ):
		return CompressionXZ
	case strings.HasSuffix(path, ExtZSTD):
		return CompressionZSTD
	case strings.HasSuffix(path, ExtLZ4):
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// RemoveCompressionExtension removes the compression extension from a file path if present
func RemoveCompressionExtension(path string) string {
	for _, ext := range compressionExtensions {
		if strings.HasSuffix(strings.ToLower(path), ext) {
			return path[:len(path)-len(ext)]
		}
	}
	return path
}
