package model

import (
	"fmt"
	"strings"
)

// OutputFormat represents the output file format
type OutputFormat int

const (
	// OutputFormatCSV represents CSV output format
	OutputFormatCSV OutputFormat = iota
	// OutputFormatTSV represents TSV output format
	OutputFormatTSV
	// OutputFormatLTSV represents LTSV output format
	OutputFormatLTSV
	// OutputFormatXLSX represents Excel XLSX output format
	OutputFormatXLSX
	// OutputFormatParquet represents Parquet output format
	OutputFormatParquet
)

// String returns the string representation of OutputFormat
func (f OutputFormat) String() string {
	switch f {
	case OutputFormatCSV:
		return "csv"
	case OutputFormatTSV:
		return "tsv"
	case OutputFormatLTSV:
		return "ltsv"
	case OutputFormatXLSX:
		return "xlsx"
	case OutputFormatParquet:
		return "parquet"
	default:
		return "csv"
	}
}

// Extension returns the file extension for the format
func (f OutputFormat) Extension() string {
	switch f {
	case OutputFormatCSV:
		return ExtCSV
	case OutputFormatTSV:
		return ExtTSV
	case OutputFormatLTSV:
		return ExtLTSV
	case OutputFormatXLSX:
		return ExtXLSX
	case OutputFormatParquet:
		return ExtParquet
	default:
		return ExtCSV
	}
}

// ParseOutputFormat converts a format name ("csv", "tsv", ...) to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return OutputFormatCSV, nil
	case "tsv":
		return OutputFormatTSV, nil
	case "ltsv":
		return OutputFormatLTSV, nil
	case "xlsx":
		return OutputFormatXLSX, nil
	case "parquet":
		return OutputFormatParquet, nil
	default:
		return OutputFormatCSV, fmt.Errorf("unsupported output format %q", s)
	}
}

// CompressionType represents the compression type
type CompressionType int

const (
	// CompressionNone represents no compression
	CompressionNone CompressionType = iota
	// CompressionGZ represents gzip compression
	CompressionGZ
	// CompressionBZ2 represents bzip2 compression
	CompressionBZ2
	// CompressionXZ represents xz compression
	CompressionXZ
	// CompressionZSTD represents zstd compression
	CompressionZSTD
	// CompressionLZ4 represents lz4 compression
	CompressionLZ4
)

// String returns the string representation of CompressionType
func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGZ:
		return "gz"
	case CompressionBZ2:
		return "bz2"
	case CompressionXZ:
		return "xz"
	case CompressionZSTD:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "none"
	}
}

// Extension returns the file extension for the compression type
func (c CompressionType) Extension() string {
	switch c {
	case CompressionNone:
		return ""
	case CompressionGZ:
		return ExtGZ
	case CompressionBZ2:
		return ExtBZ2
	case CompressionXZ:
		return ExtXZ
	case CompressionZSTD:
		return ExtZSTD
	case CompressionLZ4:
		return ExtLZ4
	default:
		return ""
	}
}

// ParseCompressionType converts a compression name ("gz", "zstd", ...) to a CompressionType.
func ParseCompressionType(s string) (CompressionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "gz", "gzip":
		return CompressionGZ, nil
	case "bz2", "bzip2":
		return CompressionBZ2, nil
	case "xz":
		return CompressionXZ, nil
	case "zst", "zstd":
		return CompressionZSTD, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return CompressionNone, fmt.Errorf("unsupported compression %q", s)
	}
}

// ExportOptions represents options for exporting a table to a file
type ExportOptions struct {
	// Format specifies the output file format
	Format OutputFormat
	// Compression specifies the compression type
	Compression CompressionType
}

// NewExportOptions creates new ExportOptions with default values (CSV format, no compression)
func NewExportOptions() ExportOptions {
	return ExportOptions{
		Format:      OutputFormatCSV,
		Compression: CompressionNone,
	}
}

// WithFormat sets the output format
func (o ExportOptions) WithFormat(format OutputFormat) ExportOptions {
	o.Format = format
	return o
}

// WithCompression sets the compression type
func (o ExportOptions) WithCompression(compression CompressionType) ExportOptions {
	o.Compression = compression
	return o
}

// FileExtension returns the complete file extension including compression
func (o ExportOptions) FileExtension() string {
	return o.Format.Extension() + o.Compression.Extension()
}
