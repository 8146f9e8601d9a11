package csvbook

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nao1215/csvbook/domain/model"
)

// DefaultMaxUploadBytes is the upload size limit (10 GiB).
const DefaultMaxUploadBytes int64 = 10 << 30

// validator checks sources, uploads and export destinations.
type validator struct {
	maxUploadBytes int64
}

func newValidator(maxUploadBytes int64) *validator {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &validator{maxUploadBytes: maxUploadBytes}
}

// validateSource checks that path names an existing regular file.
func (v *validator) validateSource(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: empty path", ErrSourceNotFound)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return fmt.Errorf("failed to stat path %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrSourceNotFound, path)
	}
	return nil
}

// validateUpload checks the client file name and size of an upload.
func (v *validator) validateUpload(fileName string, size int64) error {
	if !model.IsPlainCSV(fileName) {
		return fmt.Errorf("%w: only CSV files are allowed: %s", ErrUnsupportedFormat, fileName)
	}
	if size > v.maxUploadBytes {
		return fmt.Errorf("%w: %.2fGB, maximum %.0fGB", ErrFileTooLarge,
			float64(size)/(1<<30), float64(v.maxUploadBytes)/(1<<30))
	}
	return nil
}

var unsafeFileNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// safeFileName maps an uploaded file name onto a name safe to save in the
// data folder. Directory components are discarded.
func safeFileName(fileName string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(fileName, `\`, "/"))
	if !isValidFileName(base) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, fileName)
	}
	safe := unsafeFileNameChars.ReplaceAllString(base, "_")
	if strings.Trim(safe, "._") == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, fileName)
	}
	return safe, nil
}

// isValidFileName checks if a filename is safe to process
func isValidFileName(fileName string) bool {
	if fileName == "" || fileName == "." || fileName == "/" {
		return false
	}
	// hidden files
	if strings.HasPrefix(fileName, ".") {
		return false
	}
	return !strings.Contains(fileName, "\x00")
}

// validateOutputDirectory validates that the output directory can be created/accessed
func (v *validator) validateOutputDirectory(outputDir string) error {
	if outputDir == "" {
		return errors.New("output directory cannot be empty")
	}
	info, err := os.Stat(outputDir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("output path exists but is not a directory: %s", outputDir)
		}
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to check output directory: %w", err)
	}
	// created on export
	return nil
}
