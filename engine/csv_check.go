package engine

import (
	"errors"
	"io"

	"github.com/nao1215/csvbook/domain/model"
)

// checkCSV reads the whole source once and returns the first malformed
// record: a field count that differs from the header, or a broken quote.
func checkCSV(path string) error {
	reader, closeReader, err := model.NewFile(path).OpenReader()
	if err != nil {
		return err
	}
	defer func() { _ = closeReader() }()

	chunks, err := newCSVChunkReader(reader, 1)
	if err != nil {
		return err
	}
	chunks.reader.ReuseRecord = true
	for {
		if _, err := chunks.reader.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
