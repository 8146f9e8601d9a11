package csvbook

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/apache/arrow/go/v18/parquet"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"
	"github.com/xuri/excelize/v2"

	"github.com/nao1215/csvbook/domain/model"
	"github.com/nao1215/csvbook/engine"
)

// maxSheetNameLength is the longest worksheet name Excel accepts.
const maxSheetNameLength = 31

// ExportTable writes every row of table into dir as "{table}{ext}" and
// returns the written path. dir is created when missing.
func (w *Workspace) ExportTable(ctx context.Context, table, dir string, opts model.ExportOptions) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exportTable(ctx, table, dir, opts)
}

func (w *Workspace) exportTable(ctx context.Context, table, dir string, opts model.ExportOptions) (string, error) {
	errCtx := NewErrorContext("export", dir).WithTable(table)
	if err := w.validator.validateOutputDirectory(dir); err != nil {
		return "", errCtx.Error(err)
	}
	if err := model.ValidateTableName(table); err != nil {
		return "", errCtx.Error(err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", errCtx.Error(err)
	}

	result, err := w.engine.Query(ctx, "SELECT * FROM "+engine.QuoteIdent(table), 0)
	if err != nil {
		return "", errCtx.Error(err)
	}

	path := filepath.Join(dir, table+opts.FileExtension())
	writer, closeWriter, err := model.CreateWriterForFile(path, opts.Compression)
	if err != nil {
		return "", errCtx.Error(err)
	}

	writeErr := writeResult(writer, table, result, opts.Format)
	if closeErr := closeWriter(); closeErr != nil && writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		_ = os.Remove(path)
		return "", errCtx.WithDetails(opts.Format.String()).Error(writeErr)
	}
	return path, nil
}

func writeResult(w io.Writer, table string, result *model.ResultSet, format model.OutputFormat) error {
	switch format {
	case model.OutputFormatCSV:
		return writeDelimited(w, result, ',')
	case model.OutputFormatTSV:
		return writeDelimited(w, result, '\t')
	case model.OutputFormatLTSV:
		return writeLTSV(w, result)
	case model.OutputFormatXLSX:
		return writeXLSX(w, table, result)
	case model.OutputFormatParquet:
		return writeParquet(w, result)
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, format)
	}
}

func writeDelimited(w io.Writer, result *model.ResultSet, comma rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = comma
	if err := cw.Write(result.Columns); err != nil {
		return err
	}
	record := make([]string, len(result.Columns))
	for _, row := range result.Rows {
		for i, v := range row {
			record[i] = formatValue(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var ltsvEscaper = strings.NewReplacer("\t", " ", "\n", " ", "\r", "")

func writeLTSV(w io.Writer, result *model.ResultSet) error {
	var b strings.Builder
	for _, row := range result.Rows {
		b.Reset()
		for i, v := range row {
			if i > 0 {
				b.WriteByte('\t')
			}
			b.WriteString(ltsvEscaper.Replace(result.Columns[i]))
			b.WriteByte(':')
			b.WriteString(ltsvEscaper.Replace(formatValue(v)))
		}
		b.WriteByte('\n')
		if _, err := io.WriteString(w, b.String()); err != nil {
			return err
		}
	}
	return nil
}

func writeXLSX(w io.Writer, table string, result *model.ResultSet) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := table
	if len(sheet) > maxSheetNameLength {
		sheet = sheet[:maxSheetNameLength]
	}
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return err
	}

	header := make([]any, len(result.Columns))
	for i, c := range result.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, row := range result.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = xlsxValue(v)
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}
	return f.Write(w)
}

func xlsxValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string, bool, int, int8, int16, int32, int64, uint8, uint16, uint32, float32, float64, time.Time:
		return x
	default:
		return formatValue(v)
	}
}

// parquetKind is the Arrow column type chosen for a result column.
type parquetKind int

const (
	parquetString parquetKind = iota
	parquetInt
	parquetFloat
	parquetBool
	parquetTime
)

func kindOf(v any) (parquetKind, bool) {
	switch v.(type) {
	case nil:
		return 0, false
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return parquetInt, true
	case float32, float64:
		return parquetFloat, true
	case bool:
		return parquetBool, true
	case time.Time:
		return parquetTime, true
	default:
		return parquetString, true
	}
}

// columnKind picks one Arrow type for column i. Integers mixed with floats
// widen to float; any other mix falls back to string.
func columnKind(rows [][]any, i int) parquetKind {
	kind, seen := parquetString, false
	for _, row := range rows {
		k, ok := kindOf(row[i])
		if !ok {
			continue
		}
		switch {
		case !seen:
			kind, seen = k, true
		case k == kind:
		case (k == parquetInt && kind == parquetFloat) || (k == parquetFloat && kind == parquetInt):
			kind = parquetFloat
		default:
			return parquetString
		}
	}
	return kind
}

func writeParquet(w io.Writer, result *model.ResultSet) error {
	kinds := make([]parquetKind, len(result.Columns))
	fields := make([]arrow.Field, len(result.Columns))
	for i, name := range result.Columns {
		kinds[i] = columnKind(result.Rows, i)
		var dt arrow.DataType
		switch kinds[i] {
		case parquetInt:
			dt = arrow.PrimitiveTypes.Int64
		case parquetFloat:
			dt = arrow.PrimitiveTypes.Float64
		case parquetBool:
			dt = arrow.FixedWidthTypes.Boolean
		case parquetTime:
			dt = arrow.FixedWidthTypes.Timestamp_us
		default:
			dt = arrow.BinaryTypes.String
		}
		fields[i] = arrow.Field{Name: name, Type: dt, Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	builder := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer builder.Release()
	for _, row := range result.Rows {
		for i, v := range row {
			appendArrowValue(builder.Field(i), kinds[i], v)
		}
	}
	record := builder.NewRecord()
	defer record.Release()

	// the parquet writer closes its sink; the caller owns w
	fw, err := pqarrow.NewFileWriter(schema, struct{ io.Writer }{w},
		parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	if err != nil {
		return err
	}
	if err := fw.Write(record); err != nil {
		_ = fw.Close()
		return err
	}
	return fw.Close()
}

func appendArrowValue(b array.Builder, kind parquetKind, v any) {
	if v == nil {
		b.AppendNull()
		return
	}
	switch kind {
	case parquetInt:
		b.(*array.Int64Builder).Append(toInt64(v))
	case parquetFloat:
		b.(*array.Float64Builder).Append(toFloat64(v))
	case parquetBool:
		b.(*array.BooleanBuilder).Append(v.(bool))
	case parquetTime:
		b.(*array.TimestampBuilder).Append(arrow.Timestamp(v.(time.Time).UnixMicro()))
	default:
		b.(*array.StringBuilder).Append(formatValue(v))
	}
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	}
	return 0
}

func toFloat64(v any) float64 {
	switch x := v.(type) {
	case float32:
		return float64(x)
	case float64:
		return x
	}
	return float64(toInt64(v))
}

// formatValue renders a scanned value as text.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.DateTime)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}
