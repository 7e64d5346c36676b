package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"prospector/internal/domain"
)

const sheetName = "Extractions"

// XLSXWriter builds a single-sheet workbook. Rows are buffered by excelize's
// stream writer and the workbook is written out on Close.
type XLSXWriter struct {
	file   *excelize.File
	stream *excelize.StreamWriter
	schema domain.FieldSchema
	row    int
}

// NewXLSXWriter creates an empty workbook with one sheet.
func NewXLSXWriter(schema domain.FieldSchema) (*XLSXWriter, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("renaming sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("creating stream writer: %w", err)
	}
	return &XLSXWriter{file: f, stream: sw, schema: schema, row: 1}, nil
}

func (w *XLSXWriter) writeRow(cells []string) error {
	values := make([]interface{}, len(cells))
	for i, c := range cells {
		values[i] = c
	}
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return err
	}
	if err := w.stream.SetRow(cell, values); err != nil {
		return fmt.Errorf("writing row %d: %w", w.row, err)
	}
	w.row++
	return nil
}

// WriteHeader writes the header row.
func (w *XLSXWriter) WriteHeader() error {
	return w.writeRow(Header(w.schema))
}

// WriteJobs writes one row per job.
func (w *XLSXWriter) WriteJobs(jobs []domain.ExtractionJob) error {
	for i := range jobs {
		if err := w.writeRow(Row(&jobs[i], w.schema)); err != nil {
			return err
		}
	}
	return nil
}

// WriteTo flushes the sheet and writes the workbook to out.
func (w *XLSXWriter) WriteTo(out io.Writer) (int64, error) {
	if err := w.stream.Flush(); err != nil {
		return 0, fmt.Errorf("flushing sheet: %w", err)
	}
	return w.file.WriteTo(out)
}

// Close releases the workbook.
func (w *XLSXWriter) Close() error {
	return w.file.Close()
}
