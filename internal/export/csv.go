package export

import (
	"encoding/csv"
	"io"

	"prospector/internal/domain"
)

// BOM is the UTF-8 byte order mark, for Excel compatibility on Windows.
var BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVWriter streams jobs as CSV rows.
type CSVWriter struct {
	csv    *csv.Writer
	schema domain.FieldSchema
}

// NewCSVWriter creates a CSVWriter that writes to w.
func NewCSVWriter(w io.Writer, schema domain.FieldSchema) *CSVWriter {
	return &CSVWriter{csv: csv.NewWriter(w), schema: schema}
}

// WriteHeader writes the header row.
func (w *CSVWriter) WriteHeader() error {
	return w.csv.Write(Header(w.schema))
}

// WriteJobs writes one row per job.
func (w *CSVWriter) WriteJobs(jobs []domain.ExtractionJob) error {
	for i := range jobs {
		if err := w.csv.Write(Row(&jobs[i], w.schema)); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes buffered rows and returns any write error.
func (w *CSVWriter) Flush() error {
	w.csv.Flush()
	return w.csv.Error()
}
