// Package export writes filtered tables out for download.
package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/ipc"
	"github.com/apache/arrow/go/v18/arrow/memory"

	"cyberdash/internal/engine"
)

// Format selects the download encoding.
type Format string

const (
	CSV   Format = "csv"
	Arrow Format = "arrow"
)

// ParseFormat resolves a format name; the empty string means CSV.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", CSV:
		return CSV, nil
	case Arrow:
		return Arrow, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType is the MIME type of the encoding.
func (f Format) ContentType() string {
	if f == Arrow {
		return "application/vnd.apache.arrow.stream"
	}
	return "text/csv; charset=utf-8"
}

// Extension is the file suffix of the encoding.
func (f Format) Extension() string {
	if f == Arrow {
		return ".arrows"
	}
	return ".csv"
}

// Write encodes t in format f.
func Write(w io.Writer, t engine.Table, f Format) error {
	if f == Arrow {
		return WriteArrow(w, t)
	}
	return WriteCSV(w, t)
}

// WriteCSV writes t with the canonical headers, so the output loads back
// through engine.Load unchanged.
func WriteCSV(w io.Writer, t engine.Table) error {
	cw := csv.NewWriter(w)
	cols := engine.Columns()

	row := make([]string, len(cols))
	for i, c := range cols {
		row[i] = c.Header()
	}
	if err := cw.Write(row); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := 0; i < t.Len(); i++ {
		for j, c := range cols {
			row[j] = t.Value(c, i)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// batchSize is the number of rows per Arrow record batch.
const batchSize = 1024

// Schema is the Arrow schema of an exported table. Field names are the
// API keys of the columns.
func Schema() *arrow.Schema {
	fields := make([]arrow.Field, 0, len(engine.Columns()))
	for _, c := range engine.Columns() {
		fields = append(fields, arrow.Field{Name: c.String(), Type: arrowType(c)})
	}
	return arrow.NewSchema(fields, nil)
}

func arrowType(c engine.Column) arrow.DataType {
	switch c {
	case engine.Year:
		return arrow.PrimitiveTypes.Int32
	case engine.AffectedUsers:
		return arrow.PrimitiveTypes.Int64
	case engine.FinancialLoss, engine.ResolutionTime:
		return arrow.PrimitiveTypes.Float64
	default:
		return arrow.BinaryTypes.String
	}
}

// WriteArrow writes t as an Arrow IPC stream. An empty table produces a
// stream carrying only the schema.
func WriteArrow(w io.Writer, t engine.Table) error {
	mem := memory.NewGoAllocator()
	schema := Schema()

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	iw := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))

	flush := func() error {
		rec := b.NewRecord()
		defer rec.Release()
		if rec.NumRows() == 0 {
			return nil
		}
		return iw.Write(rec)
	}

	cols := engine.Columns()
	for i := 0; i < t.Len(); i++ {
		r := t.Record(i)
		for j, c := range cols {
			appendValue(b.Field(j), c, r)
		}
		if (i+1)%batchSize == 0 {
			if err := flush(); err != nil {
				iw.Close()
				return fmt.Errorf("write arrow batch: %w", err)
			}
		}
	}
	if err := flush(); err != nil {
		iw.Close()
		return fmt.Errorf("write arrow batch: %w", err)
	}
	return iw.Close()
}

func appendValue(fb array.Builder, c engine.Column, r engine.Record) {
	switch c {
	case engine.Year:
		fb.(*array.Int32Builder).Append(int32(r.Year))
	case engine.AffectedUsers:
		fb.(*array.Int64Builder).Append(r.AffectedUsers)
	case engine.FinancialLoss:
		fb.(*array.Float64Builder).Append(r.FinancialLoss)
	case engine.ResolutionTime:
		fb.(*array.Float64Builder).Append(r.ResolutionTime)
	default:
		fb.(*array.StringBuilder).Append(categorical(c, r))
	}
}

func categorical(c engine.Column, r engine.Record) string {
	switch c {
	case engine.Country:
		return r.Country
	case engine.AttackType:
		return r.AttackType
	case engine.TargetIndustry:
		return r.TargetIndustry
	case engine.AttackSource:
		return r.AttackSource
	case engine.VulnerabilityType:
		return r.VulnerabilityType
	default:
		return r.DefenseMechanism
	}
}
