package engine

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/xuri/excelize/v2"
)

// DefaultSQLTable is the table read from PostgreSQL sources.
const DefaultSQLTable = "incidents"

type loadOptions struct {
	sqlTable string
	logger   *slog.Logger
}

// LoadOption customizes Load.
type LoadOption func(*loadOptions)

// WithSQLTable sets the table read from a PostgreSQL source.
func WithSQLTable(name string) LoadOption {
	return func(o *loadOptions) {
		if name != "" {
			o.sqlTable = name
		}
	}
}

// WithLogger sets the logger used for load progress.
func WithLogger(l *slog.Logger) LoadOption {
	return func(o *loadOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// --- 1. MAIN LOADER ---

// Load reads the cleaned incident dataset from source and encodes it into
// a ColumnStore. A postgres:// URL reads a table, a .xlsx path reads the
// first sheet of a workbook, anything else is read as a CSV file with a
// header row.
func Load(ctx context.Context, source string, opts ...LoadOption) (*ColumnStore, error) {
	o := loadOptions{sqlTable: DefaultSQLTable, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	start := time.Now()
	log := o.logger.With(slog.String("source", redactSource(source)))
	log.Info("loading incident data")

	var (
		records []Record
		err     error
	)
	switch {
	case strings.HasPrefix(source, "postgres://"), strings.HasPrefix(source, "postgresql://"):
		records, err = loadSQL(ctx, source, o.sqlTable)
	case strings.EqualFold(filepath.Ext(source), ".xlsx"):
		records, err = loadXLSX(source)
	default:
		records, err = loadCSV(source)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &LoadError{Source: redactSource(source), Err: errors.New("no records")}
	}

	store := NewStore(records)
	log.Info("load complete",
		slog.Int("rows", store.Len()),
		slog.Int("min_year", store.minYear),
		slog.Int("max_year", store.maxYear),
		slog.Duration("took", time.Since(start)))
	return store, nil
}

func loadCSV(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Source: path, Err: err}
	}
	defer f.Close()
	return ReadCSV(f, path)
}

// ReadCSV decodes incident records from CSV text with a header row.
// name is used in error messages only.
func ReadCSV(r io.Reader, name string) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, &LoadError{Source: name, Err: errors.New("empty file")}
	}
	if err != nil {
		return nil, &LoadError{Source: name, Err: err}
	}
	dec, err := newRowDecoder(name, header)
	if err != nil {
		return nil, err
	}

	var records []Record
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &LoadError{Source: name, Err: err}
		}
		if blankRow(fields) {
			continue
		}
		rec, err := dec.decode(fields, len(records)+1)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func loadXLSX(path string) ([]Record, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &LoadError{Source: path, Err: err}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &LoadError{Source: path, Err: errors.New("workbook has no sheets")}
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &LoadError{Source: path, Err: fmt.Errorf("read sheet %q: %w", sheets[0], err)}
	}
	if len(rows) == 0 {
		return nil, &LoadError{Source: path, Err: errors.New("empty sheet")}
	}
	return decodeRows(path, rows[0], rows[1:])
}

func loadSQL(ctx context.Context, dsn, table string) ([]Record, error) {
	src := redactSource(dsn)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, &LoadError{Source: src, Err: err}
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SELECT * FROM "+pq.QuoteIdentifier(table))
	if err != nil {
		return nil, &LoadError{Source: src, Err: err}
	}
	defer rows.Close()
	return scanRows(src, rows)
}

// sqlRows is the subset of *sql.Rows used by scanRows.
type sqlRows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRows(src string, rows sqlRows) ([]Record, error) {
	header, err := rows.Columns()
	if err != nil {
		return nil, &LoadError{Source: src, Err: err}
	}
	dec, err := newRowDecoder(src, header)
	if err != nil {
		return nil, err
	}

	vals := make([]sql.NullString, len(header))
	ptrs := make([]any, len(header))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	fields := make([]string, len(header))

	var records []Record
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &LoadError{Source: src, Err: err}
		}
		for i, v := range vals {
			fields[i] = v.String
		}
		rec, err := dec.decode(fields, len(records)+1)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &LoadError{Source: src, Err: err}
	}
	return records, nil
}

func decodeRows(src string, header []string, rows [][]string) ([]Record, error) {
	dec, err := newRowDecoder(src, header)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(rows))
	for _, fields := range rows {
		if blankRow(fields) {
			continue
		}
		rec, err := dec.decode(fields, len(records)+1)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// --- 2. ROW DECODING ---

type rowDecoder struct {
	src string
	pos [numColumns]int // field index per column
}

func newRowDecoder(src string, header []string) (*rowDecoder, error) {
	d := &rowDecoder{src: src}
	for i := range d.pos {
		d.pos[i] = -1
	}
	for i, h := range header {
		// Excel and some CSV writers prefix a BOM to the first header.
		h = strings.TrimPrefix(h, "\ufeff")
		if c, ok := ParseColumn(h); ok && d.pos[c] < 0 {
			d.pos[c] = i
		}
	}
	for _, c := range Columns() {
		if d.pos[c] < 0 {
			return nil, &SchemaError{Source: src, Column: c.Header(), Reason: "missing required column"}
		}
	}
	return d, nil
}

func (d *rowDecoder) decode(fields []string, row int) (Record, error) {
	get := func(c Column) string {
		if p := d.pos[c]; p < len(fields) {
			return strings.TrimSpace(fields[p])
		}
		return ""
	}
	fail := func(c Column, reason string) error {
		return &SchemaError{Source: d.src, Column: c.Header(), Row: row, Reason: reason}
	}

	var rec Record
	for _, c := range Columns() {
		raw := get(c)
		switch c.Kind() {
		case Categorical:
			if raw == "" {
				return Record{}, fail(c, "empty value")
			}
			rec.set(c, raw)
		case Integer:
			n, ok := parseWhole(raw)
			if !ok {
				return Record{}, fail(c, fmt.Sprintf("%q is not an integer", raw))
			}
			if c == AffectedUsers && n < 0 {
				return Record{}, fail(c, "negative value")
			}
			if c == Year {
				rec.Year = int(n)
			} else {
				rec.AffectedUsers = n
			}
		case Real:
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return Record{}, fail(c, fmt.Sprintf("%q is not a number", raw))
			}
			if v < 0 {
				return Record{}, fail(c, "negative value")
			}
			if c == FinancialLoss {
				rec.FinancialLoss = v
			} else {
				rec.ResolutionTime = v
			}
		}
	}
	return rec, nil
}

func (r *Record) set(c Column, v string) {
	switch c {
	case Country:
		r.Country = v
	case AttackType:
		r.AttackType = v
	case TargetIndustry:
		r.TargetIndustry = v
	case AttackSource:
		r.AttackSource = v
	case VulnerabilityType:
		r.VulnerabilityType = v
	case DefenseMechanism:
		r.DefenseMechanism = v
	}
}

// parseWhole accepts "2019" as well as "2019.0", which pandas writes for
// integer columns that once held NaN.
func parseWhole(s string) (int64, bool) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}

func blankRow(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// redactSource drops credentials from connection URLs before logging.
func redactSource(source string) string {
	if i := strings.Index(source, "://"); i >= 0 {
		if at := strings.LastIndex(source, "@"); at > i {
			return source[:i+3] + "***" + source[at:]
		}
	}
	return source
}
