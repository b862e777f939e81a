package table

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// TimeLayout is the wire format for timestamps in staged CSV payloads.
const TimeLayout = "2006-01-02 15:04:05"

// FromCSV parses delimited rows with a header into a table. Every cell is a
// string; callers coerce typed columns afterwards. A payload that cannot be
// parsed is a fatal ingestion error.
func FromCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("table: unable to parse payload in FromCSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("table: payload has no header row in FromCSV")
	}
	t := &Table{Cols: records[0]}
	for _, rec := range records[1:] {
		row := make([]any, len(rec))
		for i, v := range rec {
			row[i] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// CSV renders the table as delimited rows with a header. Nil cells render
// empty, timestamps use TimeLayout in UTC.
func (t *Table) CSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Cols); err != nil {
		return nil, fmt.Errorf("table: unable to write header in CSV: %w", err)
	}
	for _, r := range t.Rows {
		rec := make([]string, len(r))
		for i, v := range r {
			rec[i] = formatCell(v)
		}
		if err := w.Write(rec); err != nil {
			return nil, fmt.Errorf("table: unable to write row in CSV: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("table: unable to flush in CSV: %w", err)
	}
	return buf.Bytes(), nil
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.UTC().Format(TimeLayout)
	default:
		return fmt.Sprintf("%v", x)
	}
}
