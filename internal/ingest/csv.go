package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// CSVColumns lists the columns a catalog CSV export must carry.
var CSVColumns = []string{"url", "name", "category", "brand", "img", "description", "price"}

// ReadCSV reads a catalog export. Columns are matched by header name in any
// order; extra columns are ignored. Short rows are padded with empty fields so
// that validation, not parsing, decides whether they are usable.
func ReadCSV(r io.Reader) ([]CSVRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := pos[h]; !dup {
			pos[h] = i
		}
	}

	var missing []string
	for _, col := range CSVColumns {
		if _, ok := pos[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("csv missing columns: %s", strings.Join(missing, ", "))
	}

	field := func(rec []string, col string) string {
		i := pos[col]
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []CSVRow
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("read csv line %d: %w", line, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		rows = append(rows, CSVRow{
			URL:         field(rec, "url"),
			Name:        field(rec, "name"),
			Category:    field(rec, "category"),
			Brand:       field(rec, "brand"),
			Img:         field(rec, "img"),
			Description: field(rec, "description"),
			Price:       field(rec, "price"),
		})
	}
	return rows, nil
}
