// Package export flattens product records into tables and serializes them for
// download. All functions are pure over their input.
package export

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"
)

// Table is a flat rendering of heterogeneous records. Headers are the union
// of all record keys in first-appearance order and every row has one cell per
// header.
type Table struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// ToFlatTable flattens records through their JSON form, so the keys and their
// order follow the json tags of the record type. Null values and missing keys
// become empty cells and arrays are joined with commas.
func ToFlatTable[T any](records []T) (Table, error) {
	table := Table{Headers: []string{}, Rows: [][]string{}}
	index := make(map[string]int)
	cells := make([]map[string]string, 0, len(records))

	for i, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			return Table{}, fmt.Errorf("record %d: %w", i, err)
		}

		row := make(map[string]string)
		err = jsonparser.ObjectEach(data, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
			name := string(key)
			if _, ok := index[name]; !ok {
				index[name] = len(table.Headers)
				table.Headers = append(table.Headers, name)
			}
			cell, err := cellValue(value, dataType)
			if err != nil {
				return fmt.Errorf("field %q: %w", name, err)
			}
			row[name] = cell
			return nil
		})
		if err != nil {
			return Table{}, fmt.Errorf("record %d is not a flat object: %w", i, err)
		}
		cells = append(cells, row)
	}

	for _, row := range cells {
		out := make([]string, len(table.Headers))
		for i, h := range table.Headers {
			out[i] = row[h]
		}
		table.Rows = append(table.Rows, out)
	}

	return table, nil
}

func cellValue(value []byte, dataType jsonparser.ValueType) (string, error) {
	switch dataType {
	case jsonparser.String:
		return jsonparser.ParseString(value)
	case jsonparser.Null:
		return "", nil
	case jsonparser.Array:
		var parts []string
		var innerErr error
		_, err := jsonparser.ArrayEach(value, func(v []byte, t jsonparser.ValueType, _ int, err error) {
			if innerErr != nil {
				return
			}
			if err != nil {
				innerErr = err
				return
			}
			part, err := cellValue(v, t)
			if err != nil {
				innerErr = err
				return
			}
			parts = append(parts, part)
		})
		if err != nil {
			return "", err
		}
		if innerErr != nil {
			return "", innerErr
		}
		return strings.Join(parts, ","), nil
	default:
		return string(value), nil
	}
}

// CSV renders the table with every cell quoted and embedded quotes doubled.
// Lines end with CRLF and the header line is not quoted.
func (t Table) CSV() string {
	if len(t.Headers) == 0 {
		return ""
	}

	lines := make([]string, 0, len(t.Rows)+1)
	lines = append(lines, strings.Join(t.Headers, ","))
	for _, row := range t.Rows {
		quoted := make([]string, len(row))
		for i, cell := range row {
			quoted[i] = quote(cell)
		}
		lines = append(lines, strings.Join(quoted, ","))
	}
	return strings.Join(lines, "\r\n")
}

// CSVWithBOM prefixes a UTF-8 byte order mark so spreadsheet applications
// detect the encoding of non-ASCII product names.
func (t Table) CSVWithBOM() string {
	return "\uFEFF" + t.CSV()
}

func quote(cell string) string {
	return `"` + strings.ReplaceAll(cell, `"`, `""`) + `"`
}
