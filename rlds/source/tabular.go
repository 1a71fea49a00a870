package source

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var tabularExts = map[string]bool{
	".jsonl":   true,
	".ndjson":  true,
	".json":    true,
	".csv":     true,
	".xlsx":    true,
	".parquet": true,
}

func isTabular(name string) bool {
	return tabularExts[strings.ToLower(filepath.Ext(name))]
}

func loadFile(p string) (*memSource, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	return parseTabular(filepath.Ext(p), data, p)
}

// parseTabular decodes data according to the file extension ext. name is
// used in error messages only.
func parseTabular(ext string, data []byte, name string) (*memSource, error) {
	var (
		records []Record
		err     error
	)
	switch strings.ToLower(ext) {
	case ".jsonl", ".ndjson":
		records, err = parseJSONLines(data)
	case ".json":
		records, err = parseJSONArray(data)
	case ".csv":
		records, err = parseCSV(data)
	case ".xlsx":
		records, err = parseXLSX(data)
	case ".parquet":
		records, err = parseParquet(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return &memSource{records: records}, nil
}

func parseJSONLines(data []byte) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		rec, err := decodeRecord(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func parseJSONArray(data []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	records := make([]Record, len(raw))
	for i, m := range raw {
		records[i] = Record(normalizeJSON(m).(map[string]any))
	}
	return records, nil
}

func decodeRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.New("record is null")
	}
	return Record(normalizeJSON(m).(map[string]any)), nil
}

// normalizeJSON turns json.Number into int64 when integral, float64
// otherwise.
func normalizeJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		for k, e := range x {
			x[k] = normalizeJSON(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalizeJSON(e)
		}
		return x
	default:
		return v
	}
}

func parseCSV(data []byte) ([]Record, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var records []Record
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rowRecord(header, row))
	}
	return records, nil
}

// parseXLSX reads the first sheet; the first row is the header.
func parseXLSX(data []byte) ([]Record, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	records := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		records = append(records, rowRecord(rows[0], row))
	}
	return records, nil
}

// rowRecord pairs header cells with row cells; short rows yield empty
// strings.
func rowRecord(header, row []string) Record {
	rec := make(Record, len(header))
	for i, key := range header {
		if i < len(row) {
			rec[key] = row[i]
		} else {
			rec[key] = ""
		}
	}
	return rec
}
