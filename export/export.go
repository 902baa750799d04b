// Package export moves records and snapshots in and out of XLSX workbooks.
package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"web/clustermap/cluster"
	"web/clustermap/fetch"
	"web/clustermap/store"
)

const (
	AnnotationsSheet = "Annotations"
	RecordsSheet     = "Records"
)

var (
	annotationHeader = []any{"Key", "Kind", "Title", "Latitude", "Longitude", "Count"}
	recordHeader     = []any{"ID", "Entity", "Title", "Subtitle", "Latitude", "Longitude", "Distance (m)"}
)

// Workbook lays snap out on two sheets: one row per annotation and one row
// per record.
func Workbook(snap fetch.Snapshot) (*excelize.File, error) {
	f := excelize.NewFile()
	index, err := f.NewSheet(AnnotationsSheet)
	if err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(RecordsSheet); err != nil {
		return nil, err
	}

	rows := make([][]any, len(snap.Annotations))
	for i, a := range snap.Annotations {
		rows[i] = []any{a.Key(), a.Kind.String(), a.Title, a.Coordinate.Latitude, a.Coordinate.Longitude, a.Count()}
	}
	if err := writeSheet(f, AnnotationsSheet, annotationHeader, rows); err != nil {
		return nil, err
	}

	rows = make([][]any, len(snap.Records))
	for i, r := range snap.Records {
		var distance any
		if r.Distance != cluster.NoDistance {
			distance = r.Distance
		}
		rows[i] = []any{r.ID, r.Entity, r.Title, r.Subtitle, r.Coordinate.Latitude, r.Coordinate.Longitude, distance}
	}
	if err := writeSheet(f, RecordsSheet, recordHeader, rows); err != nil {
		return nil, err
	}

	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}
	return f, nil
}

func writeSheet(f *excelize.File, sheet string, header []any, rows [][]any) error {
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
	}
	return sw.Flush()
}

// Write streams the workbook for snap to w.
func Write(w io.Writer, snap fetch.Snapshot) error {
	f, err := Workbook(snap)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteTo(w)
	return err
}

func Save(path string, snap fetch.Snapshot) error {
	f, err := Workbook(snap)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(path)
}

// ReadRecords turns the rows of sheet into records. The first row names the
// fields and the keyField column holds the primary key. Cells that parse as
// numbers, with either a dot or a comma as decimal separator, are stored as
// float64; the rest as strings. Rows without a key are skipped.
func ReadRecords(f *excelize.File, sheet, keyField string) ([]store.MapRecord, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	header := rows[0]
	keyCol := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), keyField) {
			keyCol = i
			break
		}
	}
	if keyCol < 0 {
		return nil, fmt.Errorf("sheet %s: no %q column", sheet, keyField)
	}

	var out []store.MapRecord
	for _, row := range rows[1:] {
		if keyCol >= len(row) || strings.TrimSpace(row[keyCol]) == "" {
			continue
		}
		values := make(map[string]any, len(header))
		for i, name := range header {
			name = strings.TrimSpace(name)
			if name == "" || i >= len(row) {
				continue
			}
			values[name] = parseCell(row[i])
		}
		out = append(out, store.MapRecord{Key: strings.TrimSpace(row[keyCol]), Values: values})
	}
	return out, nil
}

// OpenRecords reads the records of the first sheet of the workbook in r.
func OpenRecords(r io.Reader, keyField string) ([]store.MapRecord, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadRecords(f, f.GetSheetName(0), keyField)
}

func parseCell(val string) any {
	s := strings.TrimSpace(val)
	if s == "" {
		return nil
	}
	if v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64); err == nil {
		return v
	}
	return s
}
