package exports

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// TabularWriter renders an assembled table to a wire format.
type TabularWriter interface {
	ContentType() string
	Extension() string
	Write(w io.Writer, data *TableData) error
}

// CSVWriter streams a table as RFC 4180 CSV.
type CSVWriter struct{}

func (CSVWriter) ContentType() string { return "text/csv" }
func (CSVWriter) Extension() string   { return "csv" }

func (CSVWriter) Write(w io.Writer, data *TableData) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(data.Headers); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range data.Rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExcelWriter renders a table as a single-sheet XLSX workbook with a
// styled header row.
type ExcelWriter struct {
	// SheetName defaults to "Export".
	SheetName string
}

func (ExcelWriter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}
func (ExcelWriter) Extension() string { return "xlsx" }

func (e ExcelWriter) Write(w io.Writer, data *TableData) error {
	sheet := e.SheetName
	if sheet == "" {
		sheet = "Export"
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDDDDD"}},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	for col, name := range data.Headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, name); err != nil {
			return err
		}
	}
	if len(data.Headers) > 0 {
		last, err := excelize.CoordinatesToCellName(len(data.Headers), 1)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
			return err
		}
	}

	for r, row := range data.Rows {
		for c, value := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return err
			}
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
