package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"smartlocker/internal/locker"
)

// SheetName is the worksheet holding the reservation history.
const SheetName = "Reservations"

var headers = []string{"Reservation", "Locker", "Student", "Start", "End", "Hours", "Status"}

const timeLayout = "2006-01-02 15:04:05"

// Build renders reservations into a workbook, one row per reservation.
func Build(reservations []locker.Reservation) (*excelize.File, error) {
	f := excelize.NewFile()
	index, err := f.NewSheet(SheetName)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		_ = f.Close()
		return nil, err
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	for i, r := range reservations {
		row := i + 2
		values := []any{
			r.ID,
			r.LockerNumber,
			r.StudentID,
			r.StartTime.Format(timeLayout),
			r.EndTime.Format(timeLayout),
			r.Duration().Hours(),
			string(r.Status),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(SheetName, cell, v); err != nil {
				_ = f.Close()
				return nil, fmt.Errorf("write row %d: %w", row, err)
			}
		}
	}

	_ = f.SetColWidth(SheetName, "A", "A", 38)
	_ = f.SetColWidth(SheetName, "C", "C", 15)
	_ = f.SetColWidth(SheetName, "D", "E", 20)
	return f, nil
}

// Write renders reservations as XLSX into w.
func Write(w io.Writer, reservations []locker.Reservation) error {
	f, err := Build(reservations)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}
