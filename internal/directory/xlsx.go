package directory

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/marx-cli/internal/model"
)

// XLSXLoader reads the contract directory from a workbook. Columns A, B and C
// hold contract code, carrier name and plan type.
type XLSXLoader struct {
	Path      string
	SheetName string // empty means the first sheet
}

// Load reads every row of the sheet in file order.
func (l XLSXLoader) Load(ctx context.Context) ([]model.ContractEntry, error) {
	f, err := xlsx.OpenFile(l.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "directory: open %s", l.Path)
	}

	sheet, err := l.sheet(f)
	if err != nil {
		return nil, err
	}

	entries := make([]model.ContractEntry, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "directory: load cancelled")
		}
		if row == nil || len(row.Cells) == 0 {
			continue
		}
		entries = append(entries, model.ContractEntry{
			ContractCode: cellString(row, 0),
			CarrierName:  cellString(row, 1),
			PlanType:     cellString(row, 2),
		})
	}
	return entries, nil
}

func (l XLSXLoader) sheet(f *xlsx.File) (*xlsx.Sheet, error) {
	if l.SheetName != "" {
		sheet, ok := f.Sheet[l.SheetName]
		if !ok {
			return nil, eris.Errorf("directory: sheet %q not found", l.SheetName)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("directory: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

func cellString(row *xlsx.Row, idx int) string {
	if idx >= len(row.Cells) || row.Cells[idx] == nil {
		return ""
	}
	return strings.TrimSpace(row.Cells[idx].String())
}
