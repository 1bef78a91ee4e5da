package cyclecount

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"inventory-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// CountSheetRow is one filled-in line of a count sheet.
// Columns: item id, actual quantity, actual location, condition, notes.
type CountSheetRow struct {
	Row            int // 1-based row in the sheet
	ItemID         uint
	ActualQuantity decimal.Decimal
	ActualLocation string
	Condition      models.ItemCondition
	Notes          string
}

type SheetRowError struct {
	Row    int    `json:"row"`
	ItemID uint   `json:"item_id,omitempty"`
	Error  string `json:"error"`
}

type CountImportReport struct {
	Submitted     int             `json:"submitted"`
	Discrepancies int             `json:"discrepancies"`
	Failed        []SheetRowError `json:"failed"`
}

// ParseCountSheet reads the first worksheet of an xlsx file. A first row whose
// item cell is not a number is treated as the header. Blank rows are ignored;
// rows that cannot be read come back as errors instead of aborting the parse.
func ParseCountSheet(r io.Reader) ([]CountSheetRow, []SheetRowError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, ValidationError{Field: "file", Message: "is not a readable xlsx file"}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, ValidationError{Field: "file", Message: "has no worksheet"}
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}

	var (
		out  []CountSheetRow
		bad  []SheetRowError
		cell = func(row []string, i int) string {
			if i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}
	)
	for i, row := range rows {
		first := cell(row, 0)
		if first == "" {
			continue
		}
		id, err := strconv.ParseUint(first, 10, 64)
		if err != nil || id == 0 {
			if i == 0 {
				continue // header
			}
			bad = append(bad, SheetRowError{Row: i + 1, Error: fmt.Sprintf("item id %q is not a number", first)})
			continue
		}

		qty, err := decimal.NewFromString(cell(row, 1))
		if err != nil {
			bad = append(bad, SheetRowError{Row: i + 1, ItemID: uint(id), Error: fmt.Sprintf("quantity %q is not a number", cell(row, 1))})
			continue
		}

		out = append(out, CountSheetRow{
			Row:            i + 1,
			ItemID:         uint(id),
			ActualQuantity: qty,
			ActualLocation: cell(row, 2),
			Condition:      models.ItemCondition(strings.ToLower(cell(row, 3))),
			Notes:          cell(row, 4),
		})
	}
	return out, bad, nil
}

// ImportCounts submits every sheet row as a count by actorID. Rows are independent:
// a row for an item outside the batch, or one that fails SubmitCount, is reported
// and the rest still go through.
func (s *Service) ImportCounts(ctx context.Context, actorID, batchID uint, rows []CountSheetRow) (*CountImportReport, error) {
	if err := s.authorize(ctx, actorID, models.CapSubmitCounts); err != nil {
		return nil, err
	}
	if _, err := findByID[models.CycleCountBatch](s.db.WithContext(ctx), EntityBatch, batchID); err != nil {
		return nil, err
	}

	var inBatch []uint
	if err := s.db.WithContext(ctx).Model(&models.CycleCountItem{}).
		Where("batch_id = ?", batchID).
		Pluck("id", &inBatch).Error; err != nil {
		return nil, fmt.Errorf("load items of batch %d: %w", batchID, err)
	}
	member := make(map[uint]bool, len(inBatch))
	for _, id := range inBatch {
		member[id] = true
	}

	report := &CountImportReport{Failed: []SheetRowError{}}
	for _, row := range rows {
		if !member[row.ItemID] {
			report.Failed = append(report.Failed, SheetRowError{Row: row.Row, ItemID: row.ItemID, Error: fmt.Sprintf("item is not part of batch %d", batchID)})
			continue
		}

		qty := row.ActualQuantity
		result, err := s.SubmitCount(ctx, CountSubmission{
			ItemID:         row.ItemID,
			CountedBy:      actorID,
			ActualQuantity: &qty,
			ActualLocation: row.ActualLocation,
			Condition:      row.Condition,
			Notes:          row.Notes,
		})
		if err != nil {
			var verr ValidationError
			var cerr ConflictError
			if !errors.As(err, &verr) && !errors.As(err, &cerr) {
				return report, err
			}
			report.Failed = append(report.Failed, SheetRowError{Row: row.Row, ItemID: row.ItemID, Error: err.Error()})
			continue
		}

		report.Submitted++
		if result.HasDiscrepancy {
			report.Discrepancies++
		}
	}
	return report, nil
}
