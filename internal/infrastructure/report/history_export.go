// Package report renders audit trails into spreadsheets.
package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/crm-workflow/internal/application/port"
	"github.com/garyjia/crm-workflow/internal/domain/entity"
)

const (
	historySheet  = "History"
	warningsSheet = "Warnings"
	timeLayout    = "2006-01-02 15:04:05"
)

var historyHeader = []string{"When (UTC)", "From", "To", "Changed by", "Role", "Comment", "Transition"}

// HistoryExporter implements port.HistoryExporter with excelize
type HistoryExporter struct {
	logger *zap.Logger
}

// NewHistoryExporter creates a new spreadsheet exporter
func NewHistoryExporter(logger *zap.Logger) *HistoryExporter {
	return &HistoryExporter{logger: logger}
}

// Export writes the changes oldest first, followed by a Warnings sheet when needed
func (e *HistoryExporter) Export(app *entity.Application, changes []*entity.StatusChange, warnings []string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", historySheet); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}

	e.setCell(f, historySheet, "A1", fmt.Sprintf("%s %s", app.Reference, app.Title))
	e.setCell(f, historySheet, "A2", fmt.Sprintf("Current status: %s", app.Status))

	for i, h := range historyHeader {
		e.setCell(f, historySheet, cellName(i+1, 4), h)
	}

	row := 5
	for i := len(changes) - 1; i >= 0; i-- {
		c := changes[i]
		values := []interface{}{
			c.CreatedAt.UTC().Format(timeLayout),
			c.PreviousStatus.String(),
			c.NewStatus.String(),
			c.ChangedBy,
			string(c.ChangedByRole),
			c.Comment,
			c.TransitionID,
		}
		for col, v := range values {
			e.setCell(f, historySheet, cellName(col+1, row), v)
		}
		row++
	}
	_ = f.SetColWidth(historySheet, "A", "A", 20)
	_ = f.SetColWidth(historySheet, "F", "F", 48)

	if len(warnings) > 0 {
		if _, err := f.NewSheet(warningsSheet); err != nil {
			return nil, fmt.Errorf("failed to add warnings sheet: %w", err)
		}
		for i, w := range warnings {
			e.setCell(f, warningsSheet, cellName(1, i+1), w)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("History exported",
		zap.String("application_id", app.ID),
		zap.Int("changes", len(changes)),
		zap.Int("warnings", len(warnings)))
	return buf.Bytes(), nil
}

func (e *HistoryExporter) setCell(f *excelize.File, sheet, cell string, value interface{}) {
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		e.logger.Warn("Failed to set cell", zap.String("cell", cell), zap.Error(err))
	}
}

func cellName(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

// Verify interface compliance
var _ port.HistoryExporter = (*HistoryExporter)(nil)
