package admin

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"verifiednyumba/backend/internal/verification"
)

const reviewSheet = "Review queue"

var reviewColumns = []string{
	"User ID", "Full name", "Email", "Phone", "Scope", "Tier",
	"Completeness", "Submitted at", "Waiting (hours)", "Documents",
}

// ReviewExporter renders the review queue as an XLSX workbook.
type ReviewExporter struct {
	now func() time.Time
}

func NewReviewExporter() *ReviewExporter {
	return &ReviewExporter{now: time.Now}
}

// Export writes one row per pending review with a styled, frozen,
// filterable header row.
func (e *ReviewExporter) Export(items []verification.ReviewItem) ([]byte, error) {
	file := excelize.NewFile()
	defer file.Close()

	if err := file.SetSheetName("Sheet1", reviewSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	headerStyle, err := file.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
		Border:    borders(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	dataStyle, err := file.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Size: 11},
		Border: borders(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create data style: %w", err)
	}

	for i, col := range reviewColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := file.SetCellValue(reviewSheet, cell, col); err != nil {
			return nil, err
		}
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(reviewColumns), 1)
	if err := file.SetCellStyle(reviewSheet, "A1", lastHeader, headerStyle); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	for i, item := range items {
		row := i + 2
		submitted := ""
		waiting := 0.0
		if item.Record.SubmittedAt != nil {
			submitted = item.Record.SubmittedAt.UTC().Format("2006-01-02 15:04:05")
			waiting = now.Sub(*item.Record.SubmittedAt).Hours()
		}
		docs := ""
		for j, d := range item.Documents {
			if j > 0 {
				docs += ", "
			}
			docs += string(d.Type)
		}

		values := []interface{}{
			item.Record.UserID.String(),
			item.FullName,
			item.Email,
			item.Phone,
			string(item.Record.Scope),
			string(item.Record.Tier),
			item.Record.Completeness,
			submitted,
			float64(int(waiting*10)) / 10,
			docs,
		}
		start, _ := excelize.CoordinatesToCellName(1, row)
		if err := file.SetSheetRow(reviewSheet, start, &values); err != nil {
			return nil, fmt.Errorf("failed to write row: %w", err)
		}
		end, _ := excelize.CoordinatesToCellName(len(reviewColumns), row)
		if err := file.SetCellStyle(reviewSheet, start, end, dataStyle); err != nil {
			return nil, err
		}
	}

	if err := file.SetPanes(reviewSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, err
	}
	if len(items) > 0 {
		lastCell, _ := excelize.CoordinatesToCellName(len(reviewColumns), len(items)+1)
		if err := file.AutoFilter(reviewSheet, "A1:"+lastCell, nil); err != nil {
			return nil, err
		}
	}
	widths := []float64{38, 24, 30, 16, 10, 16, 12, 20, 14, 40}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := file.SetColWidth(reviewSheet, col, col, w); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func borders() []excelize.Border {
	return []excelize.Border{
		{Type: "left", Color: "D9D9D9", Style: 1},
		{Type: "top", Color: "D9D9D9", Style: 1},
		{Type: "right", Color: "D9D9D9", Style: 1},
		{Type: "bottom", Color: "D9D9D9", Style: 1},
	}
}
