package contracts

import (
	"context"
	"fmt"
	"time"

	"contractflow/internal/models"
	"contractflow/internal/service/ai"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Contracts"

// ExportXLSX renders the contracts visible to requester as a workbook, one
// row per contract with every extracted field in its own column.
func (s *Service) ExportXLSX(ctx context.Context, requester *models.User) ([]byte, error) {
	items, err := s.List(ctx, requester)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	headers := []string{"ID", "Filename", "Status", "Provider", "Created At", "Summary"}
	headers = append(headers, ai.MandatoryFields...)
	headers = append(headers, ai.CrucialFields...)
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(exportSheet, cell, h)
	}

	for r, c := range items {
		row := r + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(exportSheet, cell, v)
		}
		write(1, c.ID)
		write(2, c.Filename)
		write(3, string(c.Status))
		write(4, c.Provider)
		write(5, c.CreatedAt.UTC().Format(time.RFC3339))
		if c.AnalysisSummary != nil {
			write(6, *c.AnalysisSummary)
		}
		col := 7
		for _, group := range []struct {
			name   string
			fields []string
		}{
			{ai.MandatoryGroup, ai.MandatoryFields},
			{ai.CrucialGroup, ai.CrucialFields},
		} {
			values, _ := c.ExtractedData[group.name].(map[string]any)
			for _, field := range group.fields {
				if v, ok := values[field]; ok && v != nil {
					write(col, fmt.Sprint(v))
				}
				col++
			}
		}
	}

	_ = f.SetColWidth(exportSheet, "B", "B", 32)
	_ = f.SetColWidth(exportSheet, "E", "E", 22)
	_ = f.SetColWidth(exportSheet, "F", "F", 40)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}
