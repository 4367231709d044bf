// Package export renders a project's research for use outside tabwise.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/tabwise/internal/models"
)

const sheetName = "Research"

var header = []interface{}{"ID", "Title", "URL", "Saved At"}

// WriteProjectXLSX writes one spreadsheet row per observation of the project to w.
func WriteProjectXLSX(w io.Writer, research *models.ProjectResearch) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}
	if err := f.SetCellStyle(sheetName, "A1", "D1", bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, obs := range research.Observations {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			fmt.Sprintf("%d", obs.ID),
			obs.Title,
			obs.URL,
			obs.Timestamp.UTC().Format(time.RFC3339),
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
		link, _ := excelize.CoordinatesToCellName(3, i+2)
		if err := f.SetCellHyperLink(sheetName, link, obs.URL, "External"); err != nil {
			return fmt.Errorf("link row %d: %w", i+2, err)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 22)
	_ = f.SetColWidth(sheetName, "B", "B", 50)
	_ = f.SetColWidth(sheetName, "C", "C", 60)
	_ = f.SetColWidth(sheetName, "D", "D", 22)
	if research.Project != nil {
		_ = f.SetDocProps(&excelize.DocProperties{Title: research.Project.Name, Creator: "tabwise"})
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Filename returns a download name for a project's workbook.
func Filename(p *models.Project) string {
	return fmt.Sprintf("project-%d-research.xlsx", p.ID)
}
