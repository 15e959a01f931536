// Package export renders a proposal's audit history as downloadable files.
package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"github.com/sjperalta/cropcoef-api/internal/models"
	"github.com/sjperalta/cropcoef-api/internal/snapshot"
)

const historySheet = "Historial"

var historyHeaders = []string{
	"Versión", "Acción", "Actor", "Motivo", "Fecha (UTC)", "Estado resultante",
	"Kc ini", "Kc dev", "Kc mid", "Kc end", "Revertido desde", "Snapshot anterior", "Snapshot posterior",
}

// HistoryWorkbook builds an XLSX workbook with one row per audit entry
func HistoryWorkbook(proposalID string, entries []models.AuditLogEntry) ([]byte, string, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", historySheet); err != nil {
		return nil, "", err
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})

	_ = f.SetCellValue(historySheet, "A1", "Propuesta")
	_ = f.SetCellValue(historySheet, "B1", proposalID)

	for i, h := range historyHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(historySheet, cell, h)
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(historyHeaders), 2)
	_ = f.SetCellStyle(historySheet, "A2", lastHeader, headerStyle)

	for i, e := range entries {
		row := i + 3
		values := []interface{}{
			e.ProposalVersion,
			string(e.Action),
			e.Actor,
			e.Reason,
			e.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		}
		values = append(values, stateColumns(e.AfterSnapshot)...)
		revertedFrom := ""
		if e.RevertedFromEntryID != nil {
			revertedFrom = *e.RevertedFromEntryID
		}
		values = append(values, revertedFrom, string(e.BeforeSnapshot), string(e.AfterSnapshot))

		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(historySheet, cell, &values); err != nil {
			return nil, "", err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", err
	}
	return buf.Bytes(), fmt.Sprintf("propuesta_%s_historial.xlsx", proposalID), nil
}

// HistoryPDF builds a printable summary of the audit history
func HistoryPDF(proposalID string, entries []models.AuditLogEntry) ([]byte, string, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(0, 10, fmt.Sprintf("Historial de la propuesta %s", proposalID))
	pdf.Ln(12)

	widths := []float64{18, 22, 45, 28, 40, 18, 18, 18, 18, 50}
	headers := []string{"Version", "Accion", "Actor", "Estado", "Fecha (UTC)", "Kc ini", "Kc dev", "Kc mid", "Kc end", "Motivo"}

	pdf.SetFont("Arial", "B", 9)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for _, e := range entries {
		state := stateColumns(e.AfterSnapshot)
		cells := []string{
			fmt.Sprintf("%d", e.ProposalVersion),
			string(e.Action),
			truncate(e.Actor, 28),
			fmt.Sprint(state[0]),
			e.CreatedAt.UTC().Format("2006-01-02 15:04"),
			fmt.Sprint(state[1]),
			fmt.Sprint(state[2]),
			fmt.Sprint(state[3]),
			fmt.Sprint(state[4]),
			truncate(e.Reason, 32),
		}
		for i, c := range cells {
			pdf.CellFormat(widths[i], 6, c, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := new(bytes.Buffer)
	if err := pdf.Output(buf); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), fmt.Sprintf("propuesta_%s_historial.pdf", proposalID), nil
}

// stateColumns returns status and the four multipliers recorded in s.
// Deletes have no after state and corrupt snapshots are flagged, not hidden.
func stateColumns(s models.Snapshot) []interface{} {
	if s.IsEmpty() {
		return []interface{}{"(eliminada)", "", "", "", ""}
	}
	fields, err := snapshot.Decode(s)
	if err != nil {
		return []interface{}{"(snapshot corrupto)", "", "", "", ""}
	}
	c := fields.Coefficients
	return []interface{}{fields.Status, c.KcIni, c.KcDev, c.KcMid, c.KcEnd}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
