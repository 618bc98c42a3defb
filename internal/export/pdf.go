package export

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
)

const pdfTitle = "Thread activity export"

// writePDF は1レコードにつき1段落のPDFを生成する。
// 標準フォントはcp1252のみ対応のため、範囲外の文字は置換される。
func writePDF(records []Record) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(pdfTitle, true)
	pdf.SetCreator("threadpulse", true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 10, pdfTitle, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 6, fmt.Sprintf("%d records", len(records)), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	for _, r := range records {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.MultiCell(0, 5, tr(fmt.Sprintf("%s  %s  %s", r.CreatedAt, r.Type, r.ThreadTitle)), "", "L", false)
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 5, tr(fmt.Sprintf("%s <%s>", r.UserName, r.UserEmail)), "", "L", false)
		if r.Details != "" {
			pdf.MultiCell(0, 5, tr(r.Details), "", "L", false)
		}
		pdf.Ln(3)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDFの生成に失敗しました: %w", err)
	}
	return buf.Bytes(), nil
}
