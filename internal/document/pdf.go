package document

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
)

const (
	pageMargin   = 15.0
	lineHeight   = 6.0
	brandR       = 46
	brandG       = 125
	brandB       = 50
	tableHeaderH = 8.0
)

// pdfWriter turns a Layout into PDF bytes. It records the sections it wrote
// so the manifest reflects the actual document.
type pdfWriter struct {
	pdf      *fpdf.Fpdf
	tr       func(string) string
	sections []string
}

func writePDF(l Layout) ([]byte, []string, int, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetTitle(l.Title, true)
	pdf.SetCreator("nutriplan", true)
	pdf.AliasNbPages("")

	w := &pdfWriter{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 10, w.tr(fmt.Sprintf("%s  |  page %d/{nb}", l.Footer, pdf.PageNo())), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	for _, name := range SectionOrder {
		written := true
		switch name {
		case SectionHeader:
			w.header(l)
		case SectionUserInfo:
			w.userInfo(l)
		case SectionMacros:
			w.macros(l)
		case SectionMeals:
			w.meals(l)
		case SectionTips:
			written = w.tips(l)
		}
		if written {
			w.sections = append(w.sections, name)
		}
	}

	pages := pdf.PageNo()
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, nil, 0, fmt.Errorf("failed to write pdf: %w", err)
	}
	return buf.Bytes(), w.sections, pages, nil
}

func (w *pdfWriter) heading(text string) {
	w.pdf.Ln(4)
	w.pdf.SetFont("Helvetica", "B", 13)
	w.pdf.SetTextColor(brandR, brandG, brandB)
	w.pdf.CellFormat(0, 8, w.tr(text), "B", 1, "L", false, 0, "")
	w.pdf.Ln(2)
	w.pdf.SetTextColor(0, 0, 0)
}

func (w *pdfWriter) header(l Layout) {
	w.pdf.SetFont("Helvetica", "B", 18)
	w.pdf.SetTextColor(brandR, brandG, brandB)
	w.pdf.CellFormat(0, 10, w.tr(l.Title), "", 1, "C", false, 0, "")

	w.pdf.SetFont("Helvetica", "", 10)
	w.pdf.SetTextColor(90, 90, 90)
	w.pdf.CellFormat(0, lineHeight, w.tr("Issued "+l.Date), "", 1, "C", false, 0, "")
	if l.Subtitle != "" {
		w.pdf.Ln(2)
		w.pdf.MultiCell(0, lineHeight, w.tr(l.Subtitle), "", "C", false)
	}
	w.pdf.SetTextColor(0, 0, 0)
}

func (w *pdfWriter) userInfo(l Layout) {
	w.heading("Your profile")
	for _, f := range l.UserInfo {
		w.pdf.SetFont("Helvetica", "B", 10)
		w.pdf.CellFormat(40, lineHeight, w.tr(f.Label+":"), "", 0, "L", false, 0, "")
		w.pdf.SetFont("Helvetica", "", 10)
		w.pdf.MultiCell(0, lineHeight, w.tr(f.Value), "", "L", false)
	}
}

func (w *pdfWriter) macros(l Layout) {
	w.heading("Macronutrients")

	widths := []float64{80, 50, 50}
	w.pdf.SetFont("Helvetica", "B", 10)
	w.pdf.SetFillColor(232, 245, 233)
	for i, h := range []string{"Nutrient", "Grams", "% of calories"} {
		w.pdf.CellFormat(widths[i], tableHeaderH, h, "1", 0, "C", true, 0, "")
	}
	w.pdf.Ln(-1)

	w.pdf.SetFont("Helvetica", "", 10)
	for _, row := range l.Macros {
		w.pdf.CellFormat(widths[0], lineHeight+1, w.tr(row.Name), "1", 0, "L", false, 0, "")
		w.pdf.CellFormat(widths[1], lineHeight+1, fmt.Sprintf("%.0f g", row.Grams), "1", 0, "C", false, 0, "")
		w.pdf.CellFormat(widths[2], lineHeight+1, fmt.Sprintf("%.1f%%", row.Percentage), "1", 0, "C", false, 0, "")
		w.pdf.Ln(-1)
	}
}

func (w *pdfWriter) meals(l Layout) {
	w.heading("Daily meals")
	for _, meal := range l.Meals {
		w.pdf.SetFont("Helvetica", "B", 11)
		w.pdf.CellFormat(0, 7, w.tr(fmt.Sprintf("%s  (%s)", meal.Title, meal.Calories)), "", 1, "L", false, 0, "")
		for _, food := range meal.Foods {
			w.pdf.SetFont("Helvetica", "", 10)
			line := fmt.Sprintf("- %s, %s (%s)", food.Name, food.Quantity, food.Calories)
			w.pdf.MultiCell(0, lineHeight, w.tr(line), "", "L", false)
			if food.Notes != "" {
				w.pdf.SetFont("Helvetica", "I", 9)
				w.pdf.SetTextColor(90, 90, 90)
				w.pdf.MultiCell(0, 5, w.tr("   "+food.Notes), "", "L", false)
				w.pdf.SetTextColor(0, 0, 0)
			}
		}
		w.pdf.Ln(2)
	}
}

// tips reports whether anything was written; the section is skipped when
// the plan has neither a water target nor tips.
func (w *pdfWriter) tips(l Layout) bool {
	if l.Hydration == "" && len(l.Tips) == 0 {
		return false
	}

	w.heading("Hydration and tips")
	w.pdf.SetFont("Helvetica", "", 10)
	if l.Hydration != "" {
		w.pdf.MultiCell(0, lineHeight, w.tr(l.Hydration), "", "L", false)
		w.pdf.Ln(2)
	}
	for _, tip := range l.Tips {
		w.pdf.MultiCell(0, lineHeight, w.tr(tip), "", "L", false)
		w.pdf.Ln(1)
	}
	return true
}
