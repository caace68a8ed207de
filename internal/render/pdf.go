// Package render produces the downloadable PDF rendition of a contract.
package render

import (
	"bytes"
	"fmt"
	"time"

	"github.com/contrax-app/contrax/backend/internal/apperr"
	"github.com/go-pdf/fpdf"
)

// WatermarkText is stamped across every page of free-plan contracts.
const WatermarkText = "CONTRAX - PLANO GRATUITO"

const (
	opRender = "render.pdf"

	pageMarginMM    = 20
	bodyLineHeight  = 6
	titleFontSize   = 16
	bodyFontSize    = 11
	footerFontSize  = 8
	watermarkSize   = 42
	watermarkAngle  = 45
	watermarkGrey   = 210
	defaultFontName = "Helvetica"
)

// Document is the input handed to the renderer.
type Document struct {
	ContractID string
	Title      string
	Body       string
	Status     string
	Watermark  bool
}

type Config struct {
	// Compress toggles stream compression. Disabled output keeps text searchable in raw bytes.
	Compress bool
	Clock    func() time.Time
}

// Renderer lays contracts out on A4 pages.
type Renderer struct {
	compress bool
	clock    func() time.Time
}

func NewRenderer(cfg Config) *Renderer {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Renderer{compress: cfg.Compress, clock: clock}
}

// Render returns the PDF bytes for document.
func (r *Renderer) Render(document Document) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(r.compress)
	pdf.SetMargins(pageMarginMM, pageMarginMM, pageMarginMM)
	pdf.SetAutoPageBreak(true, pageMarginMM)
	pdf.SetCreationDate(r.clock().UTC())
	pdf.SetTitle(document.Title, true)
	pdf.SetCreator("contrax", false)

	translate := pdf.UnicodeTranslatorFromDescriptor("")
	pageWidth, pageHeight := pdf.GetPageSize()

	if document.Watermark {
		pdf.SetHeaderFunc(func() {
			pdf.TransformBegin()
			pdf.TransformRotate(watermarkAngle, pageWidth/2, pageHeight/2)
			pdf.SetFont(defaultFontName, "B", watermarkSize)
			pdf.SetTextColor(watermarkGrey, watermarkGrey, watermarkGrey)
			textWidth := pdf.GetStringWidth(WatermarkText)
			pdf.Text((pageWidth-textWidth)/2, pageHeight/2, WatermarkText)
			pdf.TransformEnd()
			pdf.SetTextColor(0, 0, 0)
			pdf.SetXY(pageMarginMM, pageMarginMM)
		})
	}
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont(defaultFontName, "I", footerFontSize)
		pdf.SetTextColor(110, 110, 110)
		footer := fmt.Sprintf("Contrato %s - %s - página %d", document.ContractID, document.Status, pdf.PageNo())
		pdf.CellFormat(0, 10, translate(footer), "", 0, "C", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	})

	pdf.AddPage()
	pdf.SetFont(defaultFontName, "B", titleFontSize)
	pdf.MultiCell(0, 9, translate(document.Title), "", "C", false)
	pdf.Ln(6)
	pdf.SetFont(defaultFontName, "", bodyFontSize)
	pdf.MultiCell(0, bodyLineHeight, translate(document.Body), "", "J", false)

	var buffer bytes.Buffer
	if err := pdf.Output(&buffer); err != nil {
		return nil, apperr.Internal(opRender, "output_failed", err)
	}
	return buffer.Bytes(), nil
}
