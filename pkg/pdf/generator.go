package pdf

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Certificate is the data printed on a landlord verification certificate.
type Certificate struct {
	Serial   string
	Name     string
	Email    string
	Phone    string
	Tier     string
	IssuedAt time.Time
}

type Generator interface {
	Certificate(ctx context.Context, data Certificate) ([]byte, error)
}

type gofpdfGenerator struct {
	issuer string
}

// NewGenerator renders documents with the core PDF fonts, so no font files
// are needed at runtime.
func NewGenerator(issuer string) Generator {
	return &gofpdfGenerator{issuer: issuer}
}

func (g *gofpdfGenerator) Certificate(ctx context.Context, data Certificate) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetTitle("Verification Certificate", false)
	pdf.SetAuthor(g.issuer, false)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(false, 20)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()

	// border
	pdf.SetLineWidth(1.2)
	pdf.SetDrawColor(22, 101, 52)
	pdf.Rect(10, 10, 277, 190, "D")
	pdf.SetLineWidth(0.3)
	pdf.Rect(14, 14, 269, 182, "D")

	pdf.SetY(32)
	pdf.SetFont("Helvetica", "B", 28)
	pdf.SetTextColor(22, 101, 52)
	pdf.CellFormat(0, 14, tr(g.issuer), "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 16)
	pdf.SetTextColor(60, 60, 60)
	pdf.CellFormat(0, 10, "Landlord Verification Certificate", "", 1, "C", false, 0, "")
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "", 13)
	pdf.CellFormat(0, 8, "This certifies that", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "B", 22)
	pdf.SetTextColor(20, 20, 20)
	pdf.CellFormat(0, 14, tr(data.Name), "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 13)
	pdf.SetTextColor(60, 60, 60)
	pdf.MultiCell(0, 7, tr("has completed identity and property verification and holds the verification tier"), "", "C", false)
	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetTextColor(22, 101, 52)
	pdf.CellFormat(0, 10, tr(data.Tier), "", 1, "C", false, 0, "")
	pdf.Ln(8)

	pdf.SetTextColor(40, 40, 40)
	kv := func(key, val string) {
		if val == "" {
			return
		}
		pdf.SetX(80)
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(45, 7, key+":", "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(0, 7, tr(val), "", 1, "L", false, 0, "")
	}
	kv("Certificate no.", data.Serial)
	kv("Email", data.Email)
	kv("Phone", data.Phone)
	kv("Issued", data.IssuedAt.Format("2 January 2006"))

	pdf.SetY(182)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.SetTextColor(110, 110, 110)
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("Issued by %s. Verification reflects documents reviewed as of the issue date.", g.issuer)), "", 1, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render certificate: %w", err)
	}
	return buf.Bytes(), nil
}
