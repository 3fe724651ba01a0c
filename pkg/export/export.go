// Package export renders invoices as printable receipts and spreadsheets.
// Figures are rounded here for display only; stored invoices keep full precision.
package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/jung-kurt/gofpdf"
	"github.com/mcclellann/oliveMill/pkg/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	FormatPDF  = "pdf"
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"

	displayPlaces = 2
)

func fixed(v decimal.Decimal) string {
	return v.StringFixed(displayPlaces)
}

func containerCount(containers []models.ContainerLine, kind models.ContainerKind) int64 {
	for _, line := range containers {
		if line.Kind == kind {
			return line.Count
		}
	}
	return 0
}

type pdfConfig struct {
	fontFile string
}

// PDFOption configures receipt rendering.
type PDFOption func(*pdfConfig)

// WithUTF8Font renders receipts with the TrueType font at path, so names and notes in any
// script the font covers print correctly. An empty path keeps the core font.
func WithUTF8Font(path string) PDFOption {
	return func(c *pdfConfig) {
		c.fontFile = path
	}
}

const utf8Family = "receipt"

// receiptFont registers the receipt font and returns its family with the text encoder to use.
// Core fonts only cover cp1252, so text is translated to it; other characters do not print.
func receiptFont(pdf *gofpdf.Fpdf, fontFile string) (string, func(string) string, error) {
	if fontFile == "" {
		return "Arial", pdf.UnicodeTranslatorFromDescriptor(""), nil
	}
	pdf.AddUTF8Font(utf8Family, "", fontFile)
	pdf.AddUTF8Font(utf8Family, "B", fontFile)
	if err := pdf.Error(); err != nil {
		return "", nil, errors.Wrapf(err, "load receipt font %s", fontFile)
	}
	return utf8Family, func(s string) string { return s }, nil
}

// InvoicePDF renders a one-page receipt for an invoice.
func InvoicePDF(invoice *models.Invoice, opts ...PDFOption) ([]byte, error) {
	var cfg pdfConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	pdf := gofpdf.New("P", "mm", "A5", "")
	family, tr, err := receiptFont(pdf, cfg.fontFile)
	if err != nil {
		return nil, err
	}
	pdf.SetFont(family, "B", 14)
	pdf.AddPage()

	pdf.Cell(0, 8, "Olive Mill Receipt")
	pdf.Ln(10)
	pdf.SetFont(family, "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Invoice: %s", invoice.ID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Date: %s", invoice.CreatedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, tr(fmt.Sprintf("Customer: %s (%s)", invoice.CustomerName, invoice.CustomerID)))
	pdf.Ln(5)
	if invoice.CustomerPhone != "" {
		pdf.Cell(0, 6, tr(fmt.Sprintf("Phone: %s", invoice.CustomerPhone)))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Oil pressed: %s", fixed(invoice.OilAmount)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Payment mode: %s", invoice.PaymentMode))
	pdf.Ln(8)

	pdf.SetFont(family, "B", 10)
	pdf.CellFormat(50, 6, "Item", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Oil", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Cash", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont(family, "", 10)

	rows := []struct {
		label     string
		oil, cash decimal.Decimal
	}{
		{"Processing fee", invoice.ReturnAmount.Oil, invoice.ReturnAmount.Cash},
		{fmt.Sprintf("Plastic tanks x%d", containerCount(invoice.Containers, models.ContainerPlastic)), decimal.Zero, decimal.Zero},
		{fmt.Sprintf("Metal tanks x%d", containerCount(invoice.Containers, models.ContainerMetal)), decimal.Zero, decimal.Zero},
		{"Tanks total", invoice.TanksPayment.Oil, invoice.TanksPayment.Cash},
	}
	// Per-kind container fees are in the currency the tanks were paid in.
	if invoice.PaymentMode == models.PaymentModeOil {
		rows[1].oil, rows[2].oil = invoice.TanksPayment.Plastic, invoice.TanksPayment.Metal
	} else {
		rows[1].cash, rows[2].cash = invoice.TanksPayment.Plastic, invoice.TanksPayment.Metal
	}
	for _, row := range rows {
		pdf.CellFormat(50, 6, row.label, "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 6, fixed(row.oil), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, fixed(row.cash), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.SetFont(family, "B", 10)
	pdf.CellFormat(50, 6, "Total due", "1", 0, "L", false, 0, "")
	pdf.CellFormat(35, 6, fixed(invoice.Total.Oil), "1", 0, "R", false, 0, "")
	pdf.CellFormat(35, 6, fixed(invoice.Total.Cash), "1", 0, "R", false, 0, "")
	pdf.Ln(-1)

	if invoice.Notes != "" {
		pdf.Ln(4)
		pdf.SetFont(family, "", 9)
		pdf.MultiCell(0, 5, tr("Notes: "+invoice.Notes), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, errors.Wrap(err, "render invoice pdf")
	}
	return buf.Bytes(), nil
}

var xlsxHeader = []string{
	"Invoice", "Date", "Customer ID", "Customer", "Phone", "Oil Amount", "Mode",
	"Plastic Tanks", "Metal Tanks", "Return Oil", "Return Cash", "Tanks Oil", "Tanks Cash",
	"Total Oil", "Total Cash", "Notes",
}

// InvoicesXLSX renders a workbook with one row per invoice.
func InvoicesXLSX(invoices []*models.Invoice) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "invoices"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, errors.Wrap(err, "rename sheet")
	}
	for i, title := range xlsxHeader {
		if err := setCell(f, sheet, i+1, 1, title); err != nil {
			return nil, err
		}
	}

	for r, inv := range invoices {
		values := []any{
			inv.ID.String(),
			inv.CreatedAt.Format("2006-01-02 15:04"),
			inv.CustomerID,
			inv.CustomerName,
			inv.CustomerPhone,
			inv.OilAmount.InexactFloat64(),
			string(inv.PaymentMode),
			containerCount(inv.Containers, models.ContainerPlastic),
			containerCount(inv.Containers, models.ContainerMetal),
			inv.ReturnAmount.Oil.Round(displayPlaces).InexactFloat64(),
			inv.ReturnAmount.Cash.Round(displayPlaces).InexactFloat64(),
			inv.TanksPayment.Oil.Round(displayPlaces).InexactFloat64(),
			inv.TanksPayment.Cash.Round(displayPlaces).InexactFloat64(),
			inv.Total.Oil.Round(displayPlaces).InexactFloat64(),
			inv.Total.Cash.Round(displayPlaces).InexactFloat64(),
			inv.Notes,
		}
		for c, v := range values {
			if err := setCell(f, sheet, c+1, r+2, v); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, errors.Wrap(err, "render invoices xlsx")
	}
	return buf.Bytes(), nil
}

func setCell(f *excelize.File, sheet string, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return errors.Wrap(err, "resolve cell")
	}
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		return errors.Wrapf(err, "set cell %s", cell)
	}
	return nil
}

type invoiceRow struct {
	ID           string `csv:"invoice_id"`
	CreatedAt    string `csv:"created_at"`
	CustomerID   string `csv:"customer_id"`
	CustomerName string `csv:"customer_name"`
	Phone        string `csv:"customer_phone"`
	OilAmount    string `csv:"oil_amount"`
	Mode         string `csv:"payment_mode"`
	Plastic      int64  `csv:"plastic_tanks"`
	Metal        int64  `csv:"metal_tanks"`
	TotalOil     string `csv:"total_oil"`
	TotalCash    string `csv:"total_cash"`
	Notes        string `csv:"notes"`
}

// InvoicesCSV renders invoices as CSV with a header row.
func InvoicesCSV(invoices []*models.Invoice) ([]byte, error) {
	rows := make([]*invoiceRow, 0, len(invoices))
	for _, inv := range invoices {
		rows = append(rows, &invoiceRow{
			ID:           inv.ID.String(),
			CreatedAt:    inv.CreatedAt.Format(time.RFC3339),
			CustomerID:   inv.CustomerID,
			CustomerName: inv.CustomerName,
			Phone:        inv.CustomerPhone,
			OilAmount:    inv.OilAmount.String(),
			Mode:         string(inv.PaymentMode),
			Plastic:      containerCount(inv.Containers, models.ContainerPlastic),
			Metal:        containerCount(inv.Containers, models.ContainerMetal),
			TotalOil:     fixed(inv.Total.Oil),
			TotalCash:    fixed(inv.Total.Cash),
			Notes:        inv.Notes,
		})
	}
	out, err := gocsv.MarshalBytes(&rows)
	if err != nil {
		return nil, errors.Wrap(err, "render invoices csv")
	}
	return out, nil
}
