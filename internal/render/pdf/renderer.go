// Package pdf renders the human-readable invoice document.
//
// Layout is done with fpdf on the standard Helvetica fonts. Catalog sorting
// and creation dates pinned to the issue date make rendering the same
// model.Document twice yield identical bytes.
package pdf

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"

	money "github.com/rezonia/invoice-pipeline/internal/decimal"
	"github.com/rezonia/invoice-pipeline/internal/model"
)

// ContentType of rendered documents
const ContentType = "application/pdf"

const (
	producer = "invoice-pipeline"
	format   = "pdf"
	family   = "Helvetica"

	pageWidth    = 595.28
	marginLeft   = 56.7
	marginRight  = pageWidth - 56.7
	marginTop    = 52.0
	bottomMargin = 110.0
	contentWidth = marginRight - marginLeft

	rowHeight  = 13.0
	bodySize   = 9.0
	smallSize  = 7.5
	noteSize   = 8.0
	colPos     = marginLeft
	colDesc    = marginLeft + 28
	colQty     = 385.0
	colUnit    = 392.0
	colPrice   = 470.0
	descWidth  = colQty - colDesc - 40
	totalLabel = 380.0

	pageCountAlias = "{nb}"
)

// Option configures a Renderer
type Option func(*Renderer)

// WithCompression toggles zlib compression of page content. On by default.
func WithCompression(on bool) Option {
	return func(r *Renderer) {
		r.compress = on
	}
}

// Renderer produces the PDF artifact
type Renderer struct {
	compress bool
}

// NewRenderer creates a PDF renderer
func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{compress: true}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render lays out doc on as many A4 pages as the line items need
func (r *Renderer) Render(doc *model.Document) ([]byte, error) {
	if err := checkDocument(doc); err != nil {
		return nil, err
	}

	f := fpdf.New("P", "pt", "A4", "")
	stamp := doc.IssueDate.UTC()
	f.SetCatalogSort(true)
	f.SetCreationDate(stamp)
	f.SetModificationDate(stamp)
	f.SetCompression(r.compress)
	f.SetProducer(producer, false)
	f.SetTitle("Rechnung "+doc.InvoiceNumber, true)
	f.SetAuthor(doc.Sender.Name, true)
	f.SetSubject("Auftrag "+doc.OrderID, true)
	f.SetMargins(marginLeft, marginTop, pageWidth-marginRight)
	f.SetAutoPageBreak(true, bottomMargin)
	f.AliasNbPages(pageCountAlias)

	l := &layout{doc: doc, f: f, tr: f.UnicodeTranslatorFromDescriptor("")}
	f.SetHeaderFunc(l.header)
	f.SetFooterFunc(l.footer)

	f.AddPage()
	l.firstPage()
	l.items()
	l.totals()
	l.notes()

	var buf bytes.Buffer
	if err := f.Output(&buf); err != nil {
		return nil, model.NewRenderError(format, "document", "layout failed", err)
	}
	return buf.Bytes(), nil
}

func checkDocument(doc *model.Document) error {
	if doc == nil {
		return model.NewRenderError(format, "document", "document is nil", nil)
	}
	if doc.InvoiceNumber == "" {
		return model.NewRenderError(format, "invoice_number", "invoice number is empty", nil)
	}
	if len(doc.LineItems) == 0 {
		return model.NewRenderError(format, "line_items", "invoice has no line items", nil)
	}
	for _, party := range []struct {
		name string
		p    model.Party
	}{{"sender", doc.Sender}, {"recipient", doc.Recipient}} {
		if party.p.Address == nil {
			return model.NewRenderError(format, party.name+".address", "address is missing", nil)
		}
		if missing := party.p.Address.MissingFields(); len(missing) > 0 {
			return model.NewRenderError(format, party.name+".address",
				"incomplete address: "+strings.Join(missing, ", "), nil)
		}
	}
	return nil
}

type layout struct {
	doc     *model.Document
	f       *fpdf.Fpdf
	tr      func(string) string
	inTable bool
}

func (l *layout) font(style string, size float64) {
	l.f.SetFont(family, style, size)
}

// cell writes text into a box of width w whose top edge is at y
func (l *layout) cell(x, y, w, h float64, align, text string) {
	l.f.SetXY(x, y)
	l.f.CellFormat(w, h, l.tr(text), "", 0, align, false, 0, "")
}

func (l *layout) left(x, y float64, text string) {
	l.cell(x, y, 0, rowHeight, "L", text)
}

// right aligns text so that it ends at x
func (l *layout) right(x, y float64, text string) {
	l.cell(x-200, y, 200, rowHeight, "R", text)
}

func (l *layout) rule(x1, x2, y, width float64) {
	l.f.SetLineWidth(width)
	l.f.Line(x1, y, x2, y)
}

func (l *layout) header() {
	if l.f.PageNo() == 1 {
		return
	}
	l.font("B", 11)
	l.left(marginLeft, marginTop, fmt.Sprintf("Rechnung %s (Fortsetzung)", l.doc.InvoiceNumber))
	l.f.SetY(marginTop + 30)
	if l.inTable {
		l.tableHeader()
	}
}

func (l *layout) footer() {
	sender := l.doc.Sender.Address
	parts := []string{sender.CompanyName}
	if sender.TaxID != "" {
		parts = append(parts, "USt-IdNr. "+sender.TaxID)
	}
	if l.doc.Sender.Email != "" {
		parts = append(parts, l.doc.Sender.Email)
	}

	_, pageHeight := l.f.GetPageSize()
	y := pageHeight - 62
	l.rule(marginLeft, marginRight, y, 0.4)
	l.font("", smallSize)
	l.left(marginLeft, y+4, strings.Join(parts, " · "))
	l.right(marginRight, y+4, fmt.Sprintf("Seite %d von %s", l.f.PageNo(), pageCountAlias))
}

func (l *layout) firstPage() {
	doc := l.doc
	sender := doc.Sender.Address
	recipient := doc.Recipient.Address

	l.font("B", 14)
	l.left(marginLeft, marginTop, sender.CompanyName)
	l.font("", smallSize+0.5)
	y := marginTop
	for _, line := range partyLines(sender, doc.Sender) {
		l.cell(marginRight-200, y, 200, 10, "R", line)
		y += 10
	}

	// return address above the window
	l.font("", 6.5)
	l.cell(marginLeft, 128, 240, 9, "L",
		strings.Join([]string{sender.CompanyName, sender.StreetLine(), sender.CityLine()}, " · "))
	l.rule(marginLeft, marginLeft+240, 139, 0.4)

	y = 148
	for i, line := range addressBlock(recipient) {
		style := ""
		if i == 0 {
			style = "B"
		}
		l.font(style, 10)
		l.left(marginLeft, y, line)
		y += 13
	}

	meta := [][2]string{
		{"Rechnungsnummer", doc.InvoiceNumber},
		{"Rechnungsdatum", doc.IssueDate.Format("02.01.2006")},
		{"Leistungsdatum", doc.DeliveryDate.Format("02.01.2006")},
		{"Auftragsnummer", doc.OrderID},
	}
	if doc.BuyerRef != "" && doc.BuyerRef != doc.OrderID {
		meta = append(meta, [2]string{"Ihre Referenz", doc.BuyerRef})
	}
	if recipient.TaxID != "" {
		meta = append(meta, [2]string{"Ihre USt-IdNr.", recipient.TaxID})
	}
	y = 148
	for _, kv := range meta {
		l.font("", bodySize)
		l.left(360, y, kv[0])
		l.font("B", bodySize)
		l.right(marginRight, y, kv[1])
		y += 13
	}

	l.font("B", 16)
	l.left(marginLeft, 262, "Rechnung")
	l.f.SetY(300)
}

func (l *layout) tableHeader() {
	y := l.f.GetY()
	l.f.SetFillColor(230, 230, 230)
	l.f.Rect(marginLeft-4, y-2, contentWidth+8, 15, "F")
	l.font("B", bodySize)
	l.left(colPos, y, "Pos.")
	l.left(colDesc, y, "Beschreibung")
	l.right(colQty, y, "Menge")
	l.left(colUnit, y, "Einh.")
	l.right(colPrice, y, "Einzelpreis")
	l.right(marginRight, y, "Gesamt")
	l.f.SetY(y + rowHeight + 4)
}

func (l *layout) items() {
	l.inTable = true
	l.tableHeader()
	cur := l.doc.Currency
	_, pageHeight := l.f.GetPageSize()
	for _, item := range l.doc.LineItems {
		l.font("", bodySize)
		lines := l.f.SplitLines([]byte(l.tr(item.Description)), descWidth)
		if len(lines) == 0 {
			lines = [][]byte{nil}
		}
		height := float64(len(lines)) * rowHeight
		if l.f.GetY()+height > pageHeight-bottomMargin {
			l.f.AddPage()
			l.font("", bodySize)
		}

		y := l.f.GetY()
		l.left(colPos, y, fmt.Sprintf("%d", item.Position))
		l.right(colQty, y, quantity(item.Quantity))
		l.left(colUnit, y, unitLabel(item.UnitOfMeasure))
		l.right(colPrice, y, money.Format(item.UnitPrice, cur))
		l.right(marginRight, y, money.Format(item.TotalPrice, cur))
		for i, line := range lines {
			l.f.SetXY(colDesc, y+float64(i)*rowHeight)
			l.f.CellFormat(descWidth, rowHeight, string(line), "", 0, "L", false, 0, "")
		}
		l.f.SetY(y + height)
	}
	l.inTable = false
	l.rule(marginLeft, marginRight, l.f.GetY()+2, 0.5)
	l.f.SetY(l.f.GetY() + 8)
}

func (l *layout) ensure(height float64) {
	_, pageHeight := l.f.GetPageSize()
	if l.f.GetY()+height > pageHeight-bottomMargin {
		l.f.AddPage()
	}
}

func (l *layout) totals() {
	doc := l.doc
	l.ensure(4 * rowHeight)

	rows := [][2]string{
		{"Nettobetrag", money.Format(doc.Amount, doc.Currency)},
		{fmt.Sprintf("Umsatzsteuer %s %%", quantity(doc.TaxRate)), money.Format(doc.TaxAmount, doc.Currency)},
	}
	l.font("", bodySize)
	y := l.f.GetY()
	for _, row := range rows {
		l.left(totalLabel, y, row[0])
		l.right(marginRight, y, row[1])
		y += rowHeight
	}
	l.rule(totalLabel, marginRight, y+1, 0.5)
	y += 4
	l.font("B", 10)
	l.left(totalLabel, y, "Gesamtbetrag")
	l.right(marginRight, y, money.Format(doc.GrossAmount, doc.Currency))
	l.f.SetY(y + 2*rowHeight)
}

func (l *layout) notes() {
	l.font("", noteSize)
	for _, paragraph := range []string{l.doc.Note, l.doc.PaymentTerms, l.doc.Disclaimer} {
		if strings.TrimSpace(paragraph) == "" {
			continue
		}
		l.f.SetX(marginLeft)
		l.f.MultiCell(contentWidth, 11, l.tr(paragraph), "", "L", false)
		l.f.Ln(6)
	}
}

func partyLines(addr *model.InvoiceAddress, party model.Party) []string {
	lines := []string{addr.StreetLine(), addr.CityLine()}
	if addr.Country != "" && addr.Country != "DE" {
		lines = append(lines, addr.Country)
	}
	if addr.TaxID != "" {
		lines = append(lines, "USt-IdNr. "+addr.TaxID)
	}
	if party.Email != "" {
		lines = append(lines, party.Email)
	}
	if party.Phone != "" {
		lines = append(lines, "Tel. "+party.Phone)
	}
	return lines
}

func addressBlock(addr *model.InvoiceAddress) []string {
	lines := []string{addr.CompanyName}
	if addr.ContactName != "" && addr.ContactName != addr.CompanyName {
		lines = append(lines, addr.ContactName)
	}
	lines = append(lines, addr.StreetLine(), addr.CityLine())
	if addr.Country != "DE" {
		lines = append(lines, addr.Country)
	}
	return lines
}

// quantity prints a decimal the German way without trailing zeros
func quantity(d decimal.Decimal) string {
	return strings.Replace(d.String(), ".", ",", 1)
}

func unitLabel(code string) string {
	switch code {
	case "C62", "":
		return "Stk."
	case "HUR":
		return "Std."
	case "KMT":
		return "km"
	case "KGM":
		return "kg"
	default:
		return code
	}
}
