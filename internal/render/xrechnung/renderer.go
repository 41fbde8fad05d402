// Package xrechnung renders the structured UBL 2.1 export following the
// XRechnung 3.0 CIUS.
package xrechnung

import (
	"strconv"
	"strings"

	"github.com/beevik/etree"

	money "github.com/rezonia/invoice-pipeline/internal/decimal"
	"github.com/rezonia/invoice-pipeline/internal/model"
)

// Namespaces and identifiers of the UBL invoice syntax
const (
	NamespaceInvoice = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
	NamespaceCAC     = "urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
	NamespaceCBC     = "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"

	CustomizationID = "urn:cen.eu:en16931:2017#compliant#urn:xeinkauf.de:kosit:xrechnung_3.0"
	ProfileID       = "urn:fdc:peppol.eu:2017:poacc:billing:01:1.0"

	InvoiceTypeCommercial = "380"
	PaymentMeansUnknown   = "1"
	TaxSchemeVAT          = "VAT"

	ContentType = "application/xml"
)

const format = "xml"

// Renderer produces the XRechnung artifact
type Renderer struct {
	indent int
}

// NewRenderer creates an XRechnung renderer
func NewRenderer() *Renderer {
	return &Renderer{indent: 2}
}

// Render serializes doc as an indented UBL invoice
func (r *Renderer) Render(doc *model.Document) ([]byte, error) {
	tree, err := r.Build(doc)
	if err != nil {
		return nil, err
	}
	tree.Indent(r.indent)
	out, err := tree.WriteToBytes()
	if err != nil {
		return nil, model.NewRenderError(format, "document", "serialize xml", err)
	}
	return out, nil
}

// Build returns the UBL tree for doc without serializing it
func (r *Renderer) Build(doc *model.Document) (*etree.Document, error) {
	if err := checkDocument(doc); err != nil {
		return nil, err
	}
	cur := doc.Currency

	tree := etree.NewDocument()
	tree.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := tree.CreateElement("Invoice")
	root.CreateAttr("xmlns", NamespaceInvoice)
	root.CreateAttr("xmlns:cac", NamespaceCAC)
	root.CreateAttr("xmlns:cbc", NamespaceCBC)

	text(root, "cbc:CustomizationID", CustomizationID)
	text(root, "cbc:ProfileID", ProfileID)
	text(root, "cbc:ID", doc.InvoiceNumber)
	text(root, "cbc:IssueDate", doc.IssueDate.Format("2006-01-02"))
	text(root, "cbc:InvoiceTypeCode", InvoiceTypeCommercial)
	if doc.Note != "" {
		text(root, "cbc:Note", doc.Note)
	}
	text(root, "cbc:DocumentCurrencyCode", cur)
	text(root, "cbc:BuyerReference", doc.BuyerRef)
	text(root.CreateElement("cac:OrderReference"), "cbc:ID", doc.OrderID)

	party(root.CreateElement("cac:AccountingSupplierParty"), doc.Sender)
	party(root.CreateElement("cac:AccountingCustomerParty"), doc.Recipient)

	text(root.CreateElement("cac:Delivery"), "cbc:ActualDeliveryDate", doc.DeliveryDate.Format("2006-01-02"))
	text(root.CreateElement("cac:PaymentMeans"), "cbc:PaymentMeansCode", PaymentMeansUnknown)
	if doc.PaymentTerms != "" {
		text(root.CreateElement("cac:PaymentTerms"), "cbc:Note", doc.PaymentTerms)
	}

	taxTotal := root.CreateElement("cac:TaxTotal")
	amount(taxTotal, "cbc:TaxAmount", money.Fixed(doc.TaxAmount, cur), cur)
	subtotal := taxTotal.CreateElement("cac:TaxSubtotal")
	amount(subtotal, "cbc:TaxableAmount", money.Fixed(doc.Amount, cur), cur)
	amount(subtotal, "cbc:TaxAmount", money.Fixed(doc.TaxAmount, cur), cur)
	category := subtotal.CreateElement("cac:TaxCategory")
	taxCategory(category, doc)
	if doc.TaxCategory() == "E" && doc.Note != "" {
		text(category, "cbc:TaxExemptionReason", doc.Note)
	}
	text(category.CreateElement("cac:TaxScheme"), "cbc:ID", TaxSchemeVAT)

	totals := root.CreateElement("cac:LegalMonetaryTotal")
	amount(totals, "cbc:LineExtensionAmount", money.Fixed(doc.Amount, cur), cur)
	amount(totals, "cbc:TaxExclusiveAmount", money.Fixed(doc.Amount, cur), cur)
	amount(totals, "cbc:TaxInclusiveAmount", money.Fixed(doc.GrossAmount, cur), cur)
	amount(totals, "cbc:PayableAmount", money.Fixed(doc.GrossAmount, cur), cur)

	for _, item := range doc.LineItems {
		line := root.CreateElement("cac:InvoiceLine")
		text(line, "cbc:ID", strconv.Itoa(item.Position))
		qty := text(line, "cbc:InvoicedQuantity", item.Quantity.String())
		qty.CreateAttr("unitCode", item.UnitOfMeasure)
		amount(line, "cbc:LineExtensionAmount", money.Fixed(item.TotalPrice, cur), cur)
		it := line.CreateElement("cac:Item")
		text(it, "cbc:Name", item.Description)
		classified := it.CreateElement("cac:ClassifiedTaxCategory")
		taxCategory(classified, doc)
		text(classified.CreateElement("cac:TaxScheme"), "cbc:ID", TaxSchemeVAT)
		amount(line.CreateElement("cac:Price"), "cbc:PriceAmount", item.UnitPrice.String(), cur)
	}

	return tree, nil
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
	if doc.Sender.Address == nil {
		return model.NewRenderError(format, "sender.address", "address is missing", nil)
	}
	if missing := doc.Sender.Address.MissingFields(); len(missing) > 0 {
		return model.NewRenderError(format, "sender.address", "incomplete address: "+strings.Join(missing, ", "), nil)
	}
	if doc.Recipient.Address == nil {
		return model.NewRenderError(format, "recipient.address", "address is missing", nil)
	}
	if missing := doc.Recipient.Address.MissingFields(); len(missing) > 0 {
		return model.NewRenderError(format, "recipient.address", "incomplete address: "+strings.Join(missing, ", "), nil)
	}
	return nil
}

func party(parent *etree.Element, p model.Party) {
	addr := p.Address
	el := parent.CreateElement("cac:Party")
	if p.Email != "" {
		endpoint := text(el, "cbc:EndpointID", p.Email)
		endpoint.CreateAttr("schemeID", "EM")
	}
	text(el.CreateElement("cac:PartyName"), "cbc:Name", addr.CompanyName)

	postal := el.CreateElement("cac:PostalAddress")
	text(postal, "cbc:StreetName", addr.StreetLine())
	text(postal, "cbc:CityName", addr.City)
	text(postal, "cbc:PostalZone", addr.PostalCode)
	text(postal.CreateElement("cac:Country"), "cbc:IdentificationCode", addr.Country)

	if addr.TaxID != "" {
		scheme := el.CreateElement("cac:PartyTaxScheme")
		text(scheme, "cbc:CompanyID", addr.TaxID)
		text(scheme.CreateElement("cac:TaxScheme"), "cbc:ID", TaxSchemeVAT)
	}
	text(el.CreateElement("cac:PartyLegalEntity"), "cbc:RegistrationName", addr.CompanyName)

	contact := el.CreateElement("cac:Contact")
	name := addr.ContactName
	if name == "" {
		name = p.Name
	}
	text(contact, "cbc:Name", name)
	if p.Phone != "" {
		text(contact, "cbc:Telephone", p.Phone)
	}
	if p.Email != "" {
		text(contact, "cbc:ElectronicMail", p.Email)
	}
}

func taxCategory(parent *etree.Element, doc *model.Document) {
	text(parent, "cbc:ID", doc.TaxCategory())
	text(parent, "cbc:Percent", doc.TaxRate.String())
}

func text(parent *etree.Element, tag, value string) *etree.Element {
	el := parent.CreateElement(tag)
	el.SetText(value)
	return el
}

func amount(parent *etree.Element, tag, value, currency string) *etree.Element {
	el := text(parent, tag, value)
	el.CreateAttr("currencyID", currency)
	return el
}
