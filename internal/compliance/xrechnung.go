package compliance

import (
	"context"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	money "github.com/rezonia/invoice-pipeline/internal/decimal"
	"github.com/rezonia/invoice-pipeline/internal/model"
	"github.com/rezonia/invoice-pipeline/internal/render/xrechnung"
)

// XRechnungValidator checks the stored structured export against the
// structural business rules of XRechnung.
type XRechnungValidator struct{}

// NewXRechnungValidator creates an XRechnung validator
func NewXRechnungValidator() *XRechnungValidator {
	return &XRechnungValidator{}
}

func (v *XRechnungValidator) Type() model.ValidationType { return model.ValidationXRechnung }

func (v *XRechnungValidator) Version() string { return "3.0.2" }

// required elements below the root and the rule they enforce
var requiredElements = []struct {
	path string
	rule string
}{
	{"./cbc:CustomizationID", "BR-01"},
	{"./cbc:ID", "BR-02"},
	{"./cbc:IssueDate", "BR-03"},
	{"./cbc:InvoiceTypeCode", "BR-04"},
	{"./cbc:DocumentCurrencyCode", "BR-05"},
	{"./cbc:BuyerReference", "BR-DE-15"},
	{"./cac:AccountingSupplierParty/cac:Party/cac:PartyLegalEntity/cbc:RegistrationName", "BR-06"},
	{"./cac:AccountingCustomerParty/cac:Party/cac:PartyLegalEntity/cbc:RegistrationName", "BR-07"},
	{"./cac:AccountingSupplierParty/cac:Party/cac:PostalAddress/cbc:CityName", "BR-DE-3"},
	{"./cac:AccountingSupplierParty/cac:Party/cac:PostalAddress/cbc:PostalZone", "BR-DE-4"},
	{"./cac:AccountingSupplierParty/cac:Party/cac:PostalAddress/cac:Country/cbc:IdentificationCode", "BR-09"},
	{"./cac:AccountingCustomerParty/cac:Party/cac:PostalAddress/cbc:CityName", "BR-DE-8"},
	{"./cac:AccountingCustomerParty/cac:Party/cac:PostalAddress/cbc:PostalZone", "BR-DE-9"},
	{"./cac:AccountingCustomerParty/cac:Party/cac:PostalAddress/cac:Country/cbc:IdentificationCode", "BR-11"},
	{"./cac:AccountingSupplierParty/cac:Party/cac:Contact/cbc:Name", "BR-DE-5"},
	{"./cac:AccountingSupplierParty/cac:Party/cac:Contact/cbc:Telephone", "BR-DE-6"},
	{"./cac:AccountingSupplierParty/cac:Party/cac:Contact/cbc:ElectronicMail", "BR-DE-7"},
	{"./cac:AccountingSupplierParty/cac:Party/cbc:EndpointID", "BR-DE-SELLER-EAS"},
	{"./cac:PaymentMeans/cbc:PaymentMeansCode", "BR-49"},
	{"./cac:LegalMonetaryTotal/cbc:LineExtensionAmount", "BR-12"},
	{"./cac:LegalMonetaryTotal/cbc:TaxExclusiveAmount", "BR-13"},
	{"./cac:LegalMonetaryTotal/cbc:TaxInclusiveAmount", "BR-14"},
	{"./cac:LegalMonetaryTotal/cbc:PayableAmount", "BR-15"},
}

const (
	supplierVAT = "./cac:AccountingSupplierParty/cac:Party/cac:PartyTaxScheme/cbc:CompanyID"
	customerVAT = "./cac:AccountingCustomerParty/cac:Party/cac:PartyTaxScheme/cbc:CompanyID"
)

func (v *XRechnungValidator) Validate(ctx context.Context, s *Subject) (*model.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := model.NewValidationResult(s.Invoice.ID, v.Type(), v.Version())

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(s.XML); err != nil {
		result.AddError("structured export is not well-formed XML: %v", err)
		return result, nil
	}
	root := doc.Root()
	if root == nil || root.Tag != "Invoice" || root.SelectAttrValue("xmlns", "") != xrechnung.NamespaceInvoice {
		result.AddError("root element is not a UBL Invoice")
		return result, nil
	}

	for _, req := range requiredElements {
		if value(root, req.path) == "" {
			result.AddError("[%s] %s is missing", req.rule, elementName(req.path))
		}
	}

	if id := value(root, "./cbc:CustomizationID"); id != "" && id != xrechnung.CustomizationID {
		result.AddError("[BR-DE-21] specification identifier %q is not XRechnung 3.0", id)
	}
	if id := value(root, "./cbc:ID"); id != "" && id != s.Invoice.InvoiceNumber {
		result.AddError("export invoice number %q does not match %q", id, s.Invoice.InvoiceNumber)
	}
	if issued := value(root, "./cbc:IssueDate"); issued != "" {
		if _, err := time.Parse("2006-01-02", issued); err != nil {
			result.AddError("issue date %q is not an ISO date", issued)
		}
	}

	if value(root, supplierVAT) == "" {
		result.AddError("[BR-CO-26] seller VAT identifier is missing")
	}
	if value(root, customerVAT) == "" {
		result.AddError("[BR-CO-9] buyer VAT identifier is missing")
	}

	currency := value(root, "./cbc:DocumentCurrencyCode")
	v.checkCurrencies(result, root, currency)
	v.checkLines(result, root, currency)
	v.checkTaxBreakdown(result, root, currency)
	v.checkAgainstInvoice(result, root, s.Invoice, currency)

	return result, nil
}

// checkAgainstInvoice compares the export with the amounts recorded on the
// invoice row. An export that is internally consistent but disagrees with the
// row fails here.
func (v *XRechnungValidator) checkAgainstInvoice(result *model.ValidationResult, root *etree.Element, inv *model.Invoice, currency string) {
	if currency != "" && !strings.EqualFold(currency, inv.Currency) {
		result.AddError("export currency %q does not match invoice currency %q", currency, inv.Currency)
	}
	cur := inv.Currency
	totals := []struct {
		path string
		name string
		want decimal.Decimal
	}{
		{"./cac:LegalMonetaryTotal/cbc:TaxExclusiveAmount", "net amount", inv.Amount},
		{"./cac:TaxTotal/cbc:TaxAmount", "tax amount", inv.TaxAmount},
		{"./cac:LegalMonetaryTotal/cbc:PayableAmount", "payable amount", inv.GrossAmount},
	}
	for _, total := range totals {
		got, ok := amountAt(result, root, total.path)
		if ok && !money.WithinTolerance(got, total.want, cur) {
			result.AddError("export %s %s does not match invoice %s", total.name, money.Fixed(got, cur), money.Fixed(total.want, cur))
		}
	}
	for i, sub := range root.FindElements("./cac:TaxTotal/cac:TaxSubtotal") {
		if rate, ok := amountAt(result, sub, "./cac:TaxCategory/cbc:Percent"); ok && !rate.Equal(inv.TaxRate) {
			result.AddError("breakdown %d: rate %s%% does not match invoice rate %s%%", i+1, rate, inv.TaxRate)
		}
	}
}

func (v *XRechnungValidator) checkCurrencies(result *model.ValidationResult, root *etree.Element, currency string) {
	for _, el := range root.FindElements(".//*[@currencyID]") {
		if got := el.SelectAttrValue("currencyID", ""); got != currency {
			result.AddError("%s uses currency %q, document currency is %q", el.Tag, got, currency)
			return
		}
	}
}

func (v *XRechnungValidator) checkLines(result *model.ValidationResult, root *etree.Element, currency string) {
	lines := root.FindElements("./cac:InvoiceLine")
	if len(lines) == 0 {
		result.AddError("[BR-16] invoice has no lines")
		return
	}
	totals := make([]decimal.Decimal, 0, len(lines))
	for i, line := range lines {
		if value(line, "./cbc:ID") == "" {
			result.AddError("[BR-21] line %d has no identifier", i+1)
		}
		if value(line, "./cac:Item/cbc:Name") == "" {
			result.AddError("[BR-25] line %d has no item name", i+1)
		}
		if value(line, "./cac:Item/cac:ClassifiedTaxCategory/cbc:ID") == "" {
			result.AddError("[BR-CO-4] line %d has no VAT category", i+1)
		}
		qty, qtyOK := amountAt(result, line, "./cbc:InvoicedQuantity")
		price, priceOK := amountAt(result, line, "./cac:Price/cbc:PriceAmount")
		total, totalOK := amountAt(result, line, "./cbc:LineExtensionAmount")
		if !totalOK {
			continue
		}
		totals = append(totals, total)
		if qtyOK && priceOK && !money.WithinTolerance(money.LineTotal(qty, price, currency), total, currency) {
			result.AddError("line %d: net amount %s does not equal quantity x price", i+1, total)
		}
	}

	if lineSum, ok := amountAt(result, root, "./cac:LegalMonetaryTotal/cbc:LineExtensionAmount"); ok {
		if sum := money.Sum(totals); !money.WithinTolerance(sum, lineSum, currency) {
			result.AddError("[BR-CO-10] sum of line net amounts %s does not equal %s", money.Fixed(sum, currency), lineSum)
		}
	}
}

func (v *XRechnungValidator) checkTaxBreakdown(result *model.ValidationResult, root *etree.Element, currency string) {
	totals := root.FindElements("./cac:TaxTotal")
	if len(totals) == 0 {
		result.AddError("[BR-CO-14] tax total is missing")
		return
	}
	taxTotal, ok := amountAt(result, totals[0], "./cbc:TaxAmount")
	if !ok {
		return
	}

	subtotals := totals[0].FindElements("./cac:TaxSubtotal")
	if len(subtotals) == 0 {
		result.AddError("[BR-CO-18] tax breakdown is missing")
		return
	}
	taxable := decimal.Zero
	tax := decimal.Zero
	for i, sub := range subtotals {
		base, baseOK := amountAt(result, sub, "./cbc:TaxableAmount")
		amount, amountOK := amountAt(result, sub, "./cbc:TaxAmount")
		rate, rateOK := amountAt(result, sub, "./cac:TaxCategory/cbc:Percent")
		if !baseOK || !amountOK || !rateOK {
			continue
		}
		taxable = taxable.Add(base)
		tax = tax.Add(amount)
		if expected := money.CalculateTax(base, rate, currency); !money.WithinTolerance(expected, amount, currency) {
			result.AddError("[BR-CO-17] breakdown %d: tax %s is not %s%% of %s", i+1, amount, rate, base)
		}
		category := value(sub, "./cac:TaxCategory/cbc:ID")
		switch category {
		case "S":
			if !rate.IsPositive() {
				result.AddError("[BR-S-5] standard rated breakdown must have a positive rate")
			}
		case "E":
			if !rate.IsZero() {
				result.AddError("[BR-E-5] exempt breakdown must have rate 0")
			}
			if value(sub, "./cac:TaxCategory/cbc:TaxExemptionReason") == "" {
				result.AddError("[BR-E-10] exempt breakdown has no exemption reason")
			}
		case "":
			result.AddError("[BR-47] breakdown %d has no VAT category", i+1)
		default:
			result.AddWarning("breakdown %d uses VAT category %q", i+1, category)
		}
	}

	if !money.WithinTolerance(tax, taxTotal, currency) {
		result.AddError("[BR-CO-14] tax total %s does not equal the breakdown sum %s", taxTotal, money.Fixed(tax, currency))
	}
	if exclusive, ok := amountAt(result, root, "./cac:LegalMonetaryTotal/cbc:TaxExclusiveAmount"); ok {
		if !money.WithinTolerance(taxable, exclusive, currency) {
			result.AddError("[BR-CO-13] taxable amounts %s do not equal the tax exclusive total %s", money.Fixed(taxable, currency), exclusive)
		}
		if inclusive, ok := amountAt(result, root, "./cac:LegalMonetaryTotal/cbc:TaxInclusiveAmount"); ok {
			if !money.WithinTolerance(exclusive.Add(taxTotal), inclusive, currency) {
				result.AddError("[BR-CO-15] tax inclusive total %s does not equal %s plus tax %s", inclusive, exclusive, taxTotal)
			}
		}
	}
}

func value(el *etree.Element, path string) string {
	found := el.FindElement(path)
	if found == nil {
		return ""
	}
	return strings.TrimSpace(found.Text())
}

// amountAt parses a decimal at path; an unparsable value is recorded as an error
func amountAt(result *model.ValidationResult, el *etree.Element, path string) (decimal.Decimal, bool) {
	raw := value(el, path)
	if raw == "" {
		return decimal.Zero, false
	}
	d, err := money.FromString(raw)
	if err != nil {
		result.AddError("%s value %q is not a decimal", elementName(path), raw)
		return decimal.Zero, false
	}
	return d, true
}

func elementName(path string) string {
	parts := strings.Split(path, "/")
	return parts[len(parts)-1]
}
