package llm

import (
	"strings"
	"unicode/utf8"
)

// maxPromptRunes caps the document text sent to the model.
const maxPromptRunes = 6000

// BuildSystemPrompt composes the system message: output contract, currency
// default and the arithmetic rules line items must satisfy.
func BuildSystemPrompt(req ExtractRequest) string {
	defCur := strings.TrimSpace(req.DefaultCurrency)
	if defCur == "" {
		defCur = "USD"
	}

	parts := []string{
		"You are an invoice parser. Return ONLY JSON that matches the provided JSON Schema.",
		"Extract every purchased line item with description, quantity, unit_price and total.",
		"Numbers must be JSON numbers using '.' as the decimal point; convert Arabic-Indic digits (٠-٩) to 0-9.",
		"quantity × unit_price should equal total; if only one amount is visible, set quantity 1 and unit_price equal to total.",
		"Do NOT include subtotal, VAT/tax, discount or grand total rows as line items. Put the grand total in 'declared_total' and the VAT rate as a fraction in 'vat_rate'.",
		"Use ISO-8601 dates (YYYY-MM-DD).",
		"Currency must be a 3-letter ISO 4217 code; default to " + defCur + " if uncertain.",
		"Never output null. If a field is not present, omit it.",
	}
	if req.IsArabic {
		parts = append(parts,
			"The document is in Arabic or mixed Arabic/English. Keep descriptions in their original script; read the table right-to-left.")
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt packages the filename hint and the document text. When an
// image is attached the text is still included but marked as low quality.
func BuildUserPrompt(req ExtractRequest, imageAttached bool) string {
	var b strings.Builder
	if filename := strings.TrimSpace(req.FilenameHint); filename != "" {
		b.WriteString("Filename: ")
		b.WriteString(filename)
		b.WriteString("\n")
	}

	text := strings.TrimSpace(req.Text)
	if imageAttached {
		b.WriteString("\nAn image of the invoice page is attached; prefer it where the text below is garbled.\n")
	}
	b.WriteString("\nDocument text:\n")
	if utf8.RuneCountInString(text) > maxPromptRunes {
		b.WriteString(string([]rune(text)[:maxPromptRunes]))
		b.WriteString("\n…(truncated)")
	} else {
		b.WriteString(text)
	}
	return b.String()
}
