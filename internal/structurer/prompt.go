package structurer

import (
	"strings"

	"prospector/internal/domain"
)

var fieldHints = map[domain.FieldName]string{
	domain.FieldOwnerName:       "full name(s) of the owner(s) of record exactly as printed",
	domain.FieldPropertyAddress: "situs / property street address, with city, state and ZIP when present",
	domain.FieldParcelIDAPN:     "parcel number or assessor's parcel number (APN) exactly as printed, including dashes",
	domain.FieldTaxAmountDue:    "total tax amount currently due as a plain decimal number, no currency symbol or thousands separator",
	domain.FieldDatesMentioned:  `every date in the document normalized to YYYY-MM-DD, joined with "; "`,
}

// BuildPrompt returns the extraction prompt for recognized document text.
func BuildPrompt(schema domain.FieldSchema, text string) string {
	var b strings.Builder
	b.WriteString(`You are an expert parser of property, tax and other legal records. The text below was produced by OCR and may be noisy.
Extract the following fields:
`)
	for _, f := range schema.Fields {
		b.WriteString("- ")
		b.WriteString(string(f))
		if hint, ok := fieldHints[f]; ok {
			b.WriteString(": ")
			b.WriteString(hint)
		}
		b.WriteString("\n")
	}
	b.WriteString(`
IMPORTANT INSTRUCTIONS:
- Every field listed above must appear in "fields". If a field cannot be located in the text, set its value to the literal string "` + domain.NotFoundValue + `" with confidence 0.
- Do not guess. Only report values that appear in the text.
- Confidence is a number between 0.0 and 1.0 reflecting how sure you are the value is correct.
- "document_type" is a short label such as "tax_bill", "deed", "assessment_notice" or "other".

Return ONLY valid JSON with no markdown formatting, no code fences, no explanation, matching:
{
  "document_type": "string",
  "overall_confidence": number,
  "fields": {
    "<field_name>": { "value": "string", "confidence": number }
  }
}

Document Text:
`)
	b.WriteString(text)
	return b.String()
}
