// Package export renders extraction jobs for reviewers as CSV or XLSX.
package export

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"prospector/internal/domain"
)

// Header returns the column names for schema: job metadata, then a value and
// a confidence column per field, then review metadata.
func Header(schema domain.FieldSchema) []string {
	cols := []string{"Document ID", "State", "Document Type", "Overall Confidence"}
	for _, f := range schema.Fields {
		cols = append(cols, fieldTitle(f), fieldTitle(f)+" Confidence")
	}
	return append(cols, "Attempts", "Reviewed By", "Review Reason", "Model", "Updated At")
}

// Row converts a job into cells matching Header(schema). Jobs without a
// field set leave the field columns empty.
func Row(job *domain.ExtractionJob, schema domain.FieldSchema) []string {
	row := []string{job.DocumentID, string(job.State), job.DocumentType, formatConfidence(job.OverallConfidence)}
	for _, f := range schema.Fields {
		v, ok := job.StructuredFields[f]
		if !ok {
			row = append(row, "", "")
			continue
		}
		row = append(row, v.Value, strconv.FormatFloat(v.Confidence, 'f', 2, 64))
	}
	return append(row,
		strconv.Itoa(job.AttemptCount),
		job.ReviewedBy,
		job.ReviewReason,
		job.ModelUsed,
		job.UpdatedAt.UTC().Format(time.RFC3339),
	)
}

// fieldTitle turns owner_name into "Owner Name".
func fieldTitle(f domain.FieldName) string {
	parts := strings.Split(string(f), "_")
	for i, p := range parts {
		switch p {
		case "id", "apn":
			parts[i] = strings.ToUpper(p)
		default:
			if p != "" {
				parts[i] = strings.ToUpper(p[:1]) + p[1:]
			}
		}
	}
	return strings.Join(parts, " ")
}

func formatConfidence(c *float64) string {
	if c == nil {
		return ""
	}
	return strconv.FormatFloat(*c, 'f', 2, 64)
}

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

var multiUnderscore = regexp.MustCompile(`_{2,}`)

// SanitizeFilename replaces characters outside [a-zA-Z0-9_-] with _,
// collapses runs of _ and truncates to 100 chars.
func SanitizeFilename(name string) string {
	s := nonAlphanumeric.ReplaceAllString(name, "_")
	s = multiUnderscore.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}

// BuildFilename returns a Content-Disposition filename:
// {sanitized_label}_{YYYY-MM-DD}.{ext}
func BuildFilename(label, ext string, now time.Time) string {
	sanitized := SanitizeFilename(label)
	if sanitized == "" {
		sanitized = "extractions"
	}
	return fmt.Sprintf("%s_%s.%s", sanitized, now.Format("2006-01-02"), ext)
}
