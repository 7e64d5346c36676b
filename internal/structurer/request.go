package structurer

import (
	"strings"

	"prospector/internal/domain"
	"prospector/internal/port"
)

// ValidateInput rejects input no provider could structure.
func ValidateInput(input port.StructureInput) error {
	if err := input.Schema.Validate(); err != nil {
		return domain.NewStructuringError(domain.KindInvalidInput, err)
	}
	if strings.TrimSpace(input.Text) == "" {
		return domain.NewStructuringError(domain.KindInvalidInput, domain.ErrEmptyFile)
	}
	return nil
}
