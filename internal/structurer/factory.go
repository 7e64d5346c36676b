package structurer

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"prospector/internal/config"
	"prospector/internal/port"
)

// ProviderFactory creates a Structurer from a provider config.
type ProviderFactory func(cfg *config.StructuringProviderConfig) (port.Structurer, error)

// registry of structuring provider factories, populated via RegisterProvider.
var providers = map[string]ProviderFactory{}

// RegisterProvider registers a structuring provider factory by name.
func RegisterProvider(name string, factory ProviderFactory) {
	providers[name] = factory
}

// NewProvider creates a Structurer from a provider config using the registered factory.
func NewProvider(cfg *config.StructuringProviderConfig) (port.Structurer, error) {
	factory, ok := providers[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown structuring provider: %s", cfg.Provider)
	}
	return factory(cfg)
}

// New builds the configured structurer: the primary provider alone, or a
// FallbackStructurer when a secondary is configured.
func New(cfg *config.StructuringConfig, log logrus.FieldLogger) (port.Structurer, error) {
	primary, err := NewProvider(&cfg.Primary)
	if err != nil {
		return nil, fmt.Errorf("creating primary structurer: %w", err)
	}
	secondaryCfg := cfg.SecondaryConfig()
	if secondaryCfg == nil {
		return primary, nil
	}
	secondary, err := NewProvider(secondaryCfg)
	if err != nil {
		return nil, fmt.Errorf("creating secondary structurer: %w", err)
	}
	log.WithFields(logrus.Fields{
		"primary":   cfg.Primary.Provider,
		"secondary": secondaryCfg.Provider,
	}).Info("structurer.New: fallback enabled")
	return NewFallbackStructurer(
		[]port.Structurer{primary, secondary},
		[]string{cfg.Primary.Provider, secondaryCfg.Provider},
		log,
	), nil
}
