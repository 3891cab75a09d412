// Package persona defines the assistant's persona presets.
//
// A persona is a small YAML document bundling the system instruction with
// the generation parameters that go with it. Operators can ship a directory
// of presets and select one at startup; the personality setting in the
// database still overrides the system text at runtime.
package persona

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default generation parameters, applied when a persona leaves them unset.
const (
	DefaultMaxTokens   = 150
	DefaultTemperature = 0.7
)

// DefaultSystem is the fallback system instruction used when neither a
// persona file nor the personality setting provides one.
const DefaultSystem = "You are a helpful AI assistant."

// Persona is one assistant preset.
type Persona struct {
	// Name identifies the preset (usually matches the file name).
	Name string `yaml:"name"`

	// Description is a human-readable summary shown in admin listings.
	Description string `yaml:"description,omitempty"`

	// System is the system instruction sent at the top of every prompt.
	System string `yaml:"system"`

	// MaxTokens caps the reply length. Defaults to DefaultMaxTokens.
	MaxTokens int `yaml:"maxTokens,omitempty"`

	// Temperature is the sampling temperature. Defaults to
	// DefaultTemperature when zero.
	Temperature float64 `yaml:"temperature,omitempty"`
}

// Default returns the built-in persona used when no preset is configured.
func Default() Persona {
	return Persona{
		Name:        "default",
		System:      DefaultSystem,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
	}
}

// Parse decodes a persona YAML document and validates it. It is the
// canonical entry point for loading persona files.
func Parse(data []byte) (*Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("persona parse: %w", err)
	}
	if err := Validate(&p); err != nil {
		return nil, err
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = DefaultMaxTokens
	}
	if p.Temperature == 0 {
		p.Temperature = DefaultTemperature
	}
	return &p, nil
}

// Validate checks a Persona for structural correctness. It returns the
// first validation error encountered, or nil if the persona is valid.
func Validate(p *Persona) error {
	if p == nil {
		return fmt.Errorf("persona must not be nil")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("persona: name must not be empty")
	}
	if strings.TrimSpace(p.System) == "" {
		return fmt.Errorf("persona: system instruction must not be empty")
	}
	if p.MaxTokens < 0 {
		return fmt.Errorf("persona: maxTokens must not be negative")
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("persona: temperature must be between 0 and 2, got %v", p.Temperature)
	}
	return nil
}
