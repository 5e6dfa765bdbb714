package provider

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	oasis "github.com/nevindra/aicode"
)

// Capability is one content modality a model may declare support for.
type Capability string

const (
	CapabilityText       Capability = "TEXT"
	CapabilityImageInput Capability = "IMAGE_INPUT"
	CapabilityFileInput  Capability = "FILE_INPUT"
)

// ModelInfo is one entry in the model registry.
type ModelInfo struct {
	Name          string
	Company       string
	Description   string
	Capabilities  []Capability
	ContextLength int
}

type modelEntry struct {
	Description   string   `yaml:"description"`
	Capabilities  []string `yaml:"capabilities"`
	ContextLength int      `yaml:"context_length"`
}

//go:embed models.yaml
var defaultModelsYAML []byte

// Registry maps model name to its declared capabilities, grounded on a
// static YAML document keyed by company then model name.
type Registry struct {
	models map[string]ModelInfo
}

// DefaultRegistry loads the registry embedded in this package.
func DefaultRegistry() (*Registry, error) {
	return LoadRegistry(defaultModelsYAML)
}

// LoadRegistry parses a YAML document shaped as
// {company: {model_name: {description, capabilities, context_length}}}.
func LoadRegistry(data []byte) (*Registry, error) {
	var doc map[string]map[string]modelEntry
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("provider: parse model registry: %w", err)
	}
	r := &Registry{models: make(map[string]ModelInfo)}
	for company, models := range doc {
		for name, e := range models {
			caps := make([]Capability, len(e.Capabilities))
			for i, c := range e.Capabilities {
				caps[i] = Capability(c)
			}
			r.models[name] = ModelInfo{
				Name:          name,
				Company:       company,
				Description:   e.Description,
				Capabilities:  caps,
				ContextLength: e.ContextLength,
			}
		}
	}
	return r, nil
}

// ModelInfo returns the registry entry for model, if known.
func (r *Registry) ModelInfo(model string) (ModelInfo, bool) {
	info, ok := r.models[model]
	return info, ok
}

// HasCapability reports whether model's declared capabilities intersect the
// capabilities msg's content requires: text content needs TEXT, image-url
// content needs IMAGE_INPUT, file content needs FILE_INPUT. A message with
// no content items requires nothing and reports true. An unknown model
// reports false for any message that requires a capability, an all-text
// message included, since there is nothing to confirm the model supports
// even TEXT.
//
// This is an intersection check, not a superset check: a message needing
// both TEXT and IMAGE_INPUT passes against a text-only model, since TEXT
// alone already intersects. Callers that need every required capability
// present should inspect ModelInfo.Capabilities directly instead.
func (r *Registry) HasCapability(model string, msg oasis.Message) bool {
	required := requiredCapabilities(msg)
	if len(required) == 0 {
		return true
	}
	info, ok := r.models[model]
	if !ok {
		return false
	}
	declared := make(map[Capability]bool, len(info.Capabilities))
	for _, c := range info.Capabilities {
		declared[c] = true
	}
	for c := range required {
		if declared[c] {
			return true
		}
	}
	return false
}

func requiredCapabilities(msg oasis.Message) map[Capability]bool {
	req := make(map[Capability]bool, len(msg.Content))
	for _, item := range msg.Content {
		switch item.Type {
		case oasis.ContentText:
			req[CapabilityText] = true
		case oasis.ContentImageURL:
			req[CapabilityImageInput] = true
		case oasis.ContentFile:
			req[CapabilityFileInput] = true
		}
	}
	return req
}
