package importer

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/loykin/hookd/internal/webhook"
)

// Element is one webhook entry point of a definition.
type Element struct {
	ID          string `json:"id" mapstructure:"id"`
	ContextPath string `json:"context_path" mapstructure:"context_path"`
	Type        string `json:"type,omitempty" mapstructure:"type"`
	// Secret, when set, must be presented in SecretHeader on every request.
	Secret       string `json:"secret,omitempty" mapstructure:"secret"`
	SecretHeader string `json:"secret_header,omitempty" mapstructure:"secret_header"`
	// Target, when set, receives a copy of every accepted request.
	Target string `json:"target,omitempty" mapstructure:"target"`
}

// Definition is a deployable, versioned set of webhook elements.
type Definition struct {
	ID       string    `json:"id" mapstructure:"id"`
	Version  int       `json:"version" mapstructure:"version"`
	Source   string    `json:"source,omitempty" mapstructure:"-"`
	Elements []Element `json:"elements" mapstructure:"elements"`
}

type key struct {
	id      string
	version int
}

func (d Definition) key() key { return key{d.ID, d.Version} }

func (d Definition) identity(e Element) webhook.Identity {
	return webhook.Identity{
		DefinitionID: d.ID,
		Version:      d.Version,
		ElementID:    e.ID,
		ContextPath:  e.ContextPath,
	}
}

// Validate rejects definitions the registry could not hold.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errInvalidDefinition("definition id is required", d)
	}
	if d.Version <= 0 {
		return errInvalidDefinition("definition version must be positive", d)
	}
	if len(d.Elements) == 0 {
		return errInvalidDefinition("definition has no elements", d)
	}
	seen := make(map[string]bool, len(d.Elements))
	for _, e := range d.Elements {
		if strings.TrimSpace(e.ID) == "" {
			return errInvalidDefinition("element id is required", d)
		}
		if seen[e.ID] {
			return errInvalidDefinition(fmt.Sprintf("duplicate element id %q", e.ID), d)
		}
		seen[e.ID] = true
		if webhook.NormalizePath(e.ContextPath) == "" {
			return errInvalidDefinition(fmt.Sprintf("element %q has no context path", e.ID), d)
		}
	}
	return nil
}

var supportedExt = map[string]string{
	".toml": "toml",
	".yaml": "yaml",
	".yml":  "yaml",
	".json": "json",
}

// IsDefinitionFile reports whether path has a decodable extension.
func IsDefinitionFile(path string) bool {
	_, ok := supportedExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// DecodeFile reads a TOML, YAML or JSON definition.
func DecodeFile(path string) (Definition, error) {
	typ, ok := supportedExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return Definition{}, fmt.Errorf("unsupported definition file %s", path)
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType(typ)
	if err := v.ReadInConfig(); err != nil {
		return Definition{}, fmt.Errorf("read definition %s: %w", path, err)
	}
	var d Definition
	if err := v.Unmarshal(&d); err != nil {
		return Definition{}, fmt.Errorf("decode definition %s: %w", path, err)
	}
	d.Source = path
	return d, d.Validate()
}
