package template

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"go.yaml.in/yaml/v3"
)

// TemplateType selects the shape of a generated definition.
type TemplateType string

const (
	TypeBasic   TemplateType = "basic"
	TypeSimple  TemplateType = "simple"
	TypeSecured TemplateType = "secured"
	TypeSecret  TemplateType = "secret"
	TypeForward TemplateType = "forward"
	TypeProxy   TemplateType = "proxy"
	TypeMulti   TemplateType = "multi"
)

// Format is the file encoding of a generated definition.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ElementTemplate is one webhook entry of a generated definition.
type ElementTemplate struct {
	ID           string `json:"id" toml:"id" yaml:"id"`
	ContextPath  string `json:"context_path" toml:"context_path" yaml:"context_path"`
	Type         string `json:"type,omitempty" toml:"type,omitempty" yaml:"type,omitempty"`
	Secret       string `json:"secret,omitempty" toml:"secret,omitempty" yaml:"secret,omitempty"`
	SecretHeader string `json:"secret_header,omitempty" toml:"secret_header,omitempty" yaml:"secret_header,omitempty"`
	Target       string `json:"target,omitempty" toml:"target,omitempty" yaml:"target,omitempty"`
}

// DefinitionTemplate is a deployable definition skeleton.
type DefinitionTemplate struct {
	ID       string            `json:"id" toml:"id" yaml:"id"`
	Version  int               `json:"version" toml:"version" yaml:"version"`
	Elements []ElementTemplate `json:"elements" toml:"elements" yaml:"elements"`
}

// Generator builds definition skeletons for `hookd init`.
type Generator struct{}

// NewGenerator creates a new template generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate creates a definition skeleton named id. The context path of the
// first element defaults to "/<id>".
func (g *Generator) Generate(templateType TemplateType, id, path string) (*DefinitionTemplate, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("definition id is required")
	}
	if path == "" {
		path = "/" + id
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	switch templateType {
	case TypeBasic, TypeSimple, "":
		return g.basic(id, path), nil
	case TypeSecured, TypeSecret:
		return g.secured(id, path), nil
	case TypeForward, TypeProxy:
		return g.forward(id, path), nil
	case TypeMulti:
		return g.multi(id, path), nil
	default:
		return nil, fmt.Errorf("unknown template type: %s (supported: %s)", templateType, strings.Join(g.GetSupportedTypes(), ", "))
	}
}

// Render encodes a generated skeleton in the requested format.
func (g *Generator) Render(templateType TemplateType, id, path string, format Format) ([]byte, error) {
	def, err := g.Generate(templateType, id, path)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatTOML, "":
		out, err := toml.Marshal(def)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal template: %w", err)
		}
		return out, nil
	case FormatYAML, "yml":
		out, err := yaml.Marshal(def)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal template: %w", err)
		}
		return out, nil
	case FormatJSON:
		out, err := json.MarshalIndent(def, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal template: %w", err)
		}
		return append(out, '\n'), nil
	default:
		return nil, fmt.Errorf("unknown format: %s (supported: toml, yaml, json)", format)
	}
}

// GetSupportedTypes returns the canonical template type names.
func (g *Generator) GetSupportedTypes() []string {
	return []string{
		string(TypeBasic),
		string(TypeSecured),
		string(TypeForward),
		string(TypeMulti),
	}
}

func envName(id, suffix string) string {
	up := strings.ToUpper(id)
	up = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, up)
	return up + "_" + suffix
}

func (g *Generator) basic(id, path string) *DefinitionTemplate {
	return &DefinitionTemplate{
		ID:      id,
		Version: 1,
		Elements: []ElementTemplate{
			{ID: "start", ContextPath: path, Type: "webhook"},
		},
	}
}

func (g *Generator) secured(id, path string) *DefinitionTemplate {
	d := g.basic(id, path)
	d.Elements[0].Secret = "${" + envName(id, "SECRET") + "}"
	d.Elements[0].SecretHeader = "X-Hookd-Secret"
	return d
}

func (g *Generator) forward(id, path string) *DefinitionTemplate {
	d := g.basic(id, path)
	d.Elements[0].Type = "forward"
	d.Elements[0].Target = "${" + envName(id, "TARGET") + "}"
	return d
}

func (g *Generator) multi(id, path string) *DefinitionTemplate {
	d := g.basic(id, path)
	d.Elements = append(d.Elements, ElementTemplate{
		ID:          "callback",
		ContextPath: strings.TrimSuffix(path, "/") + "/callback",
		Type:        "webhook",
	})
	return d
}
