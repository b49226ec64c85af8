package registry

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	compasserrors "compass/internal/errors"

	"github.com/kaptinlin/jsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed defaults/registry.yaml defaults/schema.json
var defaultsFS embed.FS

// DefaultSource names the embedded registry in errors and logs.
const DefaultSource = "builtin:registry.yaml"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func registrySchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		data, err := defaultsFS.ReadFile("defaults/schema.json")
		if err != nil {
			schemaErr = fmt.Errorf("read registry schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		schema, schemaErr = compiler.Compile(data)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile registry schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

// DefaultConfigData returns the raw embedded registry document.
func DefaultConfigData() []byte {
	data, err := defaultsFS.ReadFile("defaults/registry.yaml")
	if err != nil {
		panic(fmt.Sprintf("embedded registry missing: %v", err))
	}
	return data
}

// DefaultConfig parses the embedded registry document.
func DefaultConfig() (Config, error) {
	return ParseConfig(DefaultConfigData(), DefaultSource)
}

// LoadConfigFile reads and parses a registry document from disk.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &compasserrors.ConfigurationError{Source: path, Err: fmt.Errorf("read registry: %w", err)}
	}
	return ParseConfig(data, path)
}

// ParseConfig decodes a YAML (or JSON) registry document and checks it against
// the registry schema. Semantic checks happen in New.
func ParseConfig(data []byte, source string) (Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Config{}, compasserrors.NewConfigurationError(source, []compasserrors.Issue{{
			ID:      "empty-document",
			Message: "registry document is empty",
			Hint:    "declare default_context and at least one context",
		}})
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, compasserrors.NewConfigurationError(source, []compasserrors.Issue{{
			ID:      "yaml-syntax",
			Message: err.Error(),
		}})
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return Config{}, compasserrors.NewConfigurationError(source, []compasserrors.Issue{{
			ID:      "yaml-shape",
			Message: err.Error(),
			Hint:    "mapping keys must be strings",
		}})
	}

	sch, err := registrySchema()
	if err != nil {
		return Config{}, &compasserrors.ConfigurationError{Source: source, Err: err}
	}
	if result := sch.ValidateJSON(encoded); !result.IsValid() {
		return Config{}, compasserrors.NewConfigurationError(source, []compasserrors.Issue{{
			ID:      "schema",
			Message: fmt.Sprintf("registry does not match schema: %v", result.Errors),
		}})
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, compasserrors.NewConfigurationError(source, []compasserrors.Issue{{
			ID:      "yaml-decode",
			Message: err.Error(),
		}})
	}
	return cfg, nil
}

// Normalized returns a copy with names upper-cased, markers lower-cased, and
// blank list entries trimmed. Validation and digests work on this form.
func (c Config) Normalized() Config {
	out := Config{
		Version:        c.Version,
		DefaultContext: string(NormalizeContext(c.DefaultContext)),
		AlwaysApply:    trimAll(c.AlwaysApply),
		Contexts:       make([]ContextConfig, 0, len(c.Contexts)),
	}
	for _, ctx := range c.Contexts {
		markers := make([]string, 0, len(ctx.Markers))
		for _, m := range ctx.Markers {
			markers = append(markers, strings.ToLower(strings.TrimSpace(m)))
		}
		patterns := make([]Pattern, 0, len(ctx.Patterns))
		for _, p := range ctx.Patterns {
			patterns = append(patterns, Pattern{Match: strings.ToLower(strings.TrimSpace(p.Match)), Weight: p.Weight})
		}
		out.Contexts = append(out.Contexts, ContextConfig{
			Name:        string(NormalizeContext(ctx.Name)),
			Description: strings.TrimSpace(ctx.Description),
			AlwaysApply: ctx.AlwaysApply,
			Markers:     markers,
			Directives:  trimAll(ctx.Directives),
			Patterns:    patterns,
		})
	}
	return out
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.TrimSpace(v))
	}
	return out
}
