// Package registry holds the static context table: which contexts exist, how
// they are recognised, and which directives each one pulls in.
//
// A Registry is built once from a Config and is read-only afterwards, so it
// can be shared between goroutines and engine instances without locking.
package registry

import "strings"

// Context is one member of the registry's closed set of operating contexts.
type Context string

// Context names used by the built-in registry.
const (
	ContextDefault   Context = "DEFAULT"
	ContextCoding    Context = "CODING"
	ContextTesting   Context = "TESTING"
	ContextDebugging Context = "DEBUGGING"
	ContextDocs      Context = "DOCS"
	ContextReview    Context = "REVIEW"
)

// NormalizeContext upper-cases and trims a context name.
func NormalizeContext(name string) Context {
	return Context(strings.ToUpper(strings.TrimSpace(name)))
}

func (c Context) String() string { return string(c) }

// Pattern is a weighted, case-insensitive substring used for scoring.
type Pattern struct {
	Match  string `yaml:"match" json:"match"`
	Weight int    `yaml:"weight" json:"weight"`
}

// ContextRule is the registry's per-context record.
type ContextRule struct {
	Context      Context
	Markers      []string // lower-cased
	DirectiveIDs []string // emission order
	Patterns     []Pattern
	AlwaysApply  bool
}

func (r ContextRule) clone() ContextRule {
	r.Markers = append([]string(nil), r.Markers...)
	r.DirectiveIDs = append([]string(nil), r.DirectiveIDs...)
	r.Patterns = append([]Pattern(nil), r.Patterns...)
	return r
}

// Marker binds an explicit marker token to its context.
type Marker struct {
	Token   string
	Context Context
}

// Directive is the registry's metadata view of a directive. Bodies live in the
// repository.
type Directive struct {
	ID          string
	AlwaysApply bool
	// Contexts lists owning contexts in registry order. Always-apply
	// directives are owned by every context.
	Contexts []Context
}

// Config is the YAML document a Registry is built from.
type Config struct {
	Version        int             `yaml:"version,omitempty" json:"version,omitempty"`
	DefaultContext string          `yaml:"default_context" json:"default_context"`
	AlwaysApply    []string        `yaml:"always_apply,omitempty" json:"always_apply,omitempty"`
	Contexts       []ContextConfig `yaml:"contexts" json:"contexts"`
}

// ContextConfig is one entry of Config.Contexts.
type ContextConfig struct {
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	AlwaysApply bool      `yaml:"always_apply,omitempty" json:"always_apply,omitempty"`
	Markers     []string  `yaml:"markers,omitempty" json:"markers,omitempty"`
	Directives  []string  `yaml:"directives,omitempty" json:"directives,omitempty"`
	Patterns    []Pattern `yaml:"patterns,omitempty" json:"patterns,omitempty"`
}
