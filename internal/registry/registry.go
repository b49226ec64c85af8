package registry

import (
	"fmt"

	compasserrors "compass/internal/errors"
)

// Registry is the validated, immutable context table.
type Registry struct {
	source         string
	defaultContext Context
	order          []Context
	rules          map[Context]ContextRule
	descriptions   map[Context]string
	alwaysApply    []string
	markers        []Marker
	directives     map[string]Directive
	directiveOrder []string
	resolved       map[Context][]string
	digest         string
}

// Default builds the registry from the embedded document.
func Default() (*Registry, error) {
	cfg, err := DefaultConfig()
	if err != nil {
		return nil, err
	}
	return New(cfg, DefaultSource)
}

// Load reads, parses, and validates the registry at path.
func Load(path string) (*Registry, error) {
	cfg, err := LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	return New(cfg, path)
}

// New validates cfg and builds a Registry. Any finding is returned as a
// *errors.ConfigurationError listing every issue.
func New(cfg Config, source string) (*Registry, error) {
	norm := cfg.Normalized()
	if err := compasserrors.NewConfigurationError(source, Validate(norm)); err != nil {
		return nil, err
	}

	r := &Registry{
		source:         source,
		defaultContext: Context(norm.DefaultContext),
		rules:          make(map[Context]ContextRule, len(norm.Contexts)),
		descriptions:   make(map[Context]string, len(norm.Contexts)),
		directives:     make(map[string]Directive),
		resolved:       make(map[Context][]string, len(norm.Contexts)),
	}

	globalSeen := make(map[string]bool)
	addGlobal := func(id string) {
		if !globalSeen[id] {
			globalSeen[id] = true
			r.alwaysApply = append(r.alwaysApply, id)
		}
	}
	for _, id := range norm.AlwaysApply {
		addGlobal(id)
	}

	for _, c := range norm.Contexts {
		name := Context(c.Name)
		r.order = append(r.order, name)
		r.descriptions[name] = c.Description
		r.rules[name] = ContextRule{
			Context:      name,
			Markers:      append([]string(nil), c.Markers...),
			DirectiveIDs: append([]string(nil), c.Directives...),
			Patterns:     append([]Pattern(nil), c.Patterns...),
			AlwaysApply:  c.AlwaysApply,
		}
		for _, m := range c.Markers {
			r.markers = append(r.markers, Marker{Token: m, Context: name})
		}
		if c.AlwaysApply {
			for _, id := range c.Directives {
				addGlobal(id)
			}
		}
	}

	for _, ctx := range r.order {
		r.resolved[ctx] = r.resolve(ctx)
	}
	r.indexDirectives()

	digest, err := Digest(norm)
	if err != nil {
		return nil, &compasserrors.ConfigurationError{Source: source, Err: err}
	}
	r.digest = digest
	return r, nil
}

// resolve emits always-apply ids first, then the context's own ids, keeping
// the first occurrence of each id.
func (r *Registry) resolve(ctx Context) []string {
	rule := r.rules[ctx]
	seen := make(map[string]bool, len(r.alwaysApply)+len(rule.DirectiveIDs))
	ids := make([]string, 0, len(r.alwaysApply)+len(rule.DirectiveIDs))
	for _, list := range [][]string{r.alwaysApply, rule.DirectiveIDs} {
		for _, id := range list {
			if seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Registry) indexDirectives() {
	global := make(map[string]bool, len(r.alwaysApply))
	for _, id := range r.alwaysApply {
		global[id] = true
		r.directives[id] = Directive{ID: id, AlwaysApply: true, Contexts: append([]Context(nil), r.order...)}
		r.directiveOrder = append(r.directiveOrder, id)
	}
	for _, ctx := range r.order {
		for _, id := range r.rules[ctx].DirectiveIDs {
			if global[id] {
				continue
			}
			d, ok := r.directives[id]
			if !ok {
				d = Directive{ID: id}
				r.directiveOrder = append(r.directiveOrder, id)
			}
			if len(d.Contexts) == 0 || d.Contexts[len(d.Contexts)-1] != ctx {
				d.Contexts = append(d.Contexts, ctx)
			}
			r.directives[id] = d
		}
	}
}

// Resolve returns the ordered, de-duplicated directive ids for ctx.
// An unknown context is a configuration error wrapping ErrUnknownContext.
func (r *Registry) Resolve(ctx Context) ([]string, error) {
	ids, ok := r.resolved[NormalizeContext(string(ctx))]
	if !ok {
		return nil, &compasserrors.ConfigurationError{
			Source: r.source,
			Err:    fmt.Errorf("resolve %q: %w", ctx, compasserrors.ErrUnknownContext),
		}
	}
	return append([]string(nil), ids...), nil
}

// Contexts lists every context in declaration order.
func (r *Registry) Contexts() []Context { return append([]Context(nil), r.order...) }

// Default returns the fallback context.
func (r *Registry) Default() Context { return r.defaultContext }

// Has reports whether ctx is part of the closed set.
func (r *Registry) Has(ctx Context) bool {
	_, ok := r.rules[NormalizeContext(string(ctx))]
	return ok
}

// Rule returns a copy of the per-context record.
func (r *Registry) Rule(ctx Context) (ContextRule, bool) {
	rule, ok := r.rules[NormalizeContext(string(ctx))]
	if !ok {
		return ContextRule{}, false
	}
	return rule.clone(), true
}

// Description returns the optional human text for ctx.
func (r *Registry) Description(ctx Context) string {
	return r.descriptions[NormalizeContext(string(ctx))]
}

// AlwaysApply lists the global always-apply ids in emission order.
func (r *Registry) AlwaysApply() []string { return append([]string(nil), r.alwaysApply...) }

// Markers lists every marker in declaration order.
func (r *Registry) Markers() []Marker { return append([]Marker(nil), r.markers...) }

// Directive returns metadata for id.
func (r *Registry) Directive(id string) (Directive, bool) {
	d, ok := r.directives[id]
	if !ok {
		return Directive{}, false
	}
	d.Contexts = append([]Context(nil), d.Contexts...)
	return d, true
}

// Directives lists every referenced directive, always-apply ids first.
func (r *Registry) Directives() []Directive {
	out := make([]Directive, 0, len(r.directiveOrder))
	for _, id := range r.directiveOrder {
		d, _ := r.Directive(id)
		out = append(out, d)
	}
	return out
}

// Source names where the registry was loaded from.
func (r *Registry) Source() string { return r.source }

// Digest is the content hash of the normalized registry document.
func (r *Registry) Digest() string { return r.digest }
