package registry

import (
	"fmt"

	compasserrors "compass/internal/errors"
)

// Validate runs the semantic checks on a normalized config and returns every
// finding, in document order.
func Validate(cfg Config) []compasserrors.Issue {
	var issues []compasserrors.Issue
	add := func(id, hint, format string, args ...any) {
		issues = append(issues, compasserrors.Issue{ID: id, Message: fmt.Sprintf(format, args...), Hint: hint})
	}

	if len(cfg.Contexts) == 0 {
		add("empty-contexts", "declare at least the default context", "registry declares no contexts")
		return issues
	}

	for i, id := range cfg.AlwaysApply {
		if id == "" {
			add("empty-directive-id", "", "always_apply[%d] is blank", i)
		}
	}

	seenContexts := make(map[string]int, len(cfg.Contexts))
	markerOwner := make(map[string]string)
	for i, ctx := range cfg.Contexts {
		if ctx.Name == "" {
			add("context-name", "", "contexts[%d] has no name", i)
			continue
		}
		if prev, dup := seenContexts[ctx.Name]; dup {
			add("duplicate-context", "context names must be unique", "context %s declared at contexts[%d] and contexts[%d]", ctx.Name, prev, i)
			continue
		}
		seenContexts[ctx.Name] = i

		for _, marker := range ctx.Markers {
			if marker == "" {
				add("empty-marker", "", "context %s has a blank marker", ctx.Name)
				continue
			}
			owner, taken := markerOwner[marker]
			switch {
			case taken && owner == ctx.Name:
				add("repeated-marker", "list each marker once", "context %s lists marker %q more than once", ctx.Name, marker)
				continue
			case taken:
				add("duplicate-marker", "each marker may select only one context", "marker %q claimed by %s and %s", marker, owner, ctx.Name)
				continue
			}
			markerOwner[marker] = ctx.Name
		}
		for j, p := range ctx.Patterns {
			if p.Match == "" {
				add("empty-pattern", "", "context %s patterns[%d] has no match text", ctx.Name, j)
			}
			if p.Weight <= 0 {
				add("pattern-weight", "weights must be positive integers", "context %s pattern %q has weight %d", ctx.Name, p.Match, p.Weight)
			}
		}
		for j, id := range ctx.Directives {
			if id == "" {
				add("empty-directive-id", "", "context %s directives[%d] is blank", ctx.Name, j)
			}
		}
	}

	if cfg.DefaultContext == "" {
		add("default-context", "set default_context to one of the declared contexts", "no default context declared")
	} else if _, ok := seenContexts[cfg.DefaultContext]; !ok {
		add("default-context", "set default_context to one of the declared contexts", "default context %s is not declared", cfg.DefaultContext)
	}

	for _, ctx := range cfg.Contexts {
		if ctx.Name == "" || ctx.Name == cfg.DefaultContext {
			continue
		}
		if len(ctx.Markers) == 0 && len(ctx.Patterns) == 0 && !ctx.AlwaysApply {
			add("unreachable-context", "add a marker or a pattern", "context %s can never be selected", ctx.Name)
		}
	}
	return issues
}
