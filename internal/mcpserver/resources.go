package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"compass/internal/cache"
	"compass/internal/registry"
	"compass/internal/selection"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	HistoryURI  = "compass://selections/history"
	RegistryURI = "compass://registry"
	CacheURI    = "compass://cache"
)

// ResourceHandler serves read-only engine state.
type ResourceHandler struct {
	history  HistoryReader
	registry *registry.Registry
	cache    CacheInspector
}

// NewResourceHandler creates a ResourceHandler.
func NewResourceHandler(history HistoryReader, reg *registry.Registry, c CacheInspector) *ResourceHandler {
	return &ResourceHandler{history: history, registry: reg, cache: c}
}

// HistoryResource returns the MCP resource definition for the selection history.
func (h *ResourceHandler) HistoryResource() mcp.Resource {
	return mcp.NewResource(
		HistoryURI,
		"Recent selections",
		mcp.WithResourceDescription("The most recent selections, oldest first, with timing and directive counts"),
		mcp.WithMIMEType("application/json"),
	)
}

// RegistryResource returns the MCP resource definition for the context table.
func (h *ResourceHandler) RegistryResource() mcp.Resource {
	return mcp.NewResource(
		RegistryURI,
		"Context registry",
		mcp.WithResourceDescription("Contexts, markers, patterns, and resolved directive ids"),
		mcp.WithMIMEType("application/json"),
	)
}

// CacheResource returns the MCP resource definition for cache state.
func (h *ResourceHandler) CacheResource() mcp.Resource {
	return mcp.NewResource(
		CacheURI,
		"Directive cache",
		mcp.WithResourceDescription("Cache counters and resident entries in LRU order"),
		mcp.WithMIMEType("application/json"),
	)
}

type historyDoc struct {
	Stats      selection.HistoryStats `json:"stats"`
	Selections []selection.Summary    `json:"selections"`
}

// HandleHistory returns the history snapshot as JSON.
func (h *ResourceHandler) HandleHistory(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if h.history == nil {
		return errorResource(req.Params.URI, "history unavailable"), nil
	}
	return jsonResource(req.Params.URI, historyDoc{Stats: h.history.Stats(), Selections: h.history.History()})
}

type contextDoc struct {
	Name         registry.Context   `json:"name"`
	Description  string             `json:"description,omitempty"`
	Markers      []string           `json:"markers,omitempty"`
	Patterns     []registry.Pattern `json:"patterns,omitempty"`
	AlwaysApply  bool               `json:"always_apply,omitempty"`
	DirectiveIDs []string           `json:"directive_ids"`
}

type registryDoc struct {
	Source         string           `json:"source"`
	Digest         string           `json:"digest"`
	DefaultContext registry.Context `json:"default_context"`
	AlwaysApply    []string         `json:"always_apply"`
	Contexts       []contextDoc     `json:"contexts"`
}

// HandleRegistry returns the context table as JSON, with each context's ids
// already resolved.
func (h *ResourceHandler) HandleRegistry(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if h.registry == nil {
		return errorResource(req.Params.URI, "registry unavailable"), nil
	}
	doc := registryDoc{
		Source:         h.registry.Source(),
		Digest:         h.registry.Digest(),
		DefaultContext: h.registry.Default(),
		AlwaysApply:    h.registry.AlwaysApply(),
	}
	for _, ctx := range h.registry.Contexts() {
		rule, _ := h.registry.Rule(ctx)
		ids, err := h.registry.Resolve(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", ctx, err)
		}
		doc.Contexts = append(doc.Contexts, contextDoc{
			Name:         ctx,
			Description:  h.registry.Description(ctx),
			Markers:      rule.Markers,
			Patterns:     rule.Patterns,
			AlwaysApply:  rule.AlwaysApply,
			DirectiveIDs: ids,
		})
	}
	return jsonResource(req.Params.URI, doc)
}

type cacheDoc struct {
	Stats   cache.Stats       `json:"stats"`
	Entries []cache.EntryInfo `json:"entries"`
}

// HandleCache returns cache counters and entries as JSON.
func (h *ResourceHandler) HandleCache(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if h.cache == nil {
		return errorResource(req.Params.URI, "cache unavailable"), nil
	}
	return jsonResource(req.Params.URI, cacheDoc{Stats: h.cache.Stats(), Entries: h.cache.Entries()})
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
