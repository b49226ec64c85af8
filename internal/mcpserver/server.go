// Package mcpserver exposes directive selection to agents over the Model
// Context Protocol.
package mcpserver

import (
	"context"
	"os"

	"compass/internal/cache"
	"compass/internal/classifier"
	"compass/internal/registry"
	"compass/internal/selection"
	"compass/internal/shared/logging"

	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"
)

// Name is the MCP server name reported to clients.
const Name = "compass"

const instructions = `compass picks the operating directives that apply to an instruction.
Call select_directives with the user's instruction before acting on it and follow the returned directives.
Prefix an instruction with a marker such as @code, @test, @debug, @docs, or @review to force a context.`

// Selector produces selections.
type Selector interface {
	Select(ctx context.Context, text string) (*selection.Selection, error)
	Classify(text string) classifier.Result
}

// HistoryReader exposes the selection history.
type HistoryReader interface {
	History() []selection.Summary
	Stats() selection.HistoryStats
}

// CacheInspector exposes cache state without content.
type CacheInspector interface {
	Stats() cache.Stats
	Entries() []cache.EntryInfo
}

// Deps are the components the server reads from.
type Deps struct {
	Selector Selector
	History  HistoryReader
	Registry *registry.Registry
	Cache    CacheInspector
	Logger   logging.Logger
	Tracer   trace.Tracer // one span per tool call; nil disables
}

// New builds an MCP server with every tool and resource registered.
func New(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		Name,
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	logger := logging.OrNop(deps.Logger)

	selectTool := NewSelectTool(deps.Selector, logger, WithToolTracer(deps.Tracer))
	s.AddTool(selectTool.Definition(), selectTool.Handle)

	classifyTool := NewClassifyTool(deps.Selector, WithToolTracer(deps.Tracer))
	s.AddTool(classifyTool.Definition(), classifyTool.Handle)

	resources := NewResourceHandler(deps.History, deps.Registry, deps.Cache)
	s.AddResource(resources.HistoryResource(), resources.HandleHistory)
	s.AddResource(resources.RegistryResource(), resources.HandleRegistry)
	if deps.Cache != nil {
		s.AddResource(resources.CacheResource(), resources.HandleCache)
	}
	return s
}

// Serve runs the server on stdin/stdout until ctx is done or input ends.
func Serve(ctx context.Context, s *server.MCPServer) error {
	return server.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout)
}
