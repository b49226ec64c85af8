package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"compass/internal/classifier"
	compasserrors "compass/internal/errors"
	"compass/internal/observability"
	"compass/internal/registry"
	"compass/internal/selection"
	"compass/internal/shared/logging"

	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	selectToolName   = "select_directives"
	classifyToolName = "classify_instruction"
)

// ToolOption configures a tool handler.
type ToolOption func(*toolTracing)

// WithToolTracer wraps every call of the tool in a span from tracer.
func WithToolTracer(tracer trace.Tracer) ToolOption {
	return func(tt *toolTracing) {
		if tracer != nil {
			tt.tracer = tracer
		}
	}
}

type toolTracing struct {
	tracer trace.Tracer
}

func newToolTracing(opts []ToolOption) toolTracing {
	tt := toolTracing{tracer: noop.NewTracerProvider().Tracer(observability.TracerName)}
	for _, opt := range opts {
		if opt != nil {
			opt(&tt)
		}
	}
	return tt
}

func (tt toolTracing) start(ctx context.Context, tool string) (context.Context, trace.Span) {
	return tt.tracer.Start(ctx, observability.SpanToolCall,
		trace.WithAttributes(attribute.String(observability.AttrToolName, tool)))
}

// SelectTool handles the select_directives MCP tool.
type SelectTool struct {
	selector Selector
	logger   logging.Logger
	tracing  toolTracing
}

// NewSelectTool creates a SelectTool.
func NewSelectTool(selector Selector, logger logging.Logger, opts ...ToolOption) *SelectTool {
	return &SelectTool{selector: selector, logger: logging.OrNop(logger), tracing: newToolTracing(opts)}
}

// Definition returns the MCP tool definition for select_directives.
func (t *SelectTool) Definition() mcp.Tool {
	return mcp.NewTool(selectToolName,
		mcp.WithDescription(
			"Classify an instruction into an operating context and return every directive that applies to it, "+
				"always-apply directives first.",
		),
		mcp.WithString("instruction",
			mcp.Required(),
			mcp.Description("The user's instruction, verbatim"),
		),
		mcp.WithString("format",
			mcp.Description("markdown (default) returns the rendered bundle; json returns ids, content, and timing"),
			mcp.Enum("markdown", "json"),
			mcp.DefaultString("markdown"),
		),
	)
}

type selectionPayload struct {
	selection.Summary
	Content map[string]string `json:"content"`
}

// Handle processes the select_directives tool call.
func (t *SelectTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instruction := req.GetString("instruction", "")
	format := strings.ToLower(strings.TrimSpace(req.GetString("format", "markdown")))

	ctx, span := t.tracing.start(ctx, selectToolName)
	defer span.End()

	sel, err := t.selector.Select(ctx, instruction)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.WithTrace(ctx, t.logger).Warn("select_directives failed: %v", err)
		return mcp.NewToolResultError(describeError(err)), nil
	}

	switch format {
	case "", "markdown":
		return mcp.NewToolResultText(sel.Render()), nil
	case "json":
		data, err := json.MarshalIndent(selectionPayload{Summary: sel.Summary(), Content: sel.ResolvedContent}, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling selection: %w", err)
		}
		return mcp.NewToolResultText(string(data)), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown format %q: use markdown or json", format)), nil
	}
}

func describeError(err error) string {
	kind := compasserrors.GetErrorType(err).String()
	if id, ok := compasserrors.DirectiveID(err); ok {
		return fmt.Sprintf("%s: directive %q: %v", kind, id, err)
	}
	return fmt.Sprintf("%s: %v", kind, err)
}

// ClassifyTool handles the classify_instruction MCP tool.
type ClassifyTool struct {
	selector Selector
	tracing  toolTracing
}

// NewClassifyTool creates a ClassifyTool.
func NewClassifyTool(selector Selector, opts ...ToolOption) *ClassifyTool {
	return &ClassifyTool{selector: selector, tracing: newToolTracing(opts)}
}

// Definition returns the MCP tool definition for classify_instruction.
func (t *ClassifyTool) Definition() mcp.Tool {
	return mcp.NewTool(classifyToolName,
		mcp.WithDescription("Report which operating context an instruction maps to, and why, without loading any directives."),
		mcp.WithString("instruction",
			mcp.Required(),
			mcp.Description("The instruction to classify"),
		),
	)
}

type classification struct {
	Context registry.Context          `json:"context"`
	Method  classifier.Method         `json:"method"`
	Matched []string                  `json:"matched,omitempty"`
	Scores  []classifier.ContextScore `json:"scores,omitempty"`
}

// Handle processes the classify_instruction tool call.
func (t *ClassifyTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, span := t.tracing.start(ctx, classifyToolName)
	defer span.End()

	res := t.selector.Classify(req.GetString("instruction", ""))
	span.SetAttributes(
		attribute.String(observability.AttrContext, res.Context.String()),
		attribute.String(observability.AttrMethod, res.Method.String()),
	)
	data, err := json.MarshalIndent(classification{
		Context: res.Context,
		Method:  res.Method,
		Matched: res.Matched,
		Scores:  res.Scores,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling classification: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
