// Package selection turns an instruction into a fully resolved directive
// bundle and keeps a bounded history of recent selections.
package selection

import (
	"fmt"
	"strings"
	"time"

	"compass/internal/classifier"
	"compass/internal/registry"
)

// Selection is the per-request result. It is built fresh for every call and
// carries the content of every resolved directive.
type Selection struct {
	ID                 string
	Context            registry.Context
	Method             classifier.Method
	Matched            []string
	DirectiveIDs       []string
	ResolvedContent    map[string]string
	DirectiveCount     int
	ResolutionTime     time.Duration
	CacheBytesResident int64
	ContentBytes       int64
	CreatedAt          time.Time
}

// ResolutionMicros returns the resolution time in whole microseconds.
func (s *Selection) ResolutionMicros() int64 {
	return s.ResolutionTime.Microseconds()
}

// Summary is a Selection without its content, as kept in history.
type Summary struct {
	ID                 string            `json:"id"`
	Context            registry.Context  `json:"context"`
	Method             classifier.Method `json:"method"`
	Matched            []string          `json:"matched,omitempty"`
	DirectiveIDs       []string          `json:"directive_ids"`
	DirectiveCount     int               `json:"directive_count"`
	ResolutionMicros   int64             `json:"resolution_time_us"`
	CacheBytesResident int64             `json:"cache_bytes_resident"`
	ContentBytes       int64             `json:"content_bytes"`
	CreatedAt          time.Time         `json:"created_at"`
}

// Summary drops the content and copies every slice.
func (s *Selection) Summary() Summary {
	return Summary{
		ID:                 s.ID,
		Context:            s.Context,
		Method:             s.Method,
		Matched:            append([]string(nil), s.Matched...),
		DirectiveIDs:       append([]string(nil), s.DirectiveIDs...),
		DirectiveCount:     s.DirectiveCount,
		ResolutionMicros:   s.ResolutionMicros(),
		CacheBytesResident: s.CacheBytesResident,
		ContentBytes:       s.ContentBytes,
		CreatedAt:          s.CreatedAt,
	}
}

// Render concatenates the directives as one Markdown document, in
// DirectiveIDs order, each under its own heading.
func (s *Selection) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "<!-- compass context=%s method=%s directives=%d -->\n", s.Context, s.Method, s.DirectiveCount)
	for _, id := range s.DirectiveIDs {
		b.WriteString("\n## ")
		b.WriteString(id)
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(s.ResolvedContent[id]))
		b.WriteString("\n")
	}
	return b.String()
}
