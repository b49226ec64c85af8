// Package classifier maps free text onto one context of the registry's closed
// set. It tries explicit markers first, weighted patterns second, and falls
// back to the registry default.
package classifier

import (
	"strings"

	"compass/internal/registry"
)

// Method records which phase produced a Result.
type Method string

const (
	MethodExplicitMarker  Method = "explicit_marker"
	MethodPatternScore    Method = "pattern_score"
	MethodDefaultFallback Method = "default_fallback"
)

func (m Method) String() string { return string(m) }

// Result is the outcome of one classification. Every Classify call builds
// fresh slices, so a Result shares no state with the Classifier or with other
// Results.
type Result struct {
	Context registry.Context
	Method  Method
	// Matched holds the winning marker, or the winning context's matched
	// patterns in configuration order.
	Matched []string
	// Scores holds every nonzero pattern score in registry order. Nil when a
	// marker decided or nothing scored.
	Scores []ContextScore
}

// ContextScore is one context's summed pattern weight.
type ContextScore struct {
	Context registry.Context `json:"context"`
	Score   int              `json:"score"`
}

// Score returns the pattern score of ctx, zero when it did not score.
func (r Result) Score(ctx registry.Context) int {
	for _, s := range r.Scores {
		if s.Context == ctx {
			return s.Score
		}
	}
	return 0
}

// Table is the registry view the classifier reads.
type Table interface {
	Contexts() []registry.Context
	Default() registry.Context
	Rule(registry.Context) (registry.ContextRule, bool)
	Markers() []registry.Marker
}

type scoredContext struct {
	context  registry.Context
	patterns []registry.Pattern
}

// Classifier is immutable after New and safe for concurrent use.
type Classifier struct {
	markers        []registry.Marker
	scored         []scoredContext
	defaultContext registry.Context
}

// New snapshots the markers and patterns of table.
func New(table Table) *Classifier {
	c := &Classifier{defaultContext: table.Default()}
	for _, m := range table.Markers() {
		token := strings.ToLower(m.Token)
		if token == "" {
			continue
		}
		c.markers = append(c.markers, registry.Marker{Token: token, Context: m.Context})
	}
	for _, ctx := range table.Contexts() {
		rule, ok := table.Rule(ctx)
		if !ok || len(rule.Patterns) == 0 {
			continue
		}
		patterns := make([]registry.Pattern, 0, len(rule.Patterns))
		for _, p := range rule.Patterns {
			match := strings.ToLower(p.Match)
			if match == "" || p.Weight <= 0 {
				continue
			}
			patterns = append(patterns, registry.Pattern{Match: match, Weight: p.Weight})
		}
		c.scored = append(c.scored, scoredContext{context: ctx, patterns: patterns})
	}
	return c
}

// Classify never fails: every input maps to a context in the closed set.
func (c *Classifier) Classify(text string) Result {
	if strings.TrimSpace(text) == "" {
		return c.fallback()
	}
	lower := strings.ToLower(text)

	if res, ok := c.byMarker(lower); ok {
		return res
	}
	return c.byPatterns(lower)
}

// byMarker picks the leftmost marker occurrence. Markers are substrings, so a
// marker inside a longer word still counts. At equal positions the longer
// marker wins.
func (c *Classifier) byMarker(lower string) (Result, bool) {
	best := -1
	var winner registry.Marker
	for _, m := range c.markers {
		idx := strings.Index(lower, m.Token)
		if idx < 0 {
			continue
		}
		if best < 0 || idx < best || (idx == best && len(m.Token) > len(winner.Token)) {
			best = idx
			winner = m
		}
	}
	if best < 0 {
		return Result{}, false
	}
	return Result{
		Context: winner.Context,
		Method:  MethodExplicitMarker,
		Matched: []string{winner.Token},
	}, true
}

// byPatterns sums pattern weights per context. Ties on the top score go to the
// context declared first in the registry.
func (c *Classifier) byPatterns(lower string) Result {
	var (
		scores    []ContextScore
		bestScore int
		best      registry.Context
		matched   []string
	)
	for _, sc := range c.scored {
		score := 0
		var hits []string
		for _, p := range sc.patterns {
			if strings.Contains(lower, p.Match) {
				score += p.Weight
				hits = append(hits, p.Match)
			}
		}
		if score == 0 {
			continue
		}
		scores = append(scores, ContextScore{Context: sc.context, Score: score})
		if score > bestScore {
			bestScore = score
			best = sc.context
			matched = hits
		}
	}
	if bestScore == 0 {
		return c.fallback()
	}
	return Result{
		Context: best,
		Method:  MethodPatternScore,
		Matched: matched,
		Scores:  scores,
	}
}

func (c *Classifier) fallback() Result {
	return Result{Context: c.defaultContext, Method: MethodDefaultFallback}
}
