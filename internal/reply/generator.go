// Package reply produces the text posted under an item. An AI-backed
// generator is used when configured; plain templates are both the default
// and the fallback when the AI path fails.
package reply

import (
	"context"
	"errors"
	"math/rand"
	"strings"
)

// Generator produces reply text for an item.
type Generator interface {
	Generate(ctx context.Context, title, excerpt string) (string, error)
}

// TemplateGenerator picks uniformly from a fixed template list.
type TemplateGenerator struct {
	Templates []string

	// Rand is overridable for deterministic tests; nil uses the shared source.
	Rand *rand.Rand
}

func NewTemplateGenerator(templates []string) *TemplateGenerator {
	out := make([]string, 0, len(templates))
	for _, t := range templates {
		if strings.TrimSpace(t) != "" {
			out = append(out, t)
		}
	}
	return &TemplateGenerator{Templates: out}
}

func (g *TemplateGenerator) Generate(ctx context.Context, title, excerpt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(g.Templates) == 0 {
		return "", errors.New("no reply templates configured")
	}
	var idx int
	if g.Rand != nil {
		idx = g.Rand.Intn(len(g.Templates))
	} else {
		idx = rand.Intn(len(g.Templates))
	}
	return g.Templates[idx], nil
}

// WithFallback wraps primary so that any failure falls through to fallback.
// The run never aborts because reply generation failed.
type WithFallback struct {
	Primary  Generator
	Fallback Generator
	Logf     func(format string, args ...any)
}

func (g *WithFallback) Generate(ctx context.Context, title, excerpt string) (string, error) {
	if g.Primary != nil {
		text, err := g.Primary.Generate(ctx, title, excerpt)
		if err == nil {
			return text, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		if g.Logf != nil {
			g.Logf("reply: primary generator failed, using fallback: %v", err)
		}
	}
	if g.Fallback == nil {
		return "", errors.New("no fallback generator")
	}
	return g.Fallback.Generate(ctx, title, excerpt)
}

// ShouldSkip applies the title filters: any keyword substring or any prefix
// match excludes the item. Matching is case-insensitive.
func ShouldSkip(title string, keywords, prefixes []string) bool {
	t := strings.ToLower(strings.TrimSpace(title))
	if t == "" {
		return false
	}
	for _, kw := range keywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k != "" && strings.Contains(t, k) {
			return true
		}
	}
	for _, pfx := range prefixes {
		p := strings.ToLower(strings.TrimSpace(pfx))
		if p != "" && strings.HasPrefix(t, p) {
			return true
		}
	}
	return false
}
