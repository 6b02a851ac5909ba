package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// excerptLimit caps how much item body is sent to the model; anything past
// this adds cost without improving the reply.
const excerptLimit = 500

const defaultSystemPrompt = "You write short, friendly forum replies. " +
	"Answer with one or two sentences of plain text, no markdown, no quotes around the reply."

// ChatCompleter is the slice of the LLM client the generator needs.
type ChatCompleter interface {
	Complete(ctx context.Context, system, user string, temperature float32) (string, error)
}

// LLMGenerator asks a chat model for a reply tailored to the item.
type LLMGenerator struct {
	Client       ChatCompleter
	SystemPrompt string
	Temperature  float32
}

func (g *LLMGenerator) Generate(ctx context.Context, title, excerpt string) (string, error) {
	if g.Client == nil {
		return "", errors.New("llm client is not configured")
	}
	system := strings.TrimSpace(g.SystemPrompt)
	if system == "" {
		system = defaultSystemPrompt
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Write a short reply to this forum post.\nTitle: %s\n", strings.TrimSpace(title))
	if body := truncate(strings.TrimSpace(excerpt), excerptLimit); body != "" {
		fmt.Fprintf(&b, "Post excerpt:\n%s\n", body)
	}

	text, err := g.Client.Complete(ctx, system, b.String(), g.Temperature)
	if err != nil {
		return "", err
	}
	text = strings.Trim(strings.TrimSpace(text), `"`)
	if text == "" {
		return "", errors.New("model returned an empty reply")
	}
	return text, nil
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
