package llm

import (
	"regexp"
	"strings"
)

var rateLimitHintRe = regexp.MustCompile(`(?i)rate limit|too many requests|requests per (?:minute|hour|day)|quota|throttl|429\b`)

// IsLikelyRateLimitError classifies provider errors by message text, since
// the OpenAI-compatible path has no structured error body to rely on.
// Callers use it to decide between waiting and falling back to templates.
func IsLikelyRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	return rateLimitHintRe.MatchString(strings.TrimSpace(err.Error()))
}
