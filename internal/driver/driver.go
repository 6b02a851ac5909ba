// Package driver defines the boundary between the orchestration layer and
// whatever actually talks to the target site. The orchestrator only ever
// sees this interface; concrete drivers register themselves by name.
package driver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"forumpilot/internal/session"
)

// Credentials is everything a driver may need for a fresh login.
type Credentials struct {
	BaseURL            string
	Username           string
	Password           string
	SecurityQuestionID string
	SecurityAnswer     string
}

// Item is one candidate the driver surfaced from a source. BodyExcerpt is
// best-effort and may be empty.
type Item struct {
	ID          string
	Title       string
	BodyExcerpt string
	URL         string
}

// Driver performs the site-specific work. Implementations must tolerate
// Release being called more than once, and after any failure.
type Driver interface {
	// Authenticate performs a fresh login and returns a session artifact
	// the cache can persist. Unrecoverable credential failures must be
	// reported as *AuthError with Fatal set.
	Authenticate(ctx context.Context, creds Credentials) (*session.Artifact, error)

	// ValidateSession checks whether a cached artifact is still usable.
	ValidateSession(ctx context.Context, art *session.Artifact) bool

	// ListCandidateItems returns items from the given source, newest first.
	ListCandidateItems(ctx context.Context, source string) ([]Item, error)

	// SubmitReply posts text under the item.
	SubmitReply(ctx context.Context, item Item, text string) error

	// PerformCheckin performs the daily check-in action.
	PerformCheckin(ctx context.Context) error

	// Release frees the driver's underlying resources. Idempotent.
	Release()
}

// Factory builds a driver from its raw settings map.
type Factory func(settings map[string]string) (Driver, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a driver constructor available under name. Last
// registration wins, which lets tests shadow the built-ins.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(strings.TrimSpace(name))] = f
}

// New constructs the named driver.
func New(name string, settings map[string]string) (Driver, error) {
	registryMu.RLock()
	f, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown driver %q (registered: %s)", name, strings.Join(Names(), ", "))
	}
	return f(settings)
}

// Names lists the registered driver names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
