// Package session persists the authenticated-session artifact between runs
// so a warm run can skip the full login flow.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const ArtifactVersion = 1

// Artifact is the opaque token bundle a driver needs to resume a session.
// The orchestration layer never interprets Tokens; only the driver does.
type Artifact struct {
	Version   int               `json:"version"`
	Tokens    map[string]string `json:"tokens"`
	SavedAt   time.Time         `json:"saved_at"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

// Expired reports whether the artifact is past its expiry. Artifacts without
// an expiry never expire here; the driver still validates them live.
func (a *Artifact) Expired(now time.Time) bool {
	if a == nil {
		return true
	}
	return a.ExpiresAt != nil && !now.Before(*a.ExpiresAt)
}

// Cache reads and writes the artifact file as a whole document.
type Cache struct {
	Path string

	// Logf reports discarded artifacts; nil stays silent.
	Logf func(format string, args ...any)
}

func NewCache(path string) *Cache {
	return &Cache{Path: strings.TrimSpace(path)}
}

func (c *Cache) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
	}
}

// Load returns the cached artifact, or nil when there is none. A missing,
// corrupt or version-mismatched file all mean "no usable session" rather
// than an error: the discard is logged and the caller falls through to
// fresh authentication.
func (c *Cache) Load() (*Artifact, error) {
	path := strings.TrimSpace(c.Path)
	if path == "" {
		return nil, errors.New("session path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		c.logf("session: discarding corrupt artifact %s: %v", path, err)
		return nil, nil
	}
	if art.Version != ArtifactVersion || len(art.Tokens) == 0 {
		c.logf("session: discarding unusable artifact %s (version=%d, tokens=%d)", path, art.Version, len(art.Tokens))
		return nil, nil
	}
	return &art, nil
}

// Save overwrites the cache with the given artifact atomically.
func (c *Cache) Save(art *Artifact) error {
	path := strings.TrimSpace(c.Path)
	if path == "" {
		return errors.New("session path is empty")
	}
	if art == nil {
		return errors.New("artifact is required")
	}
	stored := *art
	stored.Version = ArtifactVersion
	if stored.SavedAt.IsZero() {
		stored.SavedAt = time.Now()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	tmp := fmt.Sprintf("%s.tmp-%d", path, time.Now().UTC().UnixNano())
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save session: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Invalidate deletes the cached artifact. Deleting an absent file is fine.
func (c *Cache) Invalidate() error {
	path := strings.TrimSpace(c.Path)
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("invalidate session: %w", err)
	}
	return nil
}
