package driver

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"forumpilot/internal/session"
)

func init() {
	Register("dryrun", func(settings map[string]string) (Driver, error) {
		d := &dryRunDriver{items: 5}
		if raw, ok := settings["items"]; ok {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("dryrun: invalid items %q", raw)
			}
			d.items = n
		}
		return d, nil
	})
}

// dryRunDriver exercises the full orchestration path without touching any
// external system. Every action succeeds and nothing leaves the process.
type dryRunDriver struct {
	mu       sync.Mutex
	items    int
	released bool
}

func (d *dryRunDriver) Authenticate(ctx context.Context, creds Credentials) (*session.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	exp := time.Now().Add(24 * time.Hour)
	return &session.Artifact{
		Tokens:    map[string]string{"dryrun": "session-" + creds.Username},
		SavedAt:   time.Now(),
		ExpiresAt: &exp,
	}, nil
}

func (d *dryRunDriver) ValidateSession(ctx context.Context, art *session.Artifact) bool {
	return art != nil && !art.Expired(time.Now()) && art.Tokens["dryrun"] != ""
}

func (d *dryRunDriver) ListCandidateItems(ctx context.Context, source string) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	n := d.items
	d.mu.Unlock()
	day := time.Now().Format("20060102")
	out := make([]Item, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Item{
			ID:          fmt.Sprintf("dry-%s-%s-%d", source, day, i),
			Title:       fmt.Sprintf("Sample item %d in %s", i, source),
			BodyExcerpt: "Placeholder body for a dry-run item.",
			URL:         fmt.Sprintf("dryrun://%s/%d", source, i),
		})
	}
	return out, nil
}

func (d *dryRunDriver) SubmitReply(ctx context.Context, item Item, text string) error {
	return ctx.Err()
}

func (d *dryRunDriver) PerformCheckin(ctx context.Context) error {
	return ctx.Err()
}

func (d *dryRunDriver) Release() {
	d.mu.Lock()
	d.released = true
	d.mu.Unlock()
}
