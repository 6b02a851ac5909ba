package runstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrDuplicateItem reports that MarkItemActed was called for an item already
// in today's dedup ledger. Callers are expected to filter with HasActed
// first, so this is an expected outcome, not a failure.
var ErrDuplicateItem = errors.New("item already acted upon today")

// PersistenceError wraps storage I/O failures so callers can degrade to
// "today state unknown" instead of crashing the run.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("run state %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Manager owns the durable daily-state file. Single-writer discipline is
// enforced by the task runner; the file lock only guards against a second
// process instance.
type Manager struct {
	Path string

	// Now is overridable for tests; zero value means time.Now.
	Now func() time.Time
}

func NewManager(path string) *Manager {
	return &Manager{Path: strings.TrimSpace(path)}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Manager) today() string {
	return m.now().Format("2006-01-02")
}

// GetToday returns the current day's state, performing the day rollover
// first when the stored date is stale. Rollover is idempotent: once the
// stored date matches today it is a no-op.
func (m *Manager) GetToday() (DailyState, error) {
	var out DailyState
	err := m.update(func(st *Store) bool {
		out = st.Today
		return false
	})
	if err != nil {
		return DailyState{}, err
	}
	return out, nil
}

// HasActed reports membership in today's dedup ledger.
func (m *Manager) HasActed(itemID string) (bool, error) {
	st, err := m.GetToday()
	if err != nil {
		return false, err
	}
	return st.HasActed(strings.TrimSpace(itemID)), nil
}

// MarkItemActed inserts the item into today's ledger and increments the
// reply count atomically. Returns ErrDuplicateItem without mutating when the
// id is already present.
func (m *Manager) MarkItemActed(itemID string, meta ReplyMeta) error {
	id := strings.TrimSpace(itemID)
	if id == "" {
		return errors.New("item id is required")
	}
	var dup bool
	err := m.update(func(st *Store) bool {
		if st.Today.HasActed(id) {
			dup = true
			return false
		}
		st.Today.ActedItemIDs = append(st.Today.ActedItemIDs, id)
		st.Today.Replies = append(st.Today.Replies, ReplyRecord{
			Time:    m.now(),
			ItemID:  id,
			Title:   strings.TrimSpace(meta.Title),
			URL:     strings.TrimSpace(meta.URL),
			Content: meta.Content,
		})
		st.Today.ReplyCount = len(st.Today.ActedItemIDs)
		return true
	})
	if err != nil {
		return err
	}
	if dup {
		return ErrDuplicateItem
	}
	return nil
}

// MarkCheckinSuccess sets checkin_done and stamps checkin_time exactly once;
// calling it again on the same day is a no-op.
func (m *Manager) MarkCheckinSuccess() error {
	return m.update(func(st *Store) bool {
		if st.Today.CheckinDone {
			return false
		}
		now := m.now()
		st.Today.CheckinDone = true
		st.Today.CheckinTime = &now
		return true
	})
}

// GetHistory returns up to limit entries, most recent first.
func (m *Manager) GetHistory(limit int) ([]HistoryEntry, error) {
	var out []HistoryEntry
	err := m.update(func(st *Store) bool {
		n := len(st.History)
		if limit > 0 && limit < n {
			n = limit
		}
		out = append([]HistoryEntry(nil), st.History[:n]...)
		return false
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// update loads the store, performs rollover, applies fn and persists when
// either the rollover or fn mutated the document.
func (m *Manager) update(fn func(st *Store) bool) error {
	path := strings.TrimSpace(m.Path)
	if path == "" {
		return &PersistenceError{Op: "open", Err: errors.New("state path is empty")}
	}
	lockPath := path + ".lock"
	return withFileLock(lockPath, 5*time.Second, func() error {
		st, err := m.load(path)
		if err != nil {
			return err
		}
		mutated := m.rollover(&st)
		if fn(&st) {
			mutated = true
		}
		if !mutated {
			return nil
		}
		st.Version = StoreVersion
		if err := writeJSONAtomic(path, st); err != nil {
			return &PersistenceError{Op: "save", Err: err}
		}
		return nil
	})
}

// rollover snapshots a stale day into history and resets today. Empty days
// (no replies, no check-in) are not worth a history entry.
func (m *Manager) rollover(st *Store) bool {
	today := m.today()
	if st.Today.Date == today {
		return false
	}
	if st.Today.Date != "" && (st.Today.ReplyCount > 0 || st.Today.CheckinDone) {
		entry := HistoryEntry{
			Date:        st.Today.Date,
			ReplyCount:  st.Today.ReplyCount,
			CheckinDone: st.Today.CheckinDone,
			CheckinTime: st.Today.CheckinTime,
			ItemCount:   len(st.Today.ActedItemIDs),
		}
		st.History = append([]HistoryEntry{entry}, st.History...)
		if len(st.History) > HistoryLimit {
			st.History = st.History[:HistoryLimit]
		}
	}
	st.Today = DailyState{Date: today}
	return true
}

// load treats a missing file as a fresh store and a corrupt file as a fresh
// store too (the original behavior: a garbled stats file must never block
// further progress). Real I/O errors surface as PersistenceError.
func (m *Manager) load(path string) (Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Store{Version: StoreVersion, Today: DailyState{Date: m.today()}}, nil
		}
		return Store{}, &PersistenceError{Op: "load", Err: err}
	}
	var st Store
	if err := json.Unmarshal(data, &st); err != nil {
		return Store{Version: StoreVersion, Today: DailyState{Date: m.today()}}, nil
	}
	if st.Version <= 0 {
		st.Version = StoreVersion
	}
	if st.Today.Date == "" {
		st.Today.Date = m.today()
	}
	// Repair the count if an older writer left it out of sync.
	if st.Today.ReplyCount != len(st.Today.ActedItemIDs) {
		st.Today.ReplyCount = len(st.Today.ActedItemIDs)
	}
	return st, nil
}

func writeJSONAtomic(path string, payload any) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp-%d", path, time.Now().UTC().UnixNano())
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func withFileLock(lockPath string, timeout time.Duration, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return err
	}
	start := time.Now().UTC()
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_ = f.Close()
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return err
		}
		if timeout > 0 && time.Since(start) > timeout {
			return fmt.Errorf("acquire lock timeout: %s", lockPath)
		}
		time.Sleep(20 * time.Millisecond)
	}
	defer os.Remove(lockPath)
	return fn()
}
