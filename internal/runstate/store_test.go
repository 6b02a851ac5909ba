package runstate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestManager(t *testing.T, now time.Time) (*Manager, *time.Time) {
	t.Helper()
	clock := now
	m := NewManager(filepath.Join(t.TempDir(), "state.json"))
	m.Now = func() time.Time { return clock }
	return m, &clock
}

func TestGetTodayCreatesFreshState(t *testing.T) {
	m, _ := newTestManager(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.Local))
	st, err := m.GetToday()
	if err != nil {
		t.Fatalf("GetToday: %v", err)
	}
	if st.Date != "2026-03-10" {
		t.Fatalf("unexpected date %q", st.Date)
	}
	if st.ReplyCount != 0 || st.CheckinDone || len(st.ActedItemIDs) != 0 {
		t.Fatalf("fresh state not zero: %+v", st)
	}
}

func TestMarkItemActedDedup(t *testing.T) {
	m, _ := newTestManager(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.Local))

	if err := m.MarkItemActed("t-1", ReplyMeta{Title: "first"}); err != nil {
		t.Fatalf("first mark: %v", err)
	}
	err := m.MarkItemActed("t-1", ReplyMeta{Title: "again"})
	if !errors.Is(err, ErrDuplicateItem) {
		t.Fatalf("want ErrDuplicateItem, got %v", err)
	}

	st, err := m.GetToday()
	if err != nil {
		t.Fatalf("GetToday: %v", err)
	}
	if st.ReplyCount != 1 || len(st.ActedItemIDs) != 1 || len(st.Replies) != 1 {
		t.Fatalf("duplicate mutated state: %+v", st)
	}

	acted, err := m.HasActed("t-1")
	if err != nil || !acted {
		t.Fatalf("HasActed(t-1) = %v, %v", acted, err)
	}
	acted, err = m.HasActed("t-2")
	if err != nil || acted {
		t.Fatalf("HasActed(t-2) = %v, %v", acted, err)
	}
}

func TestMarkCheckinSuccessIdempotent(t *testing.T) {
	m, clock := newTestManager(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.Local))

	if err := m.MarkCheckinSuccess(); err != nil {
		t.Fatalf("first checkin: %v", err)
	}
	first, err := m.GetToday()
	if err != nil {
		t.Fatalf("GetToday: %v", err)
	}
	if !first.CheckinDone || first.CheckinTime == nil {
		t.Fatalf("checkin not recorded: %+v", first)
	}

	*clock = clock.Add(2 * time.Hour)
	if err := m.MarkCheckinSuccess(); err != nil {
		t.Fatalf("second checkin: %v", err)
	}
	second, err := m.GetToday()
	if err != nil {
		t.Fatalf("GetToday: %v", err)
	}
	if !second.CheckinTime.Equal(*first.CheckinTime) {
		t.Fatalf("checkin time changed on repeat call: %v -> %v", first.CheckinTime, second.CheckinTime)
	}
}

func TestRolloverAppendsHistoryOnce(t *testing.T) {
	m, clock := newTestManager(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.Local))

	if err := m.MarkItemActed("t-1", ReplyMeta{}); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := m.MarkCheckinSuccess(); err != nil {
		t.Fatalf("checkin: %v", err)
	}

	*clock = time.Date(2026, 3, 11, 0, 5, 0, 0, time.Local)

	// Multiple reads on the new day must produce exactly one history entry.
	for i := 0; i < 3; i++ {
		st, err := m.GetToday()
		if err != nil {
			t.Fatalf("GetToday after rollover: %v", err)
		}
		if st.Date != "2026-03-11" {
			t.Fatalf("rollover did not reset date: %q", st.Date)
		}
		if st.ReplyCount != 0 || st.CheckinDone {
			t.Fatalf("rollover did not reset counters: %+v", st)
		}
	}

	hist, err := m.GetHistory(0)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("want 1 history entry, got %d", len(hist))
	}
	if hist[0].Date != "2026-03-10" || hist[0].ReplyCount != 1 || !hist[0].CheckinDone || hist[0].ItemCount != 1 {
		t.Fatalf("unexpected history entry: %+v", hist[0])
	}
}

func TestRolloverSkipsEmptyDay(t *testing.T) {
	m, clock := newTestManager(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.Local))

	if _, err := m.GetToday(); err != nil {
		t.Fatalf("GetToday: %v", err)
	}

	*clock = time.Date(2026, 3, 11, 0, 5, 0, 0, time.Local)
	if _, err := m.GetToday(); err != nil {
		t.Fatalf("GetToday after rollover: %v", err)
	}

	hist, err := m.GetHistory(0)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(hist) != 0 {
		t.Fatalf("empty day should not enter history, got %+v", hist)
	}
}

func TestHistoryBounded(t *testing.T) {
	m, clock := newTestManager(t, time.Date(2026, 1, 1, 8, 0, 0, 0, time.Local))

	for day := 0; day < HistoryLimit+5; day++ {
		*clock = time.Date(2026, 1, 1, 8, 0, 0, 0, time.Local).AddDate(0, 0, day)
		if err := m.MarkItemActed(fmt.Sprintf("t-%d", day), ReplyMeta{}); err != nil {
			t.Fatalf("day %d mark: %v", day, err)
		}
	}
	*clock = clock.AddDate(0, 0, 1)
	if _, err := m.GetToday(); err != nil {
		t.Fatalf("final rollover: %v", err)
	}

	hist, err := m.GetHistory(0)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(hist) != HistoryLimit {
		t.Fatalf("history not bounded: %d entries", len(hist))
	}
	// Most recent first.
	if hist[0].Date <= hist[1].Date {
		t.Fatalf("history not newest-first: %s then %s", hist[0].Date, hist[1].Date)
	}
}

func TestGetHistoryLimit(t *testing.T) {
	m, clock := newTestManager(t, time.Date(2026, 1, 1, 8, 0, 0, 0, time.Local))
	for day := 0; day < 5; day++ {
		*clock = time.Date(2026, 1, 1, 8, 0, 0, 0, time.Local).AddDate(0, 0, day)
		if err := m.MarkItemActed(fmt.Sprintf("t-%d", day), ReplyMeta{}); err != nil {
			t.Fatalf("day %d mark: %v", day, err)
		}
	}
	*clock = clock.AddDate(0, 0, 1)
	hist, err := m.GetHistory(2)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("want 2 entries, got %d", len(hist))
	}
}

func TestCorruptFileDegradesToFreshStore(t *testing.T) {
	m, _ := newTestManager(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.Local))
	if err := os.MkdirAll(filepath.Dir(m.Path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(m.Path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}
	st, err := m.GetToday()
	if err != nil {
		t.Fatalf("GetToday on corrupt file: %v", err)
	}
	if st.Date != "2026-03-10" || st.ReplyCount != 0 {
		t.Fatalf("unexpected state from corrupt file: %+v", st)
	}
}

func TestStatePersistsAcrossManagers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.Local)

	a := NewManager(path)
	a.Now = func() time.Time { return now }
	if err := a.MarkItemActed("t-1", ReplyMeta{Title: "hello"}); err != nil {
		t.Fatalf("mark: %v", err)
	}

	b := NewManager(path)
	b.Now = func() time.Time { return now }
	acted, err := b.HasActed("t-1")
	if err != nil || !acted {
		t.Fatalf("second manager HasActed = %v, %v", acted, err)
	}
}
