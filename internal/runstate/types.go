package runstate

import "time"

const StoreVersion = 1

// HistoryLimit bounds the rolling history; oldest entries are evicted first.
const HistoryLimit = 30

type Store struct {
	Version int            `json:"version"`
	Today   DailyState     `json:"today"`
	History []HistoryEntry `json:"history,omitempty"`
}

// DailyState is the mutable record for the current calendar day. Invariant:
// ReplyCount == len(ActedItemIDs), and CheckinTime is set iff CheckinDone.
type DailyState struct {
	Date         string         `json:"date"` // 2006-01-02, local calendar day
	ReplyCount   int            `json:"reply_count"`
	CheckinDone  bool           `json:"checkin_done"`
	CheckinTime  *time.Time     `json:"checkin_time,omitempty"`
	ActedItemIDs []string       `json:"acted_item_ids,omitempty"`
	Replies      []ReplyRecord  `json:"replies,omitempty"`
}

// ReplyRecord keeps what was posted where, for the admin stats view.
type ReplyRecord struct {
	Time    time.Time `json:"time"`
	ItemID  string    `json:"item_id"`
	Title   string    `json:"title,omitempty"`
	URL     string    `json:"url,omitempty"`
	Content string    `json:"content,omitempty"`
}

// ReplyMeta is the caller-supplied metadata recorded with MarkItemActed.
type ReplyMeta struct {
	Title   string
	URL     string
	Content string
}

// HistoryEntry is a frozen snapshot of a past day, appended at rollover.
type HistoryEntry struct {
	Date        string     `json:"date"`
	ReplyCount  int        `json:"reply_count"`
	CheckinDone bool       `json:"checkin_done"`
	CheckinTime *time.Time `json:"checkin_time,omitempty"`
	ItemCount   int        `json:"item_count"`
}

func (d DailyState) HasActed(itemID string) bool {
	for _, id := range d.ActedItemIDs {
		if id == itemID {
			return true
		}
	}
	return false
}
