package storage

import "time"

// Feed is the persistent per-mailbox collection of entries plus metadata.
// The reference doubles as the feed's receiving address local part and its
// public URL segment.
type Feed struct {
	Reference string    `json:"reference"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// Entries is ordered newest first.
	Entries []Entry `json:"entries"`
}

// Entry is one rendered unit of content derived from a single delivered email.
type Entry struct {
	Identifier  string    `json:"identifier"`
	Author      string    `json:"author"`
	Title       string    `json:"title"`
	ContentHTML string    `json:"content_html"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Clone returns a deep copy of the feed. The store hands out clones so callers
// can never mutate owned state.
func (f *Feed) Clone() *Feed {
	clone := *f
	clone.Entries = make([]Entry, len(f.Entries))
	copy(clone.Entries, f.Entries)
	return &clone
}

// FindEntry returns the entry with the given identifier, if present.
func (f *Feed) FindEntry(identifier string) (*Entry, bool) {
	for i := range f.Entries {
		if f.Entries[i].Identifier == identifier {
			return &f.Entries[i], true
		}
	}
	return nil, false
}
