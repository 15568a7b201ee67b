// Package storage owns the durable representation of feeds. Each feed lives
// in one JSON record under the data directory and is replaced atomically on
// every update (write to a temporary file, fsync, rename), so a crash never
// leaves a torn record. Feeds are guarded by per-reference locks: appends to
// the same feed serialize, appends to different feeds run in parallel.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/letterfeed/letterfeed/consts"
	"github.com/letterfeed/letterfeed/helpers"
	"github.com/letterfeed/letterfeed/logger"
	"github.com/letterfeed/letterfeed/pkg/metrics"
	"github.com/letterfeed/letterfeed/server/idgen"
)

// Store is the feed store. Safe for concurrent use.
type Store struct {
	dataPath string
	budget   int

	mu    sync.RWMutex // guards the feeds map, not feed contents
	feeds map[string]*feedRecord
}

type feedRecord struct {
	mu   sync.RWMutex
	feed *Feed
}

// AppendRequest carries the normalized fields of one delivered message.
type AppendRequest struct {
	Author      string
	Title       string
	ContentHTML string
	ReceivedAt  time.Time
}

// New opens the store rooted at dataPath, creating the directory if needed,
// and loads all persisted feed records.
func New(dataPath string, budget int) (*Store, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("feed size budget must be positive, got %d", budget)
	}
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataPath, err)
	}

	s := &Store{
		dataPath: dataPath,
		budget:   budget,
		feeds:    make(map[string]*feedRecord),
	}
	if err := s.load(); err != nil {
		return nil, err
	}

	metrics.FeedsCurrent.Set(float64(len(s.feeds)))
	return s, nil
}

func (s *Store) load() error {
	dirEntries, err := os.ReadDir(s.dataPath)
	if err != nil {
		return fmt.Errorf("reading data directory %s: %w", s.dataPath, err)
	}

	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".json") {
			// Stray temp files from a crash mid-write are ignored; the
			// rename never happened, so the previous record is intact.
			continue
		}
		path := filepath.Join(s.dataPath, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading feed record %s: %w", path, err)
		}
		var feed Feed
		if err := json.Unmarshal(data, &feed); err != nil {
			logger.Warn("skipping unreadable feed record", "path", path, "error", err)
			continue
		}
		if feed.Reference == "" || feed.Reference+".json" != name {
			logger.Warn("skipping feed record with mismatched reference", "path", path, "reference", feed.Reference)
			continue
		}
		if feed.Entries == nil {
			feed.Entries = []Entry{}
		}
		s.feeds[feed.Reference] = &feedRecord{feed: &feed}
	}

	logger.Info("feed store loaded", "path", s.dataPath, "feeds", len(s.feeds))
	return nil
}

// Create allocates a fresh unique reference, persists an empty feed, and
// returns a snapshot of it.
func (s *Store) Create(title string) (*Feed, error) {
	now := time.Now().UTC()
	feed := &Feed{
		Title:     helpers.SanitizeUTF8(title),
		CreatedAt: now,
		UpdatedAt: now,
		Entries:   []Entry{},
	}

	// Reserve the reference under the map lock so two concurrent creates can
	// never race on the same token. Collisions are astronomically unlikely
	// but cheap to check.
	rec := &feedRecord{feed: feed}
	s.mu.Lock()
	for {
		ref := idgen.New()
		if _, exists := s.feeds[ref]; exists {
			logger.Warn("reference collision on create, regenerating", "reference", ref)
			continue
		}
		feed.Reference = ref
		s.feeds[ref] = rec
		break
	}
	s.mu.Unlock()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if err := s.persist(feed); err != nil {
		s.mu.Lock()
		delete(s.feeds, feed.Reference)
		s.mu.Unlock()
		return nil, err
	}

	metrics.FeedsCreatedTotal.Inc()
	metrics.FeedsCurrent.Inc()
	logger.Info("feed created", "reference", feed.Reference, "title", feed.Title)
	return feed.Clone(), nil
}

// AppendEntry constructs a new entry from req and appends it to the feed
// identified by reference. The updated record is durably persisted before the
// call returns; on persistence failure the feed's prior state is untouched.
// Returns consts.ErrFeedNotFound for unknown references.
func (s *Store) AppendEntry(reference string, req AppendRequest) error {
	s.mu.RLock()
	rec, ok := s.feeds[reference]
	s.mu.RUnlock()
	if !ok {
		return consts.ErrFeedNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	receivedAt := req.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	entry := Entry{
		Identifier:  idgen.New(),
		Author:      helpers.SanitizeUTF8(req.Author),
		Title:       helpers.SanitizeUTF8(req.Title),
		ContentHTML: helpers.SanitizeUTF8(req.ContentHTML),
		ReceivedAt:  receivedAt,
	}

	// Build the next state on a copy so a failed persist leaves the current
	// in-memory state consistent with the file on disk.
	next := rec.feed.Clone()
	next.Entries = insertByReceivedAt(next.Entries, entry)

	var evicted int
	next.Entries, evicted = EnforceBudget(next.Entries, s.budget, entry.Identifier)
	if evicted > 0 {
		metrics.EntriesEvictedTotal.Add(float64(evicted))
		logger.Debug("evicted entries to satisfy size budget", "reference", reference, "evicted", evicted)
	}

	// The feed's updated time follows the entry's received time; when a stale
	// Date header places the entry in the past, the append time is used so
	// updatedAt still advances.
	if entry.ReceivedAt.After(next.UpdatedAt) {
		next.UpdatedAt = entry.ReceivedAt
	} else {
		next.UpdatedAt = time.Now().UTC()
	}

	if err := s.persist(next); err != nil {
		return err
	}
	rec.feed = next

	metrics.EntriesAppendedTotal.Inc()
	logger.Info("entry appended", "reference", reference, "entry", entry.Identifier, "entries", len(next.Entries))
	return nil
}

// insertByReceivedAt inserts entry into a newest-first list, keeping the total
// order by received time. Among equal times the newer insertion renders first.
func insertByReceivedAt(entries []Entry, entry Entry) []Entry {
	idx := len(entries)
	for i := range entries {
		if !entry.ReceivedAt.Before(entries[i].ReceivedAt) {
			idx = i
			break
		}
	}
	entries = append(entries, Entry{})
	copy(entries[idx+1:], entries[idx:])
	entries[idx] = entry
	return entries
}

// Read returns a snapshot of the feed identified by reference.
// Returns consts.ErrFeedNotFound for unknown references.
func (s *Store) Read(reference string) (*Feed, error) {
	s.mu.RLock()
	rec, ok := s.feeds[reference]
	s.mu.RUnlock()
	if !ok {
		return nil, consts.ErrFeedNotFound
	}

	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.feed.Clone(), nil
}

// List returns snapshots of all feeds, in no particular order.
func (s *Store) List() []*Feed {
	s.mu.RLock()
	records := make([]*feedRecord, 0, len(s.feeds))
	for _, rec := range s.feeds {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	feeds := make([]*Feed, 0, len(records))
	for _, rec := range records {
		rec.mu.RLock()
		feeds = append(feeds, rec.feed.Clone())
		rec.mu.RUnlock()
	}
	return feeds
}

// persist atomically replaces the feed's on-disk record.
func (s *Store) persist(feed *Feed) error {
	data, err := json.MarshalIndent(feed, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshaling feed %s: %v", consts.ErrStorePersistFailed, feed.Reference, err)
	}

	tmp, err := os.CreateTemp(s.dataPath, feed.Reference+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp file for feed %s: %v", consts.ErrStorePersistFailed, feed.Reference, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing feed %s: %v", consts.ErrStorePersistFailed, feed.Reference, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: syncing feed %s: %v", consts.ErrStorePersistFailed, feed.Reference, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: closing temp file for feed %s: %v", consts.ErrStorePersistFailed, feed.Reference, err)
	}

	if err := os.Rename(tmpName, s.feedPath(feed.Reference)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: replacing record for feed %s: %v", consts.ErrStorePersistFailed, feed.Reference, err)
	}
	return nil
}

func (s *Store) feedPath(reference string) string {
	return filepath.Join(s.dataPath, reference+".json")
}
