package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letterfeed/letterfeed/consts"
	"github.com/letterfeed/letterfeed/server/idgen"
)

func newTestStore(t *testing.T, budget int) *Store {
	t.Helper()
	store, err := New(t.TempDir(), budget)
	require.NoError(t, err)
	return store
}

func TestCreateInitialState(t *testing.T) {
	store := newTestStore(t, 1<<20)

	feed, err := store.Create("A newsletter")
	require.NoError(t, err)

	assert.True(t, idgen.IsWellFormed(feed.Reference))
	assert.Equal(t, "A newsletter", feed.Title)
	assert.Equal(t, feed.CreatedAt, feed.UpdatedAt)
	assert.Empty(t, feed.Entries)

	got, err := store.Read(feed.Reference)
	require.NoError(t, err)
	assert.Equal(t, feed, got)
}

func TestCreateUniqueReferences(t *testing.T) {
	store := newTestStore(t, 1<<20)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		feed, err := store.Create(fmt.Sprintf("feed %d", i))
		require.NoError(t, err)
		require.False(t, seen[feed.Reference])
		seen[feed.Reference] = true
	}
}

func TestReadUnknownReference(t *testing.T) {
	store := newTestStore(t, 1<<20)

	_, err := store.Read(idgen.New())
	assert.ErrorIs(t, err, consts.ErrFeedNotFound)
}

func TestAppendEntryUnknownReference(t *testing.T) {
	store := newTestStore(t, 1<<20)

	err := store.AppendEntry(idgen.New(), AppendRequest{Title: "hi"})
	assert.ErrorIs(t, err, consts.ErrFeedNotFound)
}

func TestAppendEntryBasics(t *testing.T) {
	store := newTestStore(t, 1<<20)
	feed, err := store.Create("A newsletter")
	require.NoError(t, err)

	received := time.Now().UTC()
	err = store.AppendEntry(feed.Reference, AppendRequest{
		Author:      "p@example.com",
		Title:       "Hi",
		ContentHTML: "<p>Some HTML</p>",
		ReceivedAt:  received,
	})
	require.NoError(t, err)

	got, err := store.Read(feed.Reference)
	require.NoError(t, err)
	require.Len(t, got.Entries, 1)

	entry := got.Entries[0]
	assert.True(t, idgen.IsWellFormed(entry.Identifier))
	assert.Equal(t, "p@example.com", entry.Author)
	assert.Equal(t, "Hi", entry.Title)
	assert.Equal(t, "<p>Some HTML</p>", entry.ContentHTML)
	assert.True(t, entry.ReceivedAt.Equal(received))
	assert.True(t, got.UpdatedAt.After(feed.CreatedAt))
}

func TestAppendEntryAdvancesUpdatedAt(t *testing.T) {
	store := newTestStore(t, 1<<20)
	feed, err := store.Create("A newsletter")
	require.NoError(t, err)

	last := feed.UpdatedAt
	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendEntry(feed.Reference, AppendRequest{
			Title:      fmt.Sprintf("issue %d", i),
			ReceivedAt: time.Now().UTC(),
		}))
		got, err := store.Read(feed.Reference)
		require.NoError(t, err)
		assert.True(t, got.UpdatedAt.After(last), "updatedAt must strictly increase")
		last = got.UpdatedAt
	}
}

func TestAppendEntryStaleDateStillAdvancesUpdatedAt(t *testing.T) {
	store := newTestStore(t, 1<<20)
	feed, err := store.Create("A newsletter")
	require.NoError(t, err)

	stale := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, store.AppendEntry(feed.Reference, AppendRequest{
		Title:      "old issue",
		ReceivedAt: stale,
	}))

	got, err := store.Read(feed.Reference)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(feed.UpdatedAt))
	assert.True(t, got.Entries[0].ReceivedAt.Equal(stale))
}

func TestEntriesOrderedNewestFirst(t *testing.T) {
	store := newTestStore(t, 1<<20)
	feed, err := store.Create("ordering")
	require.NoError(t, err)

	base := time.Now().UTC()
	// Deliver out of order: middle, oldest, newest.
	for _, offset := range []time.Duration{-1 * time.Hour, -2 * time.Hour, 0} {
		require.NoError(t, store.AppendEntry(feed.Reference, AppendRequest{
			Title:      fmt.Sprintf("offset %v", offset),
			ReceivedAt: base.Add(offset),
		}))
	}

	got, err := store.Read(feed.Reference)
	require.NoError(t, err)
	require.Len(t, got.Entries, 3)
	for i := 0; i < len(got.Entries)-1; i++ {
		assert.False(t, got.Entries[i].ReceivedAt.Before(got.Entries[i+1].ReceivedAt))
	}
	assert.Equal(t, "offset 0s", got.Entries[0].Title)
	assert.Equal(t, "offset -2h0m0s", got.Entries[2].Title)
}

func TestEntriesTieBrokenByInsertionOrder(t *testing.T) {
	store := newTestStore(t, 1<<20)
	feed, err := store.Create("ties")
	require.NoError(t, err)

	at := time.Now().UTC()
	require.NoError(t, store.AppendEntry(feed.Reference, AppendRequest{Title: "first", ReceivedAt: at}))
	require.NoError(t, store.AppendEntry(feed.Reference, AppendRequest{Title: "second", ReceivedAt: at}))

	got, err := store.Read(feed.Reference)
	require.NoError(t, err)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, "second", got.Entries[0].Title)
	assert.Equal(t, "first", got.Entries[1].Title)
}

func TestTruncationEvictsOldestKeepsNewest(t *testing.T) {
	content := strings.Repeat("x", 2000)
	probe := Entry{
		Identifier:  idgen.New(),
		Author:      "a@example.com",
		Title:       "issue 0",
		ContentHTML: content,
	}
	budget := EntrySize(&probe)*3 + 100
	store := newTestStore(t, budget)

	feed, err := store.Create("bounded")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, store.AppendEntry(feed.Reference, AppendRequest{
			Author:      "a@example.com",
			Title:       fmt.Sprintf("issue %d", i),
			ContentHTML: content,
			ReceivedAt:  time.Now().UTC(),
		}))

		got, err := store.Read(feed.Reference)
		require.NoError(t, err)

		// The most recent append is always present and newest entries survive.
		require.NotEmpty(t, got.Entries)
		assert.Equal(t, fmt.Sprintf("issue %d", i), got.Entries[0].Title)

		total := 0
		for j := range got.Entries {
			total += EntrySize(&got.Entries[j])
		}
		assert.LessOrEqual(t, total, budget)
	}

	got, err := store.Read(feed.Reference)
	require.NoError(t, err)
	require.Len(t, got.Entries, 3)
	assert.Equal(t, "issue 9", got.Entries[0].Title)
	assert.Equal(t, "issue 8", got.Entries[1].Title)
	assert.Equal(t, "issue 7", got.Entries[2].Title)
}

func TestReadReturnsSnapshot(t *testing.T) {
	store := newTestStore(t, 1<<20)
	feed, err := store.Create("snapshots")
	require.NoError(t, err)

	require.NoError(t, store.AppendEntry(feed.Reference, AppendRequest{Title: "original"}))

	got, err := store.Read(feed.Reference)
	require.NoError(t, err)
	got.Title = "mutated"
	got.Entries[0].Title = "mutated"

	again, err := store.Read(feed.Reference)
	require.NoError(t, err)
	assert.Equal(t, "snapshots", again.Title)
	assert.Equal(t, "original", again.Entries[0].Title)
}

func TestPersistedRecordShape(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, 1<<20)
	require.NoError(t, err)

	feed, err := store.Create("durable")
	require.NoError(t, err)
	require.NoError(t, store.AppendEntry(feed.Reference, AppendRequest{
		Author:      "a@example.com",
		Title:       "hello",
		ContentHTML: "<p>hi</p>",
		ReceivedAt:  time.Now().UTC(),
	}))

	data, err := os.ReadFile(filepath.Join(dir, feed.Reference+".json"))
	require.NoError(t, err)

	var persisted Feed
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Equal(t, feed.Reference, persisted.Reference)
	assert.Equal(t, "durable", persisted.Title)
	require.Len(t, persisted.Entries, 1)
	assert.Equal(t, "<p>hi</p>", persisted.Entries[0].ContentHTML)

	// No temp files left behind.
	dirEntries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, de := range dirEntries {
		assert.False(t, strings.HasSuffix(de.Name(), ".tmp"), "stray temp file %s", de.Name())
	}
}

func TestReloadFromDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, 1<<20)
	require.NoError(t, err)

	feed, err := store.Create("persistent")
	require.NoError(t, err)
	require.NoError(t, store.AppendEntry(feed.Reference, AppendRequest{Title: "issue"}))

	reopened, err := New(dir, 1<<20)
	require.NoError(t, err)

	got, err := reopened.Read(feed.Reference)
	require.NoError(t, err)
	assert.Equal(t, "persistent", got.Title)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, "issue", got.Entries[0].Title)
}

func TestLoadSkipsUnreadableRecords(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, 1<<20)
	require.NoError(t, err)
	feed, err := store.Create("good")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, idgen.New()+".json"), []byte("{not json"), 0o644))

	reopened, err := New(dir, 1<<20)
	require.NoError(t, err)
	assert.Len(t, reopened.List(), 1)
	_, err = reopened.Read(feed.Reference)
	assert.NoError(t, err)
}

func TestConcurrentAppendsSameFeed(t *testing.T) {
	store := newTestStore(t, 1<<22)
	feed, err := store.Create("contended")
	require.NoError(t, err)

	const writers = 8
	const perWriter = 20

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				errs <- store.AppendEntry(feed.Reference, AppendRequest{
					Title:      fmt.Sprintf("w%d-%d", w, i),
					ReceivedAt: time.Now().UTC(),
				})
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := store.Read(feed.Reference)
	require.NoError(t, err)
	assert.Len(t, got.Entries, writers*perWriter)
}

func TestConcurrentAppendsDifferentFeeds(t *testing.T) {
	store := newTestStore(t, 1<<22)

	const feeds = 6
	refs := make([]string, feeds)
	for i := range refs {
		feed, err := store.Create(fmt.Sprintf("feed %d", i))
		require.NoError(t, err)
		refs[i] = feed.Reference
	}

	var wg sync.WaitGroup
	for _, ref := range refs {
		wg.Add(1)
		go func(ref string) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				assert.NoError(t, store.AppendEntry(ref, AppendRequest{
					Title:      fmt.Sprintf("issue %d", i),
					ReceivedAt: time.Now().UTC(),
				}))
			}
		}(ref)
	}
	wg.Wait()

	for _, ref := range refs {
		got, err := store.Read(ref)
		require.NoError(t, err)
		assert.Len(t, got.Entries, 25)
	}
}

func TestConcurrentReadsDuringAppends(t *testing.T) {
	store := newTestStore(t, 1<<22)
	feed, err := store.Create("readers")
	require.NoError(t, err)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			assert.NoError(t, store.AppendEntry(feed.Reference, AppendRequest{
				Title:      fmt.Sprintf("issue %d", i),
				ReceivedAt: time.Now().UTC(),
			}))
		}
		close(done)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				got, err := store.Read(feed.Reference)
				if !assert.NoError(t, err) {
					return
				}
				// A snapshot is internally consistent: ordered newest first.
				for i := 0; i < len(got.Entries)-1; i++ {
					assert.False(t, got.Entries[i].ReceivedAt.Before(got.Entries[i+1].ReceivedAt))
				}
			}
		}()
	}
	wg.Wait()
}

func TestAppendFailureLeavesStateUntouched(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, 1<<20)
	require.NoError(t, err)
	feed, err := store.Create("resilient")
	require.NoError(t, err)
	require.NoError(t, store.AppendEntry(feed.Reference, AppendRequest{Title: "kept"}))

	// Remove the data directory so the next persist fails at the temp file.
	require.NoError(t, os.RemoveAll(dir))

	err = store.AppendEntry(feed.Reference, AppendRequest{Title: "lost"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, consts.ErrStorePersistFailed))

	got, err := store.Read(feed.Reference)
	require.NoError(t, err)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, "kept", got.Entries[0].Title)
}

func TestList(t *testing.T) {
	store := newTestStore(t, 1<<20)
	assert.Empty(t, store.List())

	_, err := store.Create("one")
	require.NoError(t, err)
	_, err = store.Create("two")
	require.NoError(t, err)

	assert.Len(t, store.List(), 2)
}
