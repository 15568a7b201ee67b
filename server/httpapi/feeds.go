package httpapi

import (
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/mux"
	"lukechampine.com/blake3"

	"github.com/letterfeed/letterfeed/consts"
	"github.com/letterfeed/letterfeed/logger"
	"github.com/letterfeed/letterfeed/server/idgen"
	"github.com/letterfeed/letterfeed/storage"
)

// maxTitleLength bounds feed titles in runes.
const maxTitleLength = 200

type createFeedRequest struct {
	Title string `json:"title"`
}

type createFeedResponse struct {
	Reference string    `json:"reference"`
	Title     string    `json:"title"`
	FeedURL   string    `json:"feed_url"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleCreateFeed(w http.ResponseWriter, r *http.Request) {
	var req createFeedRequest
	body := http.MaxBytesReader(w, r.Body, maxCreateBodySize)
	if err := jsonDecode(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		writeError(w, http.StatusBadRequest, "title is too long")
		return
	}

	feed, err := s.store.Create(title)
	if err != nil {
		logger.Error("failed to create feed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	logger.Info("feed created", "reference", feed.Reference, "title", feed.Title)

	writeJSON(w, http.StatusCreated, createFeedResponse{
		Reference: feed.Reference,
		Title:     feed.Title,
		FeedURL:   s.renderer.FeedURL(feed.Reference),
		Email:     feed.Reference + "@" + s.mailboxHost,
		CreatedAt: feed.CreatedAt,
	})
}

func (s *Server) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	feed, ok := s.lookupFeed(w, mux.Vars(r)["reference"])
	if !ok {
		return
	}

	doc, err := s.renderer.Feed(feed)
	if err != nil {
		logger.Error("failed to render feed", "reference", feed.Reference, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeDocument(w, r, doc, "application/atom+xml; charset=utf-8")
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	feed, ok := s.lookupFeed(w, vars["reference"])
	if !ok {
		return
	}

	identifier := vars["entry"]
	if !idgen.IsWellFormed(identifier) {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	entry, found := feed.FindEntry(identifier)
	if !found {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}

	page, err := s.renderer.EntryPage(feed, entry)
	if err != nil {
		logger.Error("failed to render entry page", "reference", feed.Reference, "entry", identifier, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeDocument(w, r, page, "text/html; charset=utf-8")
}

// lookupFeed resolves a reference to a feed snapshot. A malformed reference
// and an unknown one produce the same 404 so responses do not reveal which
// references exist.
func (s *Server) lookupFeed(w http.ResponseWriter, reference string) (*storage.Feed, bool) {
	if !idgen.IsWellFormed(reference) {
		writeError(w, http.StatusNotFound, "feed not found")
		return nil, false
	}
	feed, err := s.store.Read(reference)
	if errors.Is(err, consts.ErrFeedNotFound) {
		writeError(w, http.StatusNotFound, "feed not found")
		return nil, false
	}
	if err != nil {
		logger.Error("failed to read feed", "reference", reference, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	return feed, true
}

// writeDocument sends a rendered document with caching and anti-indexing
// headers. Feeds and entry pages are reachable by unguessable URL only, so
// crawlers are told to stay away even though the content is public.
func writeDocument(w http.ResponseWriter, r *http.Request, body []byte, contentType string) {
	etag := etagFor(body)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Robots-Tag", "noindex, nofollow")

	if matchesETag(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(body); err != nil {
		logger.Warn("failed to write response", "error", err)
	}
}

func etagFor(body []byte) string {
	sum := blake3.Sum256(body)
	return `"` + hex.EncodeToString(sum[:8]) + `"`
}

// matchesETag implements the subset of If-None-Match we emit: strong tags,
// optionally several of them, or the wildcard.
func matchesETag(header, etag string) bool {
	if header == "" {
		return false
	}
	if header == "*" {
		return true
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == etag {
			return true
		}
	}
	return false
}
