package storage

import (
	"encoding/json"
	"unicode/utf8"
)

// EntrySize returns the serialized size of an entry in bytes, as it will be
// accounted against the feed's size budget.
func EntrySize(e *Entry) int {
	data, err := json.Marshal(e)
	if err != nil {
		// Entries are plain strings and times; marshaling cannot fail.
		return 0
	}
	return len(data)
}

// EnforceBudget trims entries (ordered newest first) so their combined
// serialized size does not exceed budget bytes. Oldest entries are evicted
// first. The entry identified by protect (the one just appended) is never
// evicted; if it cannot fit on its own, its content is truncated instead, so
// the most recent delivery always stays representable.
//
// Returns the kept entries and the number of evicted entries.
func EnforceBudget(entries []Entry, budget int, protect string) ([]Entry, int) {
	kept := make([]Entry, len(entries))
	copy(kept, entries)

	sizes := make([]int, len(kept))
	total := 0
	for i := range kept {
		sizes[i] = EntrySize(&kept[i])
		total += sizes[i]
	}

	evicted := 0
	for total > budget {
		idx := -1
		for i := len(kept) - 1; i >= 0; i-- {
			if kept[i].Identifier != protect {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		total -= sizes[idx]
		kept = append(kept[:idx], kept[idx+1:]...)
		sizes = append(sizes[:idx], sizes[idx+1:]...)
		evicted++
	}

	// Only the protected entry can remain over budget at this point.
	if total > budget {
		for i := range kept {
			if kept[i].Identifier == protect {
				truncateContent(&kept[i], budget)
				break
			}
		}
	}

	return kept, evicted
}

// truncateContent cuts an entry's content until the entry's serialized size
// fits within budget. JSON escaping only inflates content, so removing N
// content bytes removes at least N serialized bytes and the loop converges.
func truncateContent(e *Entry, budget int) {
	for {
		size := EntrySize(e)
		if size <= budget || e.ContentHTML == "" {
			return
		}
		keep := len(e.ContentHTML) - (size - budget)
		if keep < 0 {
			keep = 0
		}
		e.ContentHTML = cutUTF8(e.ContentHTML, keep)
	}
}

// cutUTF8 truncates s to at most n bytes without splitting a rune.
func cutUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
