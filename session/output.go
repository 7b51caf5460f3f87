package session

import (
	"sync"
	"time"
)

// OutputLine is one captured line of debuggee output. Line numbers are
// monotone per session, start at 1, and are never reused even after
// eviction, so clients can page forward losslessly.
type OutputLine struct {
	LineNumber int       `json:"line_number"`
	Category   string    `json:"category"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// OutputPage is a paginated slice of the output buffer.
type OutputPage struct {
	Lines        []OutputLine `json:"lines"`
	Offset       int          `json:"offset"`
	Limit        int          `json:"limit"`
	Total        int          `json:"total"`
	HasMore      bool         `json:"has_more"`
	Truncated    bool         `json:"truncated"`
	DroppedLines int          `json:"dropped_lines"`
}

// OutputBuffer is a bounded FIFO of captured stdout/stderr/console lines
// with a byte budget. When an append would exceed the budget, the oldest
// entries are evicted first; once anything has been dropped the truncated
// flag is sticky.
type OutputBuffer struct {
	mu sync.Mutex

	maxBytes     int
	entries      []OutputLine
	currentBytes int
	dropped      int
	lineCounter  int
}

// NewOutputBuffer creates a buffer with the given byte budget.
func NewOutputBuffer(maxBytes int) *OutputBuffer {
	return &OutputBuffer{maxBytes: maxBytes}
}

// Append records one line of output, evicting from the front until the
// new entry fits. An entry larger than the whole budget drains the FIFO
// and is stored alone; losing the most recent output would be worse than
// transiently exceeding the budget.
func (b *OutputBuffer) Append(category, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entrySize := len(content)

	for b.currentBytes+entrySize > b.maxBytes && len(b.entries) > 0 {
		evicted := b.entries[0]
		b.entries = b.entries[1:]
		b.currentBytes -= len(evicted.Content)
		b.dropped++
	}

	b.lineCounter++
	b.entries = append(b.entries, OutputLine{
		LineNumber: b.lineCounter,
		Category:   category,
		Content:    content,
		Timestamp:  time.Now().UTC(),
	})
	b.currentBytes += entrySize
}

// GetPage returns entries [offset, offset+limit), optionally filtered by
// category.
func (b *OutputBuffer) GetPage(offset, limit int, category string) OutputPage {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.entries
	if category != "" {
		entries = nil
		for _, e := range b.entries {
			if e.Category == category {
				entries = append(entries, e)
			}
		}
	}

	total := len(entries)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	page := make([]OutputLine, end-start)
	copy(page, entries[start:end])

	return OutputPage{
		Lines:        page,
		Offset:       offset,
		Limit:        limit,
		Total:        total,
		HasMore:      offset+limit < total,
		Truncated:    b.dropped > 0,
		DroppedLines: b.dropped,
	}
}

// GetSince returns up to limit entries with line numbers strictly greater
// than lineNumber, for cursor-based pagination.
func (b *OutputBuffer) GetSince(lineNumber, limit int) OutputPage {
	b.mu.Lock()
	defer b.mu.Unlock()

	var matched []OutputLine
	for _, e := range b.entries {
		if e.LineNumber > lineNumber {
			matched = append(matched, e)
		}
	}

	total := len(matched)
	if len(matched) > limit {
		matched = matched[:limit]
	}

	page := make([]OutputLine, len(matched))
	copy(page, matched)

	return OutputPage{
		Lines:        page,
		Offset:       0,
		Limit:        limit,
		Total:        total,
		HasMore:      total > limit,
		Truncated:    b.dropped > 0,
		DroppedLines: b.dropped,
	}
}

// Clear discards all entries and resets counters.
func (b *OutputBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
	b.currentBytes = 0
	b.dropped = 0
	b.lineCounter = 0
}

// Size is the buffer's current payload size in bytes.
func (b *OutputBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentBytes
}

// TotalLines is the number of lines currently held.
func (b *OutputBuffer) TotalLines() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// DroppedLines is the number of lines evicted so far.
func (b *OutputBuffer) DroppedLines() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// LastLineNumber is the most recently assigned line number, the cursor for
// GetSince.
func (b *OutputBuffer) LastLineNumber() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lineCounter
}
