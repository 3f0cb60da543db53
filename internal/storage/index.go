package storage

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/umisama/go-regexpcache"
	"golang.org/x/exp/slices"

	"github.com/dreamware/logsearch/internal/cluster"
)

var (
	// ErrIndexClosed is returned by every operation after Close.
	ErrIndexClosed = errors.New("index closed")
	// ErrInvalidQuery is returned for a regex query that does not compile.
	ErrInvalidQuery = errors.New("invalid query")
)

// SearchProvider is the index the coordination layer searches and feeds.
// Implementations must be safe for concurrent use.
type SearchProvider interface {
	// Search returns the entries matching query within the optional time
	// bounds, newest first. Nil bounds are open-ended.
	Search(ctx context.Context, query string, isRegex bool, startTime, endTime *int64) ([]cluster.LogEntry, error)

	// IndexLogEntries adds entries to the index.
	IndexLogEntries(ctx context.Context, entries []cluster.LogEntry) error
}

// IndexStats contains statistics about the index
type IndexStats struct {
	Entries int            `json:"entries"`
	Sources map[string]int `json:"sources"`
}

// MemoryIndex implements SearchProvider with an in-memory entry list
// Uses sync.RWMutex for thread-safe concurrent access
type MemoryIndex struct {
	mu      sync.RWMutex
	entries []cluster.LogEntry
	closed  bool
}

// NewMemoryIndex creates a new in-memory index
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

// IndexLogEntries appends entries to the index
func (m *MemoryIndex) IndexLogEntries(ctx context.Context, entries []cluster.LogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrIndexClosed
	}
	m.entries = append(m.entries, entries...)
	return nil
}

// Search scans the index.
//
// Plain queries are split on whitespace. "source:<v>" and "level:<v>" terms
// filter on those fields; every other term must occur, case-insensitively, in
// the message or raw content. An empty query or "*" matches everything.
// Regex queries are matched against the message and raw content.
func (m *MemoryIndex) Search(ctx context.Context, query string, isRegex bool, startTime, endTime *int64) ([]cluster.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	match, err := compileMatcher(query, isRegex)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrIndexClosed
	}

	result := make([]cluster.LogEntry, 0)
	for _, entry := range m.entries {
		if startTime != nil && entry.Timestamp < *startTime {
			continue
		}
		if endTime != nil && entry.Timestamp > *endTime {
			continue
		}
		if match(entry) {
			result = append(result, entry)
		}
	}

	slices.SortStableFunc(result, func(a, b cluster.LogEntry) int {
		switch {
		case a.Timestamp > b.Timestamp:
			return -1
		case a.Timestamp < b.Timestamp:
			return 1
		default:
			return 0
		}
	})
	return result, nil
}

// Stats returns index statistics
func (m *MemoryIndex) Stats() IndexStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sources := make(map[string]int)
	for _, entry := range m.entries {
		sources[entry.Source]++
	}
	return IndexStats{
		Entries: len(m.entries),
		Sources: sources,
	}
}

// Close drops the entries; later calls fail with ErrIndexClosed.
func (m *MemoryIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.entries = nil
	return nil
}

func compileMatcher(query string, isRegex bool) (func(cluster.LogEntry) bool, error) {
	if isRegex {
		re, err := regexpcache.Compile(query)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidQuery, "regex %q: %s", query, err)
		}
		return func(e cluster.LogEntry) bool {
			return re.MatchString(e.Message) || re.MatchString(e.RawContent)
		}, nil
	}

	var source, level string
	var terms []string
	for _, field := range strings.Fields(query) {
		switch {
		case field == "*":
		case strings.HasPrefix(field, "source:"):
			source = strings.TrimPrefix(field, "source:")
		case strings.HasPrefix(field, "level:"):
			level = strings.TrimPrefix(field, "level:")
		default:
			terms = append(terms, strings.ToLower(field))
		}
	}

	return func(e cluster.LogEntry) bool {
		if source != "" && !strings.EqualFold(e.Source, source) {
			return false
		}
		if level != "" && !strings.EqualFold(e.Level, level) {
			return false
		}
		message := strings.ToLower(e.Message)
		raw := strings.ToLower(e.RawContent)
		for _, term := range terms {
			if !strings.Contains(message, term) && !strings.Contains(raw, term) {
				return false
			}
		}
		return true
	}, nil
}
