package cluster

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeInfo identifies a shard node reachable for remote query dispatch.
type NodeInfo struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// LogEntry is the value exchanged with the index provider and between
// instances. The core never mutates entries it receives.
type LogEntry struct {
	Metadata   map[string]string `json:"metadata,omitempty"`
	ID         string            `json:"id"`
	Level      string            `json:"level"`
	Message    string            `json:"message"`
	Source     string            `json:"source"`
	RawContent string            `json:"rawContent"`
	Timestamp  int64             `json:"timestamp"`
}

// SourceDescriptor is an ingestible log source. Ownership is never stored on
// the descriptor; it is computed from the ID and the live membership set.
type SourceDescriptor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// InstanceAnnouncement is the heartbeat payload one instance posts to its peers.
type InstanceAnnouncement struct {
	InstanceID string `json:"instanceId"`
	URL        string `json:"url,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// QueryKey identifies a search: it is the result cache key and, for
// TIME_BASED sharding, the shard-targeting key. Nil bounds mean open-ended.
type QueryKey struct {
	StartTime *int64 `json:"startTime,omitempty"`
	EndTime   *int64 `json:"endTime,omitempty"`
	Query     string `json:"query"`
	IsRegex   bool   `json:"isRegex"`
}

// NewQueryKey builds a QueryKey from optional time bounds.
func NewQueryKey(query string, isRegex bool, startTime, endTime *int64) QueryKey {
	return QueryKey{
		Query:     query,
		IsRegex:   isRegex,
		StartTime: startTime,
		EndTime:   endTime,
	}
}

// HasTimeRange reports whether both time bounds are set.
func (k QueryKey) HasTimeRange() bool {
	return k.StartTime != nil && k.EndTime != nil
}

// String renders the key as "query:isRegex:start:end". A missing bound
// renders as "-" so an open-ended key never equals a key bounded at 0.
func (k QueryKey) String() string {
	return fmt.Sprintf("%s:%t:%s:%s", k.Query, k.IsRegex, formatBound(k.StartTime), formatBound(k.EndTime))
}

func formatBound(v *int64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatInt(*v, 10)
}

// SourceTerm returns the lower-cased value of the first "source:<value>"
// term in the query. Sources match case-insensitively, so routing on the
// value must too.
func (k QueryKey) SourceTerm() (string, bool) {
	for _, field := range strings.Fields(k.Query) {
		if value, ok := strings.CutPrefix(field, "source:"); ok && value != "" {
			return strings.ToLower(value), true
		}
	}
	return "", false
}

// Int64 returns a pointer to v, for building optional time bounds.
func Int64(v int64) *int64 {
	return &v
}
