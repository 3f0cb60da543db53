package cluster

import (
	"fmt"
	"strings"
)

// SearchExecutionError reports an I/O failure of an index provider.
// It is surfaced to the caller as-is; the router never retries it.
type SearchExecutionError struct {
	Err    error
	NodeID string
	Query  string
}

func (e *SearchExecutionError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("search %q failed: %v", e.Query, e.Err)
	}
	return fmt.Sprintf("search %q failed on node %s: %v", e.Query, e.NodeID, e.Err)
}

func (e *SearchExecutionError) Unwrap() error {
	return e.Err
}

// StatusError is returned by Client for a response with status 300 or above.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %s: %d", e.URL, e.StatusCode)
}

// MembershipError rejects a malformed membership request, such as an
// announcement without an instance id.
type MembershipError struct {
	InstanceID string
	Reason     string
}

func (e *MembershipError) Error() string {
	return fmt.Sprintf("membership: instance %q: %s", e.InstanceID, e.Reason)
}

// NodeFailure records one shard node that did not contribute to a result.
type NodeFailure struct {
	Err     error
	NodeID  string
	NodeURL string
}

func (f NodeFailure) String() string {
	return fmt.Sprintf("%s (%s): %v", f.NodeID, f.NodeURL, f.Err)
}

// SearchResult is a merged search response. Partial is set when one or more
// nodes failed; Failures then names them. Entries never contains data for a
// failed node.
type SearchResult struct {
	Entries  []LogEntry
	Failures []NodeFailure
	Partial  bool
	Cached   bool
}

// FailureSummary joins the failures for logging.
func (r *SearchResult) FailureSummary() string {
	parts := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		parts = append(parts, f.String())
	}
	return strings.Join(parts, "; ")
}
