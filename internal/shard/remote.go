package shard

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/dreamware/logsearch/internal/cluster"
	"github.com/dreamware/logsearch/internal/storage"
)

const (
	// SearchPath is the search endpoint every node serves.
	SearchPath = "/api/logs/search"
	// IngestPath is the ingestion endpoint every node serves.
	IngestPath = "/api/logs"
)

// NodeSearcher runs a search on a remote shard node.
type NodeSearcher interface {
	Search(ctx context.Context, nodeURL string, key cluster.QueryKey) ([]cluster.LogEntry, error)
}

// NodeIndexer stores entries on a remote shard node.
type NodeIndexer interface {
	Index(ctx context.Context, nodeURL string, entries []cluster.LogEntry) error
}

// HTTPShardClient sends shard requests to other nodes. Every request carries
// isShardRequest=true, so the receiving node answers from and writes to its
// local index only.
type HTTPShardClient struct {
	client *cluster.Client
}

// NewHTTPShardClient returns a shard client using client.
func NewHTTPShardClient(client *cluster.Client) *HTTPShardClient {
	return &HTTPShardClient{client: client}
}

// Search calls GET {nodeURL}/api/logs/search. A 400 from the node means it
// rejected the query and is reported as storage.ErrInvalidQuery.
func (c *HTTPShardClient) Search(ctx context.Context, nodeURL string, key cluster.QueryKey) ([]cluster.LogEntry, error) {
	var entries []cluster.LogEntry
	url := strings.TrimRight(nodeURL, "/") + SearchPath
	if err := c.client.GetJSON(ctx, url, ShardRequestParams(key), &entries); err != nil {
		var status *cluster.StatusError
		if errors.As(err, &status) && status.StatusCode == http.StatusBadRequest {
			return nil, errors.Wrapf(storage.ErrInvalidQuery, "rejected by %s", nodeURL)
		}
		return nil, err
	}
	if entries == nil {
		entries = []cluster.LogEntry{}
	}
	return entries, nil
}

// Index calls POST {nodeURL}/api/logs?isShardRequest=true with entries.
func (c *HTTPShardClient) Index(ctx context.Context, nodeURL string, entries []cluster.LogEntry) error {
	url := strings.TrimRight(nodeURL, "/") + IngestPath + "?isShardRequest=true"
	return c.client.PostJSON(ctx, url, entries, nil)
}

// ShardRequestParams encodes key as query parameters of a shard request.
func ShardRequestParams(key cluster.QueryKey) map[string]string {
	params := map[string]string{
		"query":          key.Query,
		"isRegex":        strconv.FormatBool(key.IsRegex),
		"isShardRequest": "true",
	}
	if key.StartTime != nil {
		params["startTime"] = strconv.FormatInt(*key.StartTime, 10)
	}
	if key.EndTime != nil {
		params["endTime"] = strconv.FormatInt(*key.EndTime, 10)
	}
	return params
}
