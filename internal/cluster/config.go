package cluster

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// ShardingType selects how a query is mapped onto shard nodes.
type ShardingType string

const (
	// ShardingTimeBased routes by time-range bucket.
	ShardingTimeBased ShardingType = "TIME_BASED"
	// ShardingSourceBased routes by the source named in the query.
	ShardingSourceBased ShardingType = "SOURCE_BASED"
	// ShardingBalanced fans out to every registered node.
	ShardingBalanced ShardingType = "BALANCED"
)

// ErrInvalidConfiguration is returned by ShardConfiguration.Validate.
var ErrInvalidConfiguration = errors.New("invalid shard configuration")

// Valid reports whether t is a known sharding type.
func (t ShardingType) Valid() bool {
	switch t {
	case ShardingTimeBased, ShardingSourceBased, ShardingBalanced:
		return true
	default:
		return false
	}
}

// ShardConfiguration describes how search is distributed across shard nodes.
//
// A ShardConfiguration is treated as an immutable value once handed to the
// router: every change produces a new value via Clone or the With* helpers,
// and the router swaps the whole value atomically.
type ShardConfiguration struct {
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
	ID                 string       `json:"id,omitempty"`
	ShardingType       ShardingType `json:"shardingType"`
	ShardNodes         []string     `json:"shardNodes"`
	NumberOfShards     int          `json:"numberOfShards"`
	ReplicationFactor  int          `json:"replicationFactor"`
	ShardingEnabled    bool         `json:"shardingEnabled"`
	ReplicationEnabled bool         `json:"replicationEnabled"`
}

// DefaultShardConfiguration returns a disabled TIME_BASED configuration with
// three shards and no extra nodes.
func DefaultShardConfiguration() ShardConfiguration {
	now := time.Now().UTC()
	return ShardConfiguration{
		ShardingType:      ShardingTimeBased,
		NumberOfShards:    3,
		ReplicationFactor: 1,
		ShardNodes:        []string{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Validate checks the invariants the router relies on.
func (c ShardConfiguration) Validate() error {
	if !c.ShardingType.Valid() {
		return errors.Wrapf(ErrInvalidConfiguration, "sharding type must be one of TIME_BASED, SOURCE_BASED, BALANCED, got %q", c.ShardingType)
	}
	if c.NumberOfShards < 1 {
		return errors.Wrapf(ErrInvalidConfiguration, "number of shards must be at least 1, got %d", c.NumberOfShards)
	}
	if c.ReplicationFactor < 1 {
		return errors.Wrapf(ErrInvalidConfiguration, "replication factor must be at least 1, got %d", c.ReplicationFactor)
	}
	return nil
}

// Clone returns a deep copy, so the copy's ShardNodes can be changed freely.
func (c ShardConfiguration) Clone() ShardConfiguration {
	out := c
	if c.ShardNodes != nil {
		out.ShardNodes = slices.Clone(c.ShardNodes)
	}
	return out
}

// WithShardingEnabled returns a copy with the flag set.
func (c ShardConfiguration) WithShardingEnabled(enabled bool) ShardConfiguration {
	out := c.Clone()
	out.ShardingEnabled = enabled
	out.UpdatedAt = time.Now().UTC()
	return out
}

// WithNode returns a copy that lists url among ShardNodes.
func (c ShardConfiguration) WithNode(url string) ShardConfiguration {
	out := c.Clone()
	if !slices.Contains(out.ShardNodes, url) {
		out.ShardNodes = append(out.ShardNodes, url)
		out.UpdatedAt = time.Now().UTC()
	}
	return out
}

// WithoutNode returns a copy with url removed from ShardNodes.
func (c ShardConfiguration) WithoutNode(url string) ShardConfiguration {
	out := c.Clone()
	if idx := slices.Index(out.ShardNodes, url); idx >= 0 {
		out.ShardNodes = slices.Delete(out.ShardNodes, idx, idx+1)
		out.UpdatedAt = time.Now().UTC()
	}
	return out
}
