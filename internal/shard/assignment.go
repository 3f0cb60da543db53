package shard

// ShardAssignment represents the mapping of a logical shard to a node.
type ShardAssignment struct {
	NodeID    string `json:"nodeId"`    // The node that hosts this shard
	IsPrimary bool   `json:"isPrimary"` // Whether this is the primary or a replica
	ShardID   int    `json:"shardId"`   // The shard identifier
}

// AssignShards spreads numShards logical shards over nodes round-robin:
// shard s has its primary on nodes[s mod len(nodes)] and, when replicas > 1,
// copies on the following replicas-1 nodes.
//
// Parameters:
//   - numShards: Number of logical shards, from ShardConfiguration.NumberOfShards
//   - nodes: Node ids; callers pass them sorted so all instances agree
//   - replicas: Copies per shard including the primary, capped at len(nodes)
//
// Returns:
//   - Assignments ordered by shard id, primary first; nil if nodes is empty
//
// Example:
//
//	AssignShards(4, []string{"node1", "node2"}, 1)
//	// shard 0 -> node1, shard 1 -> node2, shard 2 -> node1, shard 3 -> node2
func AssignShards(numShards int, nodes []string, replicas int) []ShardAssignment {
	if len(nodes) == 0 || numShards <= 0 {
		return nil
	}
	if replicas < 1 {
		replicas = 1
	}
	if replicas > len(nodes) {
		replicas = len(nodes)
	}

	out := make([]ShardAssignment, 0, numShards*replicas)
	for shardID := 0; shardID < numShards; shardID++ {
		for r := 0; r < replicas; r++ {
			out = append(out, ShardAssignment{
				ShardID:   shardID,
				NodeID:    nodes[(shardID+r)%len(nodes)],
				IsPrimary: r == 0,
			})
		}
	}
	return out
}

// PrimaryNode returns the node holding the primary of shardID under the
// round-robin layout of AssignShards.
func PrimaryNode(shardID int, nodes []string) string {
	if len(nodes) == 0 {
		return ""
	}
	return nodes[mod(int64(shardID), int64(len(nodes)))]
}

// mod returns the non-negative remainder of a / b.
func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
