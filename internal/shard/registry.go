package shard

import (
	"fmt"
	"strings"

	"github.com/benbjohnson/immutable"
	"github.com/pkg/errors"

	"github.com/dreamware/logsearch/internal/cluster"
)

var (
	// ErrLocalNode is returned when an admin call tries to replace or remove the local node.
	ErrLocalNode = errors.New("the local node cannot be modified")
	// ErrUnknownNode is returned when unregistering a node that is not registered.
	ErrUnknownNode = errors.New("unknown shard node")
	// ErrDuplicateURL is returned when a URL is already registered under another id.
	ErrDuplicateURL = errors.New("shard node url already registered")
)

// NodeRegistry maps shard node ids to URLs. It always contains the local node.
//
// A NodeRegistry is immutable: With and Without return a modified copy, so a
// registry loaded by a reader can never change under it. Both directions are
// persistent sorted maps, so a copy shares almost all of its structure.
type NodeRegistry struct {
	byID     *immutable.SortedMap[string, string] // nodeID -> URL
	byURL    *immutable.SortedMap[string, string] // URL -> nodeID
	localID  string
	localURL string
}

// stringComparer orders registry keys lexically.
type stringComparer struct{}

func (stringComparer) Compare(a, b string) int {
	return strings.Compare(a, b)
}

// NewNodeRegistry creates a registry holding only the local node.
func NewNodeRegistry(localID, localURL string) *NodeRegistry {
	r := &NodeRegistry{
		byID:     immutable.NewSortedMap[string, string](stringComparer{}),
		byURL:    immutable.NewSortedMap[string, string](stringComparer{}),
		localID:  localID,
		localURL: localURL,
	}
	return r.set(localID, localURL)
}

// BuildNodeRegistry creates a registry with the local node plus one node per
// URL. Ids known in prev are kept for their URL; new URLs get "node<i+2>",
// skipping ids already taken. URLs equal to the local URL are skipped.
func BuildNodeRegistry(localID, localURL string, urls []string, prev *NodeRegistry) *NodeRegistry {
	r := NewNodeRegistry(localID, localURL)

	pending := make([]int, 0, len(urls))
	for i, url := range urls {
		if url == "" || url == localURL || r.hasURL(url) {
			continue
		}
		if prev != nil {
			if id, ok := prev.IDForURL(url); ok && id != localID {
				if _, taken := r.URL(id); !taken {
					r = r.set(id, url)
					continue
				}
			}
		}
		pending = append(pending, i)
	}

	for _, i := range pending {
		url := urls[i]
		if r.hasURL(url) {
			continue
		}
		n := i + 2
		id := fmt.Sprintf("node%d", n)
		for {
			if _, taken := r.URL(id); !taken {
				break
			}
			n++
			id = fmt.Sprintf("node%d", n)
		}
		r = r.set(id, url)
	}
	return r
}

// set returns a copy with id at url, dropping the URL id had before.
func (r *NodeRegistry) set(id, url string) *NodeRegistry {
	out := *r
	if prev, ok := r.byID.Get(id); ok {
		out.byURL = out.byURL.Delete(prev)
	}
	out.byID = out.byID.Set(id, url)
	out.byURL = out.byURL.Set(url, id)
	return &out
}

func (r *NodeRegistry) hasURL(url string) bool {
	_, ok := r.IDForURL(url)
	return ok
}

// With returns a copy with id registered at url.
func (r *NodeRegistry) With(id, url string) (*NodeRegistry, error) {
	if id == "" || url == "" {
		return nil, errors.New("node id and url are required")
	}
	if id == r.localID {
		return nil, errors.Wrapf(ErrLocalNode, "register %q", id)
	}
	if owner, ok := r.IDForURL(url); ok && owner != id {
		return nil, errors.Wrapf(ErrDuplicateURL, "%s is registered as %q", url, owner)
	}
	return r.set(id, url), nil
}

// Without returns a copy with id removed.
func (r *NodeRegistry) Without(id string) (*NodeRegistry, error) {
	if id == r.localID {
		return nil, errors.Wrapf(ErrLocalNode, "unregister %q", id)
	}
	url, ok := r.byID.Get(id)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownNode, "%q", id)
	}
	out := *r
	out.byID = r.byID.Delete(id)
	out.byURL = r.byURL.Delete(url)
	return &out, nil
}

// URL returns the URL registered for id.
func (r *NodeRegistry) URL(id string) (string, bool) {
	return r.byID.Get(id)
}

// IDForURL returns the id registered for url.
func (r *NodeRegistry) IDForURL(url string) (string, bool) {
	return r.byURL.Get(url)
}

// LocalID returns the id of the local node.
func (r *NodeRegistry) LocalID() string {
	return r.localID
}

// IDs returns every node id, sorted.
func (r *NodeRegistry) IDs() []string {
	ids := make([]string, 0, r.byID.Len())
	itr := r.byID.Iterator()
	for !itr.Done() {
		id, _, _ := itr.Next()
		ids = append(ids, id)
	}
	return ids
}

// URLs returns every node URL, sorted. Ids are local labels that differ
// between instances; URLs name a node the same way everywhere, so routing
// and placement are computed over this list.
func (r *NodeRegistry) URLs() []string {
	urls := make([]string, 0, r.byURL.Len())
	itr := r.byURL.Iterator()
	for !itr.Done() {
		url, _, _ := itr.Next()
		urls = append(urls, url)
	}
	return urls
}

// IDsByURL returns every node id, ordered by the node's URL.
func (r *NodeRegistry) IDsByURL() []string {
	ids := make([]string, 0, r.byURL.Len())
	itr := r.byURL.Iterator()
	for !itr.Done() {
		_, id, _ := itr.Next()
		ids = append(ids, id)
	}
	return ids
}

// Nodes returns every node sorted by id.
func (r *NodeRegistry) Nodes() []cluster.NodeInfo {
	out := make([]cluster.NodeInfo, 0, r.byID.Len())
	itr := r.byID.Iterator()
	for !itr.Done() {
		id, url, _ := itr.Next()
		out = append(out, cluster.NodeInfo{ID: id, Addr: url})
	}
	return out
}

// Map returns a copy of the id -> URL mapping.
func (r *NodeRegistry) Map() map[string]string {
	out := make(map[string]string, r.byID.Len())
	itr := r.byID.Iterator()
	for !itr.Done() {
		id, url, _ := itr.Next()
		out[id] = url
	}
	return out
}

// Len returns the number of nodes, the local node included.
func (r *NodeRegistry) Len() int {
	return r.byID.Len()
}
