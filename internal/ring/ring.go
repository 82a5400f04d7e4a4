// Package ring implements the consistent-hash ring that maps keys to
// ordered replica lists. It has no virtual nodes: each node_id occupies
// exactly one position, computed as the MD5 digest of its UTF-8 bytes
// interpreted as a big-endian 128-bit integer. Two MD5 digests compare
// the same way byte-for-byte (lexicographically) as they would as the
// big-endian integers they represent, so the ring sorts and searches
// raw digest bytes directly instead of materializing a big.Int per node.
package ring

import (
	"crypto/md5"
	"fmt"
	"sort"
	"sync"
)

// position is an MD5 digest, treated as an unsigned big-endian 128-bit
// integer for ordering purposes.
type position [16]byte

func less(a, b position) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Hash computes the ring position for s: MD5(utf8(s)).
func Hash(s string) [16]byte {
	return md5.Sum([]byte(s))
}

type entry struct {
	pos    position
	nodeID string
}

// Ring is a sorted, concurrency-safe consistent-hash ring with one
// position per node.
type Ring struct {
	mu      sync.RWMutex
	entries []entry            // sorted by pos
	byNode  map[string]position // nodeID -> its position, for O(1) membership/no-op checks
}

// New creates an empty ring.
func New() *Ring {
	return &Ring{
		byNode: make(map[string]position),
	}
}

// AddNode inserts nodeID at hash(nodeID). It is a no-op if the node
// already has a position. A collision between two distinct node_ids
// hashing to the same position is a configuration error and is
// reported rather than silently resolved.
func (r *Ring) AddNode(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byNode[nodeID]; exists {
		return nil
	}

	pos := position(Hash(nodeID))
	for _, e := range r.entries {
		if e.pos == pos && e.nodeID != nodeID {
			return fmt.Errorf("ring: hash collision between node %q and existing node %q", nodeID, e.nodeID)
		}
	}

	r.entries = append(r.entries, entry{pos: pos, nodeID: nodeID})
	sort.Slice(r.entries, func(i, j int) bool {
		return less(r.entries[i].pos, r.entries[j].pos)
	})
	r.byNode[nodeID] = pos
	return nil
}

// RemoveNode removes nodeID's position. No-op if absent.
func (r *Ring) RemoveNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byNode[nodeID]; !exists {
		return
	}
	delete(r.byNode, nodeID)

	filtered := r.entries[:0]
	for _, e := range r.entries {
		if e.nodeID != nodeID {
			filtered = append(filtered, e)
		}
	}
	r.entries = filtered
}

// HasNode reports whether nodeID currently holds a ring position.
func (r *Ring) HasNode(nodeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byNode[nodeID]
	return ok
}

// startIndex returns the index of the first entry whose position is >=
// h, wrapping to 0 if none exists. Caller must hold at least a read lock.
func (r *Ring) startIndex(h position) int {
	idx := sort.Search(len(r.entries), func(i int) bool {
		return !less(r.entries[i].pos, h)
	})
	if idx == len(r.entries) {
		idx = 0
	}
	return idx
}

// GetNodes returns up to count distinct node_ids responsible for key, in
// ring order starting at key's position. The result is empty if the
// ring is empty.
func (r *Ring) GetNodes(key string, count int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.entries) == 0 || count <= 0 {
		return nil
	}
	if count > len(r.entries) {
		count = len(r.entries)
	}

	h := position(Hash(key))
	start := r.startIndex(h)

	nodes := make([]string, 0, count)
	seen := make(map[string]bool, count)

	for i := 0; i < len(r.entries) && len(nodes) < count; i++ {
		idx := (start + i) % len(r.entries)
		nodeID := r.entries[idx].nodeID
		if !seen[nodeID] {
			seen[nodeID] = true
			nodes = append(nodes, nodeID)
		}
	}
	return nodes
}

// GetAllNodes returns every node_id currently on the ring. Order is
// unspecified.
func (r *Ring) GetAllNodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make([]string, 0, len(r.byNode))
	for nodeID := range r.byNode {
		nodes = append(nodes, nodeID)
	}
	return nodes
}

// Size returns the number of nodes on the ring.
func (r *Ring) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byNode)
}
