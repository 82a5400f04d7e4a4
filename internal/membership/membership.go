// Package membership implements the node's Peer Table and the join /
// notify_join protocol that keeps ring state eventually consistent
// across peers. It sits above internal/ring (which it mutates on
// join/notify) and below internal/coordinator (which reads peer
// addresses to issue replica RPCs).
package membership

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/ringkv/ringkv/internal/ring"
	"github.com/ringkv/ringkv/pkg/types"
)

// Membership tracks peer node_id -> address and keeps the hash ring in
// sync with it. A node_id present in the ring is always present in the
// peer table on the same node; the converse holds too, since the two
// are only ever mutated together.
type Membership struct {
	mu     sync.RWMutex
	peers  map[string]string // node_id -> address
	selfID string

	ring       *ring.Ring
	httpClient *http.Client
}

// New creates a Membership that starts out knowing only itself.
func New(selfID, selfAddress string, r *ring.Ring, requestTimeout time.Duration) *Membership {
	m := &Membership{
		peers:      make(map[string]string),
		selfID:     selfID,
		ring:       r,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
	m.peers[selfID] = selfAddress
	if err := r.AddNode(selfID); err != nil {
		// Self can only collide with itself here, which AddNode already
		// treats as a no-op; a non-nil error would mean a genuine MD5
		// collision with a node we haven't even heard of yet.
		log.Printf("[membership] unexpected error adding self to ring: %v", err)
	}
	return m
}

// SelfID returns this node's id.
func (m *Membership) SelfID() string {
	return m.selfID
}

// Address returns the address for nodeID, and whether it is known.
func (m *Membership) Address(nodeID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	addr, ok := m.peers[nodeID]
	return addr, ok
}

// Peers returns a snapshot of the peer table (node_id -> address).
func (m *Membership) Peers() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.peers))
	for id, addr := range m.peers {
		out[id] = addr
	}
	return out
}

// addLocked records (nodeID, address) in the peer table and ring. It
// reports whether the peer was newly learned, which callers use to
// make notify-fanout and join idempotent. Must be called holding m.mu.
func (m *Membership) addLocked(nodeID, address string) bool {
	if _, exists := m.peers[nodeID]; exists {
		return false
	}
	m.peers[nodeID] = address
	if err := m.ring.AddNode(nodeID); err != nil {
		log.Printf("[membership] ring collision adding %s: %v", nodeID, err)
	}
	return true
}

// Add idempotently records a peer. It is the entry point used by both
// the notify_join handler and join-table merges: a duplicate call is a
// no-op, as the spec requires.
func (m *Membership) Add(nodeID, address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(nodeID, address)
}

// HandleJoin implements step 2-4 of the join protocol on the node that
// receives a join request: record the joiner, best-effort notify every
// other known peer, and return the current peer table for the joiner
// to merge.
func (m *Membership) HandleJoin(nodeID, address string) map[string]string {
	m.mu.Lock()
	isNew := m.addLocked(nodeID, address)
	snapshot := make(map[string]string, len(m.peers))
	for id, addr := range m.peers {
		snapshot[id] = addr
	}
	m.mu.Unlock()

	if isNew {
		m.notifyOthers(nodeID, address, snapshot)
	}

	return snapshot
}

// notifyOthers best-effort, sequentially sends notify_join(nodeID,
// address) to every peer in snapshot except nodeID itself and self.
// Failures are logged and do not abort the join.
func (m *Membership) notifyOthers(nodeID, address string, snapshot map[string]string) {
	for peerID, peerAddr := range snapshot {
		if peerID == nodeID || peerID == m.selfID {
			continue
		}
		if err := m.sendNotifyJoin(peerAddr, nodeID, address); err != nil {
			log.Printf("[membership] notify_join to %s (%s) failed: %v", peerID, peerAddr, err)
		}
	}
}

func (m *Membership) sendNotifyJoin(peerAddress, nodeID, address string) error {
	body, err := json.Marshal(types.JoinRequest{NodeID: nodeID, Address: address})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/admin/notify_join", peerAddress)
	resp, err := m.httpClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notify_join returned status %d", resp.StatusCode)
	}
	return nil
}

// Join sends a join request to an existing cluster member at
// seedAddress and merges the returned peer table, skipping self and
// already-known entries (step 5 of the protocol).
func (m *Membership) Join(seedAddress string) error {
	body, err := json.Marshal(types.JoinRequest{NodeID: m.selfID, Address: m.selfAddress()})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/admin/join", seedAddress)
	resp, err := m.httpClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("join request to %s failed: %w", seedAddress, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading join response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("join request to %s returned status %d: %s", seedAddress, resp.StatusCode, data)
	}

	var joinResp types.JoinResponse
	if err := json.Unmarshal(data, &joinResp); err != nil {
		return fmt.Errorf("parsing join response: %w", err)
	}

	m.mu.Lock()
	for nodeID, addr := range joinResp.Peers {
		if nodeID == m.selfID {
			continue
		}
		m.addLocked(nodeID, addr)
	}
	m.mu.Unlock()

	return nil
}

func (m *Membership) selfAddress() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peers[m.selfID]
}
