package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringkv/ringkv/internal/membership"
	"github.com/ringkv/ringkv/internal/ring"
	"github.com/ringkv/ringkv/internal/store"
	"github.com/ringkv/ringkv/pkg/types"
)

// peerServer exposes a bare-bones /internal/store and /internal/delete
// implementation backed by its own Store, standing in for a full node's
// api server so the coordinator's outbound RPC paths can be exercised
// without pulling in the internal/api package.
type peerServer struct {
	store *store.Store
	srv   *httptest.Server
}

func newPeerServer(t *testing.T) *peerServer {
	t.Helper()
	p := &peerServer{store: store.New()}
	mux := http.NewServeMux()
	mux.HandleFunc("/internal/store/", func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/internal/store/")
		switch r.Method {
		case http.MethodGet:
			v, ok := p.store.Get(key)
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(types.InternalGetResponse{Key: key, Value: v})
		case http.MethodPut:
			var req types.InternalPutRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			p.store.Put(key, req.Value)
			w.WriteHeader(http.StatusOK)
		}
	})
	mux.HandleFunc("/internal/delete/", func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/internal/delete/")
		existed := p.store.Delete(key)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(types.InternalDeleteResponse{Deleted: existed})
	})
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *peerServer) addr() string {
	return p.srv.Listener.Addr().String()
}

// cluster builds a coordinator for "self" plus n-1 independent peer
// servers, all sharing one ring and membership view.
type cluster struct {
	self  *Coordinator
	store *store.Store
	peers map[string]*peerServer
}

func newCluster(t *testing.T, selfID string, peerIDs []string, rf int) *cluster {
	t.Helper()
	r := ring.New()
	mem := membership.New(selfID, "self-addr:0", r, time.Second)

	peers := make(map[string]*peerServer, len(peerIDs))
	for _, id := range peerIDs {
		ps := newPeerServer(t)
		peers[id] = ps
		mem.Add(id, ps.addr())
	}

	s := store.New()
	coord := New(selfID, rf, s, r, mem, 2*time.Second)
	return &cluster{self: coord, store: s, peers: peers}
}

func TestSingleNodeWriteRead(t *testing.T) {
	c := newCluster(t, "node1", nil, 1)
	ctx := context.Background()

	res := c.self.Put(ctx, "x", "1", types.ConsistencyOne)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.SuccessfulReplicas)
	assert.Equal(t, 1, res.AttemptedReplicas)

	read := c.self.Get(ctx, "x", types.ConsistencyOne)
	assert.True(t, read.Found)
	assert.Equal(t, "1", read.Value)
	assert.Equal(t, "node1", read.SourceNode)
}

func TestThreeNodeQuorumWrite(t *testing.T) {
	c := newCluster(t, "node1", []string{"node2", "node3"}, 3)
	ctx := context.Background()

	res := c.self.Put(ctx, "user1", "Alice", types.ConsistencyQuorum)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.SuccessfulReplicas)
	assert.Equal(t, 2, res.AttemptedReplicas)
	assert.Equal(t, 3, res.TotalPossibleReplicas)

	read := c.self.Get(ctx, "user1", types.ConsistencyQuorum)
	assert.True(t, read.Found)
	assert.Equal(t, "Alice", read.Value)
}

func TestAllConsistencyConflict(t *testing.T) {
	c := newCluster(t, "node1", []string{"node2", "node3"}, 3)

	// Bypass the coordinator and write different values directly to two
	// replicas, the way the spec's scenario 3 sets up a disagreement.
	c.store.Put("x", "from-node1")
	c.peers["node2"].store.Put("x", "from-node2")

	read := c.self.Get(context.Background(), "x", types.ConsistencyAll)
	assert.True(t, read.Found)
	assert.True(t, read.Conflict)
	assert.Len(t, read.ConflictValues, 2)
}

func TestGetOneNotFoundOnEmptyCluster(t *testing.T) {
	c := newCluster(t, "node1", nil, 1)
	read := c.self.Get(context.Background(), "missing", types.ConsistencyOne)
	assert.False(t, read.Found)
}

func TestQuorumWriteFailsWhenOneOfTwoTargetsFails(t *testing.T) {
	// RF=3 but only node2 and node3 are registered; node1 (self) never
	// added itself to the ring here to model "node1 never in ring" from
	// scenario 6. Quorum of a 2-node replica set is 2, so a single
	// failure must fail the write.
	r := ring.New()
	mem := membership.New("node1", "self-addr:0", r, time.Second)
	// Remove self from the ring to emulate "node1 never in ring".
	r.RemoveNode("node1")

	live := newPeerServer(t)
	mem.Add("node2", live.addr())
	// node3 is known but its address points at nothing listening.
	mem.Add("node3", "127.0.0.1:1")
	r.AddNode("node2")
	r.AddNode("node3")

	s := store.New()
	coord := New("node1", 3, s, r, mem, 300*time.Millisecond)

	res := coord.Put(context.Background(), "k", "v", types.ConsistencyQuorum)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.SuccessfulReplicas)
	assert.Equal(t, 2, res.AttemptedReplicas)
	assert.Len(t, res.Errors, 1)
}

func TestUnknownConsistencyAlwaysFails(t *testing.T) {
	c := newCluster(t, "node1", []string{"node2"}, 2)
	res := c.self.Put(context.Background(), "k", "v", types.ConsistencyUnknown)
	assert.False(t, res.Success)
}

func TestDeleteThenGetAllNotFound(t *testing.T) {
	c := newCluster(t, "node1", []string{"node2", "node3"}, 3)
	ctx := context.Background()

	require.True(t, c.self.Put(ctx, "k", "v", types.ConsistencyAll).Success)
	del := c.self.Delete(ctx, "k", types.ConsistencyAll)
	assert.True(t, del.Success)

	read := c.self.Get(ctx, "k", types.ConsistencyAll)
	assert.False(t, read.Found)
}
