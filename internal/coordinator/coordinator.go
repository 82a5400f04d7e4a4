// Package coordinator implements the replication engine: it fans client
// operations out to a key's replica set and evaluates success against
// the caller-chosen consistency level. It is the most complex component
// in the system and depends on all three of the layers beneath it
// (internal/store, internal/ring, internal/membership).
package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ringkv/ringkv/internal/membership"
	"github.com/ringkv/ringkv/internal/ring"
	"github.com/ringkv/ringkv/internal/store"
	"github.com/ringkv/ringkv/pkg/types"
)

// Coordinator executes client PUT/GET/DELETE requests on behalf of the
// node that received them.
type Coordinator struct {
	selfID            string
	replicationFactor int

	store      *store.Store
	ring       *ring.Ring
	membership *membership.Membership
	httpClient *http.Client
}

// New creates a Coordinator. store, r, and mem are shared collaborators
// held by reference, not owned singletons — §9's "cyclic / shared
// ownership" note.
func New(selfID string, replicationFactor int, s *store.Store, r *ring.Ring, mem *membership.Membership, requestTimeout time.Duration) *Coordinator {
	return &Coordinator{
		selfID:            selfID,
		replicationFactor: replicationFactor,
		store:             s,
		ring:              r,
		membership:        mem,
		httpClient:        &http.Client{Timeout: requestTimeout},
	}
}

func (c *Coordinator) replicaSet(key string) []string {
	return c.ring.GetNodes(key, c.replicationFactor)
}

// WriteResult is the outcome of a PUT or DELETE, carrying everything the
// API layer needs to build the client-facing response.
type WriteResult struct {
	Success               bool
	SuccessfulReplicas    int
	AttemptedReplicas     int
	TotalPossibleReplicas int
	Consistency           types.ConsistencyLevel
	CoordinatedBy         string
	Errors                []types.ReplicaError
}

// selectWriteTargets implements §4.4.1's target-selection table. It
// returns the nodes to fan out to and the number of successes required
// for the operation to be reported successful.
func selectWriteTargets(level types.ConsistencyLevel, replicas []string) (target []string, required int) {
	n := len(replicas)
	switch level {
	case types.ConsistencyOne:
		required = 1
		if n > 1 {
			target = replicas[:1]
		} else {
			target = replicas
		}
	case types.ConsistencyAll:
		required = n
		target = replicas
	default: // Quorum and Unknown both prune to the quorum target list.
		required = types.Quorum(n)
		if required > n {
			required = n
		}
		target = replicas[:required]
	}
	return target, required
}

// writeSucceeded implements the consistency evaluation in §4.4.1.
func writeSucceeded(level types.ConsistencyLevel, successful, attempted int) bool {
	switch level {
	case types.ConsistencyOne:
		return successful >= 1
	case types.ConsistencyQuorum, types.ConsistencyAll:
		return successful == attempted
	default:
		return false
	}
}

// Put replicates a PUT to the target replicas for key under the given
// consistency level.
func (c *Coordinator) Put(ctx context.Context, key, value string, level types.ConsistencyLevel) *WriteResult {
	return c.write(ctx, key, level, func(ctx context.Context, nodeID string) error {
		return c.applyPut(ctx, nodeID, key, value)
	})
}

// Delete replicates a DELETE to the target replicas for key under the
// given consistency level.
func (c *Coordinator) Delete(ctx context.Context, key string, level types.ConsistencyLevel) *WriteResult {
	return c.write(ctx, key, level, func(ctx context.Context, nodeID string) error {
		return c.applyDelete(ctx, nodeID, key)
	})
}

// write runs the shared target-selection / fan-out / consistency-check
// pipeline for PUT and DELETE; apply performs the operation against a
// single replica (local or remote).
func (c *Coordinator) write(ctx context.Context, key string, level types.ConsistencyLevel, apply func(ctx context.Context, nodeID string) error) *WriteResult {
	replicas := c.replicaSet(key)
	target, required := selectWriteTargets(level, replicas)

	var (
		mu         sync.Mutex
		successful int
		errs       []types.ReplicaError
		wg         sync.WaitGroup
	)

	for _, nodeID := range target {
		wg.Add(1)
		go func(nodeID string) {
			defer wg.Done()
			err := apply(ctx, nodeID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, types.ReplicaError{NodeID: nodeID, Error: err.Error()})
				return
			}
			successful++
		}(nodeID)
	}
	wg.Wait()

	_ = required // required is implied by len(target); kept for readability at call sites
	sortReplicaErrors(errs)

	return &WriteResult{
		Success:               writeSucceeded(level, successful, len(target)),
		SuccessfulReplicas:    successful,
		AttemptedReplicas:     len(target),
		TotalPossibleReplicas: len(replicas),
		Consistency:           level,
		CoordinatedBy:         c.selfID,
		Errors:                errs,
	}
}

func sortReplicaErrors(errs []types.ReplicaError) {
	sort.Slice(errs, func(i, j int) bool { return errs[i].NodeID < errs[j].NodeID })
}

func (c *Coordinator) applyPut(ctx context.Context, nodeID, key, value string) error {
	if nodeID == c.selfID {
		c.store.Put(key, value)
		return nil
	}
	addr, ok := c.membership.Address(nodeID)
	if !ok {
		return fmt.Errorf("peer %s not found in peer table", nodeID)
	}
	return c.remotePut(ctx, addr, key, value)
}

func (c *Coordinator) applyDelete(ctx context.Context, nodeID, key string) error {
	if nodeID == c.selfID {
		c.store.Delete(key)
		return nil
	}
	addr, ok := c.membership.Address(nodeID)
	if !ok {
		return fmt.Errorf("peer %s not found in peer table", nodeID)
	}
	return c.remoteDelete(ctx, addr, key)
}

func (c *Coordinator) remotePut(ctx context.Context, addr, key, value string) error {
	body, err := json.Marshal(types.InternalPutRequest{Value: value})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("http://%s/internal/store/%s", addr, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remote PUT to %s returned status %d", addr, resp.StatusCode)
	}
	return nil
}

func (c *Coordinator) remoteDelete(ctx context.Context, addr, key string) error {
	url := fmt.Sprintf("http://%s/internal/delete/%s", addr, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remote DELETE to %s returned status %d", addr, resp.StatusCode)
	}
	return nil
}

// remoteGet issues GET /internal/store/{key} to addr. found is false
// (with a nil error) on a 404; a non-nil error represents any other
// failure (transport, non-200/404 status) and is, per §4.4.2, treated
// identically to "no value from this replica" by callers.
func (c *Coordinator) remoteGet(ctx context.Context, addr, key string) (value string, found bool, err error) {
	url := fmt.Sprintf("http://%s/internal/store/%s", addr, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", false, fmt.Errorf("remote GET to %s returned status %d", addr, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, err
	}
	var parsed types.InternalGetResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", false, err
	}
	return parsed.Value, true, nil
}

// fetch reads key from nodeID, whether local or remote, collapsing
// every failure mode into found=false (the read path never aborts on a
// single replica's failure).
func (c *Coordinator) fetch(ctx context.Context, nodeID, key string) (value string, found bool) {
	if nodeID == c.selfID {
		v, ok := c.store.Get(key)
		return v, ok
	}
	addr, ok := c.membership.Address(nodeID)
	if !ok {
		return "", false
	}
	v, found, err := c.remoteGet(ctx, addr, key)
	if err != nil {
		return "", false
	}
	return v, found
}
