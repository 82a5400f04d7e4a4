package coordinator

import (
	"context"
	"sort"
	"sync"

	"github.com/ringkv/ringkv/pkg/types"
)

// ReadResult is the outcome of a GET, carrying everything the API layer
// needs to build the client-facing response.
type ReadResult struct {
	Found       bool
	Value       string
	Consistency types.ConsistencyLevel
	QueriedNode string

	// SourceNode is set when exactly one replica's response backs the
	// returned value (consistency "one").
	SourceNode string
	// SourceNodes is set for consistency "quorum" or "all": every replica
	// whose response backs the returned value (possibly just one).
	SourceNodes []string

	// Conflict is true only for an "all" read where replicas disagree.
	Conflict        bool
	ConflictValues  map[string][]string // value -> source nodes, for the 409 body
}

type sourcedValue struct {
	value  string
	source string
}

// Get implements §4.4.2's three read paths.
func (c *Coordinator) Get(ctx context.Context, key string, level types.ConsistencyLevel) *ReadResult {
	replicas := c.replicaSet(key)

	switch level {
	case types.ConsistencyOne:
		return c.getOne(ctx, key, replicas)
	case types.ConsistencyAll:
		return c.getAll(ctx, key, replicas)
	default: // Quorum and Unknown read as quorum; an unknown level still
		// needs a value to report even though writes under it always fail.
		return c.getQuorum(ctx, key, replicas)
	}
}

// getOne tries the local store first when self is a replica for key,
// then falls back to walking replicas in ring order per §4.4.2.
func (c *Coordinator) getOne(ctx context.Context, key string, replicas []string) *ReadResult {
	for _, nodeID := range replicas {
		if nodeID != c.selfID {
			continue
		}
		if value, found := c.store.Get(key); found {
			return &ReadResult{
				Found:       true,
				Value:       value,
				Consistency: types.ConsistencyOne,
				QueriedNode: c.selfID,
				SourceNode:  c.selfID,
			}
		}
		break
	}

	for _, nodeID := range replicas {
		if value, found := c.fetch(ctx, nodeID, key); found {
			return &ReadResult{
				Found:       true,
				Value:       value,
				Consistency: types.ConsistencyOne,
				QueriedNode: c.selfID,
				SourceNode:  nodeID,
			}
		}
	}
	return &ReadResult{Found: false, Consistency: types.ConsistencyOne, QueriedNode: c.selfID}
}

// getQuorum walks replicas in ring order, stopping once floor(n/2)+1
// values have been collected or replicas is exhausted, then returns the
// most frequent collected value (ties broken by first-seen order).
func (c *Coordinator) getQuorum(ctx context.Context, key string, replicas []string) *ReadResult {
	required := types.Quorum(len(replicas))

	var collected []sourcedValue
	for _, nodeID := range replicas {
		if value, found := c.fetch(ctx, nodeID, key); found {
			collected = append(collected, sourcedValue{value: value, source: nodeID})
			if len(collected) >= required {
				break
			}
		}
	}

	if len(collected) == 0 {
		return &ReadResult{Found: false, Consistency: types.ConsistencyQuorum, QueriedNode: c.selfID}
	}

	winner, sources := mostFrequent(collected)
	return &ReadResult{
		Found:       true,
		Value:       winner,
		Consistency: types.ConsistencyQuorum,
		QueriedNode: c.selfID,
		SourceNodes: sources,
	}
}

// mostFrequent returns the most common value among collected (ties
// broken by first-seen order) and the list of source nodes that
// reported it, in the order they were collected.
func mostFrequent(collected []sourcedValue) (string, []string) {
	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	for i, sv := range collected {
		counts[sv.value]++
		if _, ok := firstSeen[sv.value]; !ok {
			firstSeen[sv.value] = i
		}
	}

	best := collected[0].value
	for value, count := range counts {
		if count > counts[best] || (count == counts[best] && firstSeen[value] < firstSeen[best]) {
			best = value
		}
	}

	var sources []string
	for _, sv := range collected {
		if sv.value == best {
			sources = append(sources, sv.source)
		}
	}
	return best, sources
}

// getAll queries every replica in parallel (no early exit) and reports
// either the agreed value or a conflict across distinct values.
func (c *Coordinator) getAll(ctx context.Context, key string, replicas []string) *ReadResult {
	type response struct {
		idx    int
		value  string
		found  bool
		source string
	}

	responses := make([]response, len(replicas))
	var wg sync.WaitGroup
	for i, nodeID := range replicas {
		wg.Add(1)
		go func(i int, nodeID string) {
			defer wg.Done()
			value, found := c.fetch(ctx, nodeID, key)
			responses[i] = response{idx: i, value: value, found: found, source: nodeID}
		}(i, nodeID)
	}
	wg.Wait()

	var present []response
	for _, r := range responses {
		if r.found {
			present = append(present, r)
		}
	}
	sort.Slice(present, func(i, j int) bool { return present[i].idx < present[j].idx })

	if len(present) == 0 {
		return &ReadResult{Found: false, Consistency: types.ConsistencyAll, QueriedNode: c.selfID}
	}

	distinct := map[string][]string{}
	for _, r := range present {
		distinct[r.value] = append(distinct[r.value], r.source)
	}

	if len(distinct) == 1 {
		var sources []string
		for _, r := range present {
			sources = append(sources, r.source)
		}
		return &ReadResult{
			Found:       true,
			Value:       present[0].value,
			Consistency: types.ConsistencyAll,
			QueriedNode: c.selfID,
			SourceNodes: sources,
		}
	}

	return &ReadResult{
		Found:          true,
		Consistency:    types.ConsistencyAll,
		QueriedNode:    c.selfID,
		Conflict:       true,
		ConflictValues: distinct,
	}
}
