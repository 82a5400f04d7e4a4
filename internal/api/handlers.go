package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"

	"github.com/ringkv/ringkv/pkg/types"
)

const maxBodyBytes = 1 << 20 // 1MB, generous for a string value

// putRequestBody is the wire body of PUT /keys/{key}. Value is kept as
// raw JSON so the response can echo back the caller's original type
// (§9: "the JSON type of value in responses reflects the input type,
// while stored values are always strings").
type putRequestBody struct {
	Value       json.RawMessage `json:"value"`
	Consistency string          `json:"consistency,omitempty"`
}

type getResponseBody struct {
	Key              string   `json:"key"`
	Value            string   `json:"value"`
	ConsistencyLevel string   `json:"consistency_level"`
	SourceNode       string   `json:"source_node,omitempty"`
	SourceNodes      []string `json:"source_nodes,omitempty"`
	QueriedNode      string   `json:"queried_node"`
}

type writeResponseBody struct {
	Key                   string              `json:"key"`
	Value                 json.RawMessage     `json:"value,omitempty"`
	SuccessfulReplicas    int                 `json:"successful_replicas"`
	AttemptedReplicas     int                 `json:"attempted_replicas"`
	TotalPossibleReplicas int                 `json:"total_possible_replicas"`
	ConsistencyLevel      string              `json:"consistency_level"`
	CoordinatedBy         string              `json:"coordinated_by"`
	Errors                []types.ReplicaError `json:"errors,omitempty"`
}

type deleteResponseBody struct {
	Message               string              `json:"message"`
	SuccessfulReplicas    int                 `json:"successful_replicas"`
	AttemptedReplicas     int                 `json:"attempted_replicas"`
	TotalPossibleReplicas int                 `json:"total_possible_replicas"`
	ConsistencyLevel      string              `json:"consistency_level"`
	CoordinatedBy         string              `json:"coordinated_by"`
	Errors                []types.ReplicaError `json:"errors,omitempty"`
}

type peersResponseBody struct {
	Peers map[string]string `json:"peers"`
}

type statusResponseBody struct {
	NodeID            string   `json:"node_id"`
	Address           string   `json:"address"`
	LocalKeys         int      `json:"local_keys"`
	ClusterNodes      []string `json:"cluster_nodes"`
	AllKeysSample     []string `json:"all_keys_sample"`
	HashRingNodes     []string `json:"hash_ring_nodes"`
	ReplicationFactor int      `json:"replication_factor"`
}

// handleHealth is a liveness probe, not part of the wire protocol.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "node_id": s.config.NodeID})
}

// parseConsistency resolves the consistency query/body parameter,
// applying def when it is absent. An unrecognized non-empty value
// resolves to ConsistencyUnknown, not def — §4.4.1's "any other string"
// rule.
func parseConsistency(raw string, def types.ConsistencyLevel) types.ConsistencyLevel {
	if raw == "" {
		return def
	}
	return types.ParseConsistencyLevel(raw)
}

// coerceValueToString implements §9's value-coercion rule: a JSON
// string is used verbatim; any other scalar (number, bool) round-trips
// as its literal JSON text.
func coerceValueToString(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", fmt.Errorf("value is required")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	return trimmed, nil
}

// handleGet implements GET /keys/{key}.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	level := parseConsistency(r.URL.Query().Get("consistency"), types.ConsistencyOne)

	result := s.coordinator.Get(r.Context(), key, level)
	if !result.Found {
		writeError(w, http.StatusNotFound, "key not found", map[string]interface{}{
			"key": key,
		})
		return
	}
	if result.Conflict {
		writeError(w, http.StatusConflict, "replicas disagree on value", map[string]interface{}{
			"key":    key,
			"values": result.ConflictValues,
		})
		return
	}

	writeJSON(w, http.StatusOK, getResponseBody{
		Key:              key,
		Value:            result.Value,
		ConsistencyLevel: result.Consistency.String(),
		SourceNode:       result.SourceNode,
		SourceNodes:      result.SourceNodes,
		QueriedNode:      result.QueriedNode,
	})
}

// handlePut implements PUT /keys/{key}.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", nil)
		return
	}
	defer r.Body.Close()

	var req putRequestBody
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body", nil)
		return
	}

	value, err := coerceValueToString(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	level := parseConsistency(req.Consistency, types.ConsistencyQuorum)

	result := s.coordinator.Put(r.Context(), key, value, level)
	resp := writeResponseBody{
		Key:                   key,
		Value:                 req.Value,
		SuccessfulReplicas:    result.SuccessfulReplicas,
		AttemptedReplicas:     result.AttemptedReplicas,
		TotalPossibleReplicas: result.TotalPossibleReplicas,
		ConsistencyLevel:      result.Consistency.String(),
		CoordinatedBy:         result.CoordinatedBy,
		Errors:                result.Errors,
	}

	if !result.Success {
		writeError(w, http.StatusInternalServerError, "required replicas did not all succeed", map[string]interface{}{
			"key":                     resp.Key,
			"successful_replicas":     resp.SuccessfulReplicas,
			"attempted_replicas":      resp.AttemptedReplicas,
			"total_possible_replicas": resp.TotalPossibleReplicas,
			"consistency_level":       resp.ConsistencyLevel,
			"errors":                  resp.Errors,
		})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleDelete implements DELETE /keys/{key}.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	level := parseConsistency(r.URL.Query().Get("consistency"), types.ConsistencyQuorum)

	result := s.coordinator.Delete(r.Context(), key, level)
	resp := deleteResponseBody{
		Message:               "deleted",
		SuccessfulReplicas:    result.SuccessfulReplicas,
		AttemptedReplicas:     result.AttemptedReplicas,
		TotalPossibleReplicas: result.TotalPossibleReplicas,
		ConsistencyLevel:      result.Consistency.String(),
		CoordinatedBy:         result.CoordinatedBy,
		Errors:                result.Errors,
	}

	if !result.Success {
		writeError(w, http.StatusInternalServerError, "required replicas did not all succeed", map[string]interface{}{
			"key":                     key,
			"successful_replicas":     resp.SuccessfulReplicas,
			"attempted_replicas":      resp.AttemptedReplicas,
			"total_possible_replicas": resp.TotalPossibleReplicas,
			"consistency_level":       resp.ConsistencyLevel,
			"errors":                  resp.Errors,
		})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleInternalGet implements GET /internal/store/{key}: a local-only
// read that never consults the coordinator and so never recurses.
func (s *Server) handleInternalGet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	value, ok := s.store.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, "key not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, types.InternalGetResponse{Key: key, Value: value})
}

// handleInternalPut implements PUT /internal/store/{key}: an
// unconditional local-only write.
func (s *Server) handleInternalPut(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var req types.InternalPutRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body", nil)
		return
	}
	defer r.Body.Close()

	s.store.Put(key, req.Value)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInternalDelete implements DELETE /internal/delete/{key}: a
// local-only delete reporting whether the key existed.
func (s *Server) handleInternalDelete(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	existed := s.store.Delete(key)
	writeJSON(w, http.StatusOK, types.InternalDeleteResponse{Deleted: existed})
}

// handleJoin implements POST /admin/join: the join protocol's receiving
// side (steps 2-4).
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req types.JoinRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body", nil)
		return
	}
	defer r.Body.Close()

	if req.NodeID == "" || req.Address == "" {
		writeError(w, http.StatusBadRequest, "node_id and address are required", nil)
		return
	}

	peers := s.membership.HandleJoin(req.NodeID, req.Address)
	writeJSON(w, http.StatusOK, types.JoinResponse{Peers: peers})
}

// handleNotifyJoin implements POST /admin/notify_join: an idempotent
// learn-about-peer call.
func (s *Server) handleNotifyJoin(w http.ResponseWriter, r *http.Request) {
	var req types.JoinRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body", nil)
		return
	}
	defer r.Body.Close()

	if req.NodeID == "" || req.Address == "" {
		writeError(w, http.StatusBadRequest, "node_id and address are required", nil)
		return
	}

	s.membership.Add(req.NodeID, req.Address)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handlePeers implements GET /admin/peers.
func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, peersResponseBody{Peers: s.membership.Peers()})
}

// handleStatus implements GET /admin/status. Per §4.2's "get_all_nodes()
// for observability", cluster_nodes and hash_ring_nodes are reported as
// the node_id lists themselves, not counts.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	keys := s.store.Keys()
	sort.Strings(keys)
	if len(keys) > 10 {
		keys = keys[:10]
	}

	peers := s.membership.Peers()
	clusterNodes := make([]string, 0, len(peers))
	for nodeID := range peers {
		clusterNodes = append(clusterNodes, nodeID)
	}
	sort.Strings(clusterNodes)

	ringNodes := s.ring.GetAllNodes()
	sort.Strings(ringNodes)

	writeJSON(w, http.StatusOK, statusResponseBody{
		NodeID:            s.config.NodeID,
		Address:           s.config.Address(),
		LocalKeys:         s.store.Size(),
		ClusterNodes:      clusterNodes,
		AllKeysSample:     keys,
		HashRingNodes:     ringNodes,
		ReplicationFactor: s.config.ReplicationFactor,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError writes a JSON error response: {error, ...details}, per
// §6's "Response body on error" rule.
func writeError(w http.ResponseWriter, status int, message string, details map[string]interface{}) {
	body := map[string]interface{}{"error": message}
	for k, v := range details {
		body[k] = v
	}
	writeJSON(w, status, body)
}
