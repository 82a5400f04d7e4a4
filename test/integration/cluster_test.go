// +build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"testing"
	"time"
)

const (
	baseURL1 = "http://localhost:8001"
	baseURL2 = "http://localhost:8002"
	baseURL3 = "http://localhost:8003"
)

// TestClusterBasicOperations tests basic CRUD operations on a cluster
func TestClusterBasicOperations(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Start cluster
	cleanup := startCluster(t)
	defer cleanup()

	time.Sleep(3 * time.Second) // Wait for nodes to start

	// Test PUT on node 1
	resp := httpPut(t, baseURL1+"/keys/testkey", `{"value":"hello-world","consistency":"all"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT failed with status %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Test GET on node 2
	resp = httpGet(t, baseURL2+"/keys/testkey?consistency=quorum")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET failed with status %d", resp.StatusCode)
	}

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	resp.Body.Close()

	if result["value"] != "hello-world" {
		t.Errorf("Expected 'hello-world', got '%v'", result["value"])
	}

	// Test GET on node 3
	resp = httpGet(t, baseURL3+"/keys/testkey?consistency=quorum")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET on node 3 failed with status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

// TestClusterNodeFailure tests behavior when a node fails
func TestClusterNodeFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cleanup := startCluster(t)
	defer cleanup()

	time.Sleep(3 * time.Second)

	// Write data at quorum, so it lands on at least two of the three replicas.
	resp := httpPut(t, baseURL1+"/keys/failtest", `{"value":"before-failure","consistency":"quorum"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT failed with status %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Kill node 2 (simulate failure)
	stopNode(t, 2)
	time.Sleep(2 * time.Second)

	// Should still be able to read from node 1 and 3 at consistency one:
	// a one-read walks the replica set until some live replica returns
	// the value.
	resp = httpGet(t, baseURL1+"/keys/failtest?consistency=one")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET after failure should work with consistency one")
	}
	resp.Body.Close()

	resp = httpGet(t, baseURL3+"/keys/failtest?consistency=one")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET from node 3 after failure should work")
	}
	resp.Body.Close()

	// A one-consistency write only needs a single live replica.
	resp = httpPut(t, baseURL1+"/keys/afterfail", `{"value":"after-failure","consistency":"one"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT after failure should work with consistency one")
	}
	resp.Body.Close()
}

// TestClusterStatus tests the admin status endpoint
func TestClusterStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cleanup := startCluster(t)
	defer cleanup()

	time.Sleep(3 * time.Second)

	resp := httpGet(t, baseURL1+"/admin/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Status endpoint failed with status %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	var status map[string]interface{}
	json.Unmarshal(body, &status)

	if _, ok := status["node_id"]; !ok {
		t.Error("Status should contain node_id")
	}
	ringNodes, ok := status["hash_ring_nodes"].([]interface{})
	if !ok {
		t.Fatal("hash_ring_nodes should be a list of node_ids")
	}
	if len(ringNodes) != 3 {
		t.Errorf("hash_ring_nodes should list all 3 ring members, got %v", ringNodes)
	}
	clusterNodes, ok := status["cluster_nodes"].([]interface{})
	if !ok {
		t.Fatal("cluster_nodes should be a list of node_ids")
	}
	if len(clusterNodes) != 3 {
		t.Errorf("cluster_nodes should list all 3 peers, got %v", clusterNodes)
	}
}

// TestClusterManyKeys tests handling many keys
func TestClusterManyKeys(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cleanup := startCluster(t)
	defer cleanup()

	time.Sleep(3 * time.Second)

	// Write 100 keys
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%03d", i)
		value := fmt.Sprintf("value-%03d", i)
		resp := httpPut(t, baseURL1+"/keys/"+key, fmt.Sprintf(`{"value":"%s","consistency":"all"}`, value))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("PUT %s failed with status %d", key, resp.StatusCode)
		}
		resp.Body.Close()
	}

	// Read from different nodes
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%03d", i)
		expectedValue := fmt.Sprintf("value-%03d", i)

		// Alternate between nodes
		url := baseURL1
		if i%3 == 1 {
			url = baseURL2
		} else if i%3 == 2 {
			url = baseURL3
		}

		resp := httpGet(t, url+"/keys/"+key+"?consistency=one")
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s failed with status %d", key, resp.StatusCode)
			continue
		}

		var result map[string]interface{}
		json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()

		if result["value"] != expectedValue {
			t.Errorf("Key %s: expected '%s', got '%v'", key, expectedValue, result["value"])
		}
	}
}

// Helper functions

func startCluster(t *testing.T) func() {
	// Start node1 first so node2 and node3 have a seed to join through.
	cmds := []*exec.Cmd{
		exec.Command("go", "run", "../../cmd/node",
			"--node-id=node1", "--port=8001", "--replication-factor=3"),
		exec.Command("go", "run", "../../cmd/node",
			"--node-id=node2", "--port=8002", "--replication-factor=3",
			"--seed=127.0.0.1:8001"),
		exec.Command("go", "run", "../../cmd/node",
			"--node-id=node3", "--port=8003", "--replication-factor=3",
			"--seed=127.0.0.1:8001"),
	}

	for i, cmd := range cmds {
		if err := cmd.Start(); err != nil {
			t.Fatalf("starting node%d: %v", i+1, err)
		}
		if i == 0 {
			time.Sleep(500 * time.Millisecond) // give node1 a head start to bind its port
		}
	}

	return func() {
		for _, cmd := range cmds {
			if cmd.Process != nil {
				cmd.Process.Kill()
			}
		}
	}
}

func stopNode(t *testing.T, nodeNum int) {
	// Kill process on specific port
	cmd := exec.Command("lsof", "-t", fmt.Sprintf("-i:%d", 8000+nodeNum))
	output, _ := cmd.Output()
	if len(output) > 0 {
		exec.Command("kill", "-9", string(bytes.TrimSpace(output))).Run()
	}
}

func httpPut(t *testing.T, url string, body string) *http.Response {
	req, _ := http.NewRequest("PUT", url, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("HTTP PUT failed: %v", err)
	}
	return resp
}

func httpGet(t *testing.T, url string) *http.Response {
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("HTTP GET failed: %v", err)
	}
	return resp
}
