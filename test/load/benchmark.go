// Command benchmark drives a running ring-kv node with a mixed
// read/write workload spread across the three consistency levels, so
// the reported latency/success breakdown shows the cost of each level
// rather than a single aggregate number.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var (
	target      = flag.String("target", "http://localhost:8001", "Target node URL")
	requests    = flag.Int("requests", 1000, "Total number of requests")
	concurrency = flag.Int("concurrency", 10, "Number of concurrent workers")
	ratio       = flag.Float64("write-ratio", 0.5, "Ratio of write operations (0-1)")
	keySpace    = flag.Int("key-space", 1000, "Number of unique keys")
)

var consistencyLevels = []string{"one", "quorum", "all"}

// levelStats accumulates per-consistency-level outcomes so the report
// can show whether "all" costs more latency or more failures than "one"
// on the target cluster, not just an aggregate across levels.
type levelStats struct {
	totalRequests  int64
	successfulReqs int64
	failedReqs     int64
	totalLatency   int64 // microseconds
	minLatency     int64
	maxLatency     int64
}

func newLevelStats() *levelStats {
	return &levelStats{minLatency: 999999999}
}

func (s *levelStats) record(latencyMicros int64, err error) {
	atomic.AddInt64(&s.totalRequests, 1)
	if err != nil {
		atomic.AddInt64(&s.failedReqs, 1)
		return
	}
	atomic.AddInt64(&s.successfulReqs, 1)
	atomic.AddInt64(&s.totalLatency, latencyMicros)

	for {
		old := atomic.LoadInt64(&s.minLatency)
		if latencyMicros >= old || atomic.CompareAndSwapInt64(&s.minLatency, old, latencyMicros) {
			break
		}
	}
	for {
		old := atomic.LoadInt64(&s.maxLatency)
		if latencyMicros <= old || atomic.CompareAndSwapInt64(&s.maxLatency, old, latencyMicros) {
			break
		}
	}
}

func main() {
	flag.Parse()

	fmt.Printf("ring-kv Load Tester\n")
	fmt.Printf("===================\n")
	fmt.Printf("Target: %s\n", *target)
	fmt.Printf("Requests: %d\n", *requests)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Write Ratio: %.1f%%\n", *ratio*100)
	fmt.Printf("Key Space: %d keys\n", *keySpace)
	fmt.Printf("Consistency Levels: %v (round-robin per request)\n\n", consistencyLevels)

	stats := make(map[string]*levelStats, len(consistencyLevels))
	for _, level := range consistencyLevels {
		stats[level] = newLevelStats()
	}

	work := make(chan int, *requests)
	for i := 0; i < *requests; i++ {
		work <- i
	}
	close(work)

	var completed int64
	var wg sync.WaitGroup
	startTime := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go worker(work, stats, &completed, &wg)
	}

	done := make(chan bool)
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				n := atomic.LoadInt64(&completed)
				fmt.Printf("\rProgress: %d/%d (%.1f%%)", n, *requests, float64(n)/float64(*requests)*100)
			}
		}
	}()

	wg.Wait()
	close(done)

	duration := time.Since(startTime)
	printReport(duration, stats)
}

func worker(work <-chan int, stats map[string]*levelStats, completed *int64, wg *sync.WaitGroup) {
	defer wg.Done()

	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	for i := range work {
		level := consistencyLevels[i%len(consistencyLevels)]
		key := fmt.Sprintf("key-%d", rand.Intn(*keySpace))
		isWrite := rand.Float64() < *ratio

		start := time.Now()
		var err error
		if isWrite {
			err = doPut(client, key, level)
		} else {
			err = doGet(client, key, level)
		}
		latency := time.Since(start).Microseconds()

		stats[level].record(latency, err)
		atomic.AddInt64(completed, 1)
	}
}

func doPut(client *http.Client, key, level string) error {
	url := fmt.Sprintf("%s/keys/%s", *target, key)
	body := map[string]string{
		"value":       fmt.Sprintf("value-%d-%d", time.Now().UnixNano(), rand.Int()),
		"consistency": level,
	}
	data, _ := json.Marshal(body)

	req, _ := http.NewRequest(http.MethodPut, url, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func doGet(client *http.Client, key, level string) error {
	url := fmt.Sprintf("%s/keys/%s?consistency=%s", *target, key, level)

	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	// 404 and 409 are expected outcomes of this workload (key absent, or
	// an "all" read catching replicas mid-write), not load-tester errors.
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNotFound, http.StatusConflict:
		return nil
	default:
		return fmt.Errorf("status %d", resp.StatusCode)
	}
}

func printReport(duration time.Duration, stats map[string]*levelStats) {
	fmt.Printf("\n\nResults\n")
	fmt.Printf("=======\n")
	fmt.Printf("Total Time: %v\n\n", duration)

	levels := make([]string, 0, len(stats))
	for level := range stats {
		levels = append(levels, level)
	}
	sort.Strings(levels)

	var grandTotal, grandSuccess int64
	for _, level := range levels {
		s := stats[level]
		total := atomic.LoadInt64(&s.totalRequests)
		success := atomic.LoadInt64(&s.successfulReqs)
		failed := atomic.LoadInt64(&s.failedReqs)
		grandTotal += total
		grandSuccess += success

		fmt.Printf("[%s]\n", level)
		fmt.Printf("  Requests:     %d\n", total)
		fmt.Printf("  Successful:   %d\n", success)
		fmt.Printf("  Failed:       %d\n", failed)
		if total > 0 {
			fmt.Printf("  Success Rate: %.2f%%\n", float64(success)/float64(total)*100)
		}
		if success > 0 {
			avg := time.Duration(atomic.LoadInt64(&s.totalLatency)/success) * time.Microsecond
			fmt.Printf("  Avg Latency:  %v\n", avg)
			fmt.Printf("  Min Latency:  %v\n", time.Duration(atomic.LoadInt64(&s.minLatency))*time.Microsecond)
			fmt.Printf("  Max Latency:  %v\n", time.Duration(atomic.LoadInt64(&s.maxLatency))*time.Microsecond)
		}
		fmt.Println()
	}

	fmt.Printf("Overall Requests/sec: %.2f\n", float64(grandTotal)/duration.Seconds())
	if grandTotal > 0 {
		fmt.Printf("Overall Success Rate: %.2f%%\n", float64(grandSuccess)/float64(grandTotal)*100)
	}
}
