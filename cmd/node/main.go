// Command node boots a single ring-kv node: it wires the Local Store,
// Hash Ring, Membership, and Coordinator together, optionally joins an
// existing cluster through a seed address, and serves the RPC Surface
// over HTTP until interrupted.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ringkv/ringkv/internal/api"
	"github.com/ringkv/ringkv/internal/config"
	"github.com/ringkv/ringkv/internal/coordinator"
	"github.com/ringkv/ringkv/internal/membership"
	"github.com/ringkv/ringkv/internal/ring"
	"github.com/ringkv/ringkv/internal/store"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()
	var seed string

	root := &cobra.Command{
		Use:     "node",
		Short:   "Run a ring-kv cluster node",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg, seed)
		},
	}

	flags := root.Flags()
	flags.StringVar(&cfg.NodeID, "node-id", cfg.NodeID, "unique node id within the cluster")
	flags.StringVar(&cfg.Host, "host", cfg.Host, "listen/advertise host")
	flags.IntVar(&cfg.Port, "port", cfg.Port, "listen/advertise port")
	flags.IntVar(&cfg.ReplicationFactor, "replication-factor", cfg.ReplicationFactor, "number of replicas per key")
	flags.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "per-RPC timeout for peer calls")
	flags.StringVar(&seed, "seed", "", "address of an existing cluster member to join on startup")

	return root
}

func run(cfg *config.Config, seed string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	s := store.New()
	r := ring.New()
	mem := membership.New(cfg.NodeID, cfg.Address(), r, cfg.RequestTimeout)
	coord := coordinator.New(cfg.NodeID, cfg.ReplicationFactor, s, r, mem, cfg.RequestTimeout)
	srv := api.NewServer(cfg, s, r, mem, coord)

	if seed != "" {
		if err := mem.Join(seed); err != nil {
			return fmt.Errorf("joining %s: %w", seed, err)
		}
		log.Printf("joined cluster via %s", seed)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("node %s listening on %s", cfg.NodeID, cfg.Address())
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Println("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Stop(ctx)
	}
}
