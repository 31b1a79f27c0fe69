// Package main implements the storage node: a master (and optionally backup)
// that enlists with the coordinator and serves tablets.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│                Node                     │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /health       - Health check         │
//	│    /data/*       - Tablet data          │
//	│    /recover      - Recovery assignment  │
//	│    /migrate      - Push a tablet away   │
//	│    /receive      - Accept a tablet      │
//	│    /info         - Node information     │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    Node          - Tablets, store, log  │
//	│    coordclient   - Coordinator RPCs     │
//	│    verify loop   - Membership check     │
//	└─────────────────────────────────────────┘
//
// Configuration comes from internal/config (environment over CONFIG_FILE):
//   - COORDINATOR_ADDR: Coordinator URL (required)
//   - NODE_LISTEN: Listen address (default: ":8081")
//   - NODE_ADDR: Locator advertised to the cluster
//   - NODE_SERVICES: e.g. "master,backup,membership,ping"
//   - NODE_REPLACES: Server id of the incarnation this process replaces
//   - NODE_VERIFY_INTERVAL: How often to confirm cluster membership
//
// Example usage:
//
//	NODE_LISTEN=:8081 \
//	NODE_ADDR=http://localhost:8081 \
//	COORDINATOR_ADDR=http://localhost:8080 \
//	./node
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreamware/tabletcoord/internal/cluster"
	"github.com/dreamware/tabletcoord/internal/config"
	"github.com/dreamware/tabletcoord/internal/coordclient"
	"github.com/dreamware/tabletcoord/internal/transport"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

// enlistAttempts and enlistDelay bound how long a node waits for the
// coordinator to come up.
var (
	enlistAttempts = 10
	enlistDelay    = 400 * time.Millisecond
)

func main() {
	cfg, err := config.LoadNode()
	if err != nil {
		logFatal("config: %v", err)
		return
	}

	driver := transport.NewHTTPDriver(cfg.RPCTimeout)
	defer driver.Close()
	session := transport.NewSession(driver, cfg.Coordinator,
		transport.SessionConfig{Timeout: cfg.RPCTimeout})
	defer session.Close()
	client := coordclient.New(session)
	node := NewNode(client, cfg.Addr, cfg.SegmentSize, cfg.RPCTimeout)

	s := &http.Server{
		Addr:              cfg.Listen,
		Handler:           node.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("node listening on %s (public %s)", cfg.Listen, cfg.Addr)
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := enlist(ctx, node, cfg); err != nil {
		logFatal("failed to enlist with coordinator: %v", err)
		return
	}
	go verifyLoop(ctx, node, cfg.VerifyInterval)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("node stopped")
}

// enlist registers the node with the coordinator, retrying while the
// coordinator is unreachable. A master then publishes recovery info for its
// first log segment.
func enlist(ctx context.Context, node *Node, cfg config.Node) error {
	var (
		id  cluster.ServerId
		err error
	)
	for i := 0; i < enlistAttempts; i++ {
		callCtx, cancel := context.WithTimeout(ctx, cfg.RPCTimeout)
		id, err = node.client.EnlistServer(callCtx, cfg.Replaces, cfg.Services, cfg.Addr, cfg.ReadSpeed)
		cancel()
		if err == nil {
			break
		}
		log.Printf("enlist retry %d: %v", i+1, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(enlistDelay):
		}
	}
	if err != nil {
		return err
	}

	node.setID(id)
	if cfg.Replaces.IsValid() {
		log.Printf("node[%s] enlisted with coordinator @ %s, replacing %s", id, cfg.Coordinator, cfg.Replaces)
	} else {
		log.Printf("node[%s] enlisted with coordinator @ %s", id, cfg.Coordinator)
	}

	if cfg.Services.Has(cluster.MasterService) {
		return node.publishRecoveryInfo(node.log.Head().SegmentId)
	}
	return nil
}

// verifyLoop confirms the node is still a cluster member every interval.
// A node the coordinator has excluded terminates itself; the loop ends if
// termination returns.
func verifyLoop(ctx context.Context, node *Node, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			callCtx, cancel := node.rpcContext()
			err := node.client.VerifyMembership(callCtx, node.ID())
			cancel()
			switch {
			case coordclient.IsCallerNotInCluster(err):
				return
			case err != nil:
				log.Printf("node[%s] membership check failed: %v", node.ID(), err)
			}
		}
	}
}
