// Package main implements the coordinator: the membership and tablet
// ownership authority that storage nodes talk to over /rpc.
//
// HTTP API:
//   - /rpc          - Coordinator protocol (binary frames)
//   - /health       - Health check
//   - /servers      - Every enlisted server
//   - /tablets      - The tablet map
//   - /recoveries   - Recoveries in progress
//   - /tables       - POST {"name": ..., "tablets": N} creates a table
//   - /data/{table}/{key} - Routed to the master owning the key
//
// Configuration:
//   - COORDINATOR_ADDR: Listen address (default: ":8080")
//   - HEALTH_INTERVAL: Time between health check rounds (default: 5s)
//   - HEALTH_MAX_FAILURES: Failed checks before a server is declared down (default: 3)
//   - CONFIG_FILE: Optional YAML file with the same settings
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dreamware/tabletcoord/internal/cluster"
	"github.com/dreamware/tabletcoord/internal/config"
	"github.com/dreamware/tabletcoord/internal/coordinator"
	"github.com/dreamware/tabletcoord/internal/transport"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

// recoveryRetryDelay is how long an undeliverable recovery assignment waits
// before it is given to another master.
var recoveryRetryDelay = time.Second

var allServices = cluster.NewServiceMask(
	cluster.MasterService, cluster.BackupService, cluster.MembershipService, cluster.PingService)

func main() {
	cfg, err := config.LoadCoordinator()
	if err != nil {
		logFatal("config: %v", err)
		return
	}
	srv := newServer(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.monitor.Start(ctx, func() cluster.ServerList { return srv.svc.Servers().List(allServices) })

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("coordinator listening on %s", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	srv.monitor.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	log.Println("coordinator stopped")
}

type server struct {
	svc     *coordinator.Service
	monitor *coordinator.HealthMonitor
}

func newServer(cfg config.Coordinator) *server {
	s := &server{monitor: coordinator.NewHealthMonitor(cfg.HealthInterval, cfg.HealthMaxFailures)}
	s.svc = coordinator.NewService(s.monitor, s.announceRecovery)
	s.monitor.SetOnUnhealthy(s.svc.ServerDown)
	return s
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(transport.RPCPath, transport.NewHTTPHandler(s.svc))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/servers", s.handleServers)
	mux.HandleFunc("/tablets", s.handleTablets)
	mux.HandleFunc("/tables", s.handleCreateTable)
	mux.HandleFunc("/recoveries", s.handleRecoveries)
	// Data routing endpoints
	mux.HandleFunc("/data/", s.handleData)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleServers lists every server the coordinator knows, crashed ones
// included.
func (s *server) handleServers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Servers cluster.ServerList `json:"servers"`
	}{Servers: s.svc.Servers().All()})
}

func (s *server) handleTablets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Tablets cluster.TabletMap `json:"tablets"`
	}{Tablets: s.svc.Tablets().Snapshot()})
}

func (s *server) handleRecoveries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Active  []coordinator.Recovery `json:"active"`
		Pending int                    `json:"pending"`
	}{Active: s.svc.Recoveries().Active(), Pending: s.svc.Recoveries().Pending()})
}

// CreateTableRequest is the body of POST /tables.
type CreateTableRequest struct {
	Name    string `json:"name"`
	Tablets int    `json:"tablets"`
}

// handleCreateTable creates a table spread over the current masters (admin
// operation).
func (s *server) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req CreateTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Tablets == 0 {
		req.Tablets = 1
	}

	id, err := s.svc.CreateTable(req.Name, req.Tablets)
	switch {
	case errors.Is(err, coordinator.ErrTableExists):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, coordinator.ErrNoMasters):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		TableId uint64 `json:"table_id"`
	}{TableId: id})
}

// handleData routes /data/{table}/{key} to the master owning the key.
func (s *server) handleData(w http.ResponseWriter, r *http.Request) {
	table, key, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/data/"), "/")
	if !ok || table == "" || key == "" {
		http.Error(w, "want /data/{table}/{key}", http.StatusBadRequest)
		return
	}

	tableId, err := s.svc.Tablets().TableId(table)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	tablet, err := s.svc.Tablets().Locate(tableId, cluster.KeyHash(key))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if tablet.Status != cluster.TabletNormal {
		http.Error(w, "tablet is recovering", http.StatusServiceUnavailable)
		return
	}
	owner, found := s.svc.Servers().Get(tablet.ServerId)
	if !found || owner.Status != cluster.ServerUp {
		http.Error(w, fmt.Sprintf("owner %s not available", tablet.ServerId), http.StatusServiceUnavailable)
		return
	}

	targetURL := fmt.Sprintf("%s/data/%d/%s", strings.TrimRight(owner.ServiceLocator, "/"), tableId, key)
	switch r.Method {
	case http.MethodGet, http.MethodPut, http.MethodDelete:
		s.forward(targetURL, w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// forward replays r against targetURL and copies the response back.
func (s *server) forward(targetURL string, w http.ResponseWriter, r *http.Request) {
	var body io.Reader
	if r.Method == http.MethodPut {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		body = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, r.Method, targetURL, body)
	if err != nil {
		http.Error(w, "failed to create request", http.StatusInternalServerError)
		return
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to forward request: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// announceRecovery posts an assignment to the recovery master's /recover
// endpoint. It runs with coordinator state locked, so the post happens on
// its own goroutine. An assignment that cannot be delivered is reported as
// failed, which hands it to another master.
func (s *server) announceRecovery(r coordinator.Recovery) {
	master, ok := s.svc.Servers().Get(r.Master)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		url := strings.TrimRight(master.ServiceLocator, "/") + "/recover"
		if err := cluster.PostJSON(ctx, url, r, nil); err != nil {
			log.Printf("coordinator: could not deliver recovery %d to %s: %v", r.Id, r.Master, err)
			time.Sleep(recoveryRetryDelay)
			s.svc.AbandonRecovery(r.Id, r.Master)
		}
	}()
}
