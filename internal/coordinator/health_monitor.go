package coordinator

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dreamware/tabletcoord/internal/cluster"
)

// HealthStatus is the monitor's opinion of a server.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// ServerHealth tracks the health of a single enlisted server.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type ServerHealth struct {
	LastCheck        time.Time        // Timestamp of the last health check attempt
	LastHealthy      time.Time        // Timestamp of the last successful health check
	ServerId         cluster.ServerId // Server being tracked
	Status           HealthStatus     // Current status
	ConsecutiveFails int              // Number of consecutive failed health checks
}

// HealthMonitor periodically pings every up server and reports the ones that
// stop answering. It is also what the coordinator uses to double-check a
// HintServerDown before acting on it.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	servers     map[cluster.ServerId]*ServerHealth // Current health status per server
	httpClient  *http.Client                       // HTTP client for health checks
	checkFunc   func(locator string) error         // Function to perform health check
	onUnhealthy func(id cluster.ServerId)          // Callback when a server becomes unhealthy
	ctx         context.Context                    // Context for cancellation
	cancel      context.CancelFunc                 // Cancel function for shutdown
	interval    time.Duration                      // How often to check server health
	timeout     time.Duration                      // HTTP timeout for health checks
	mu          sync.RWMutex                       // Protects servers map
	wg          sync.WaitGroup                     // Wait group for graceful shutdown
	maxFailures int                                // Failures before marking unhealthy
}

// NewHealthMonitor creates a health monitor that checks every server each
// interval and gives up on one after maxFailures consecutive failures.
// A maxFailures below 1 means 3.
//
// Example:
//
//	monitor := NewHealthMonitor(5*time.Second, 3)
//	monitor.SetOnUnhealthy(svc.ServerDown)
//	go monitor.Start(ctx, func() cluster.ServerList { return servers.List(all) })
func NewHealthMonitor(interval time.Duration, maxFailures int) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	if maxFailures < 1 {
		maxFailures = 3
	}

	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: maxFailures,
		servers:     make(map[cluster.ServerId]*ServerHealth),
		httpClient: &http.Client{
			Timeout: 2 * time.Second,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetOnUnhealthy sets the callback invoked, on its own goroutine, when a
// server is first marked unhealthy.
func (h *HealthMonitor) SetOnUnhealthy(callback func(id cluster.ServerId)) {
	h.onUnhealthy = callback
}

// SetCheckFunction overrides the default HTTP check. Useful for tests.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(locator string) error) {
	h.checkFunc = checkFunc
}

func (h *HealthMonitor) check(locator string) error {
	if h.checkFunc == nil {
		return h.defaultHealthCheck(locator)
	}
	return h.checkFunc(locator)
}

// Start runs health checks until ctx or the monitor is stopped. It blocks,
// so run it on its own goroutine.
//
// Parameters:
//   - ctx: Context for cancellation; nil means the monitor's own
//   - serverProvider: Returns the servers to check on each round
func (h *HealthMonitor) Start(ctx context.Context, serverProvider func() cluster.ServerList) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	log.Printf("health monitor started with interval %v", h.interval)

	h.checkAll(serverProvider())

	for {
		select {
		case <-ticker.C:
			h.checkAll(serverProvider())
		case <-ctx.Done():
			log.Println("health monitor stopping due to context cancellation")
			return
		case <-h.ctx.Done():
			log.Println("health monitor stopping due to internal cancellation")
			return
		}
	}
}

// Stop cancels the monitoring goroutine and waits for it to finish.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
	log.Println("health monitor stopped")
}

// checkAll checks every server in the list and forgets the ones that are
// no longer in it.
func (h *HealthMonitor) checkAll(servers cluster.ServerList) {
	current := make(map[cluster.ServerId]bool, len(servers))
	for _, s := range servers {
		current[s.ServerId] = true
		h.checkServer(s)
	}

	h.mu.Lock()
	for id := range h.servers {
		if !current[id] {
			delete(h.servers, id)
			log.Printf("removed server %s from health monitoring", id)
		}
	}
	h.mu.Unlock()
}

// record returns the health record of id, creating it if needed.
func (h *HealthMonitor) record(id cluster.ServerId) *ServerHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	health, exists := h.servers[id]
	if !exists {
		now := time.Now()
		health = &ServerHealth{
			ServerId:    id,
			Status:      HealthUnknown,
			LastCheck:   now,
			LastHealthy: now,
		}
		h.servers[id] = health
	}
	return health
}

// checkServer checks one server and updates its record. After maxFailures
// consecutive failures the server is marked unhealthy and onUnhealthy fires
// once.
func (h *HealthMonitor) checkServer(s cluster.ServerEntry) {
	health := h.record(s.ServerId)
	err := h.check(s.ServiceLocator)

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()

	if err != nil {
		health.ConsecutiveFails++
		log.Printf("health check failed for server %s (attempt %d/%d): %v",
			s.ServerId, health.ConsecutiveFails, h.maxFailures, err)

		if health.ConsecutiveFails >= h.maxFailures {
			h.markUnhealthyLocked(health)
		}
		return
	}

	if health.Status == HealthUnhealthy {
		log.Printf("server %s recovered and is now healthy", s.ServerId)
	}
	health.Status = HealthHealthy
	health.ConsecutiveFails = 0
	health.LastHealthy = time.Now()
}

func (h *HealthMonitor) markUnhealthyLocked(health *ServerHealth) {
	previous := health.Status
	health.Status = HealthUnhealthy
	if previous != HealthUnhealthy && h.onUnhealthy != nil {
		log.Printf("server %s marked as unhealthy after %d failures",
			health.ServerId, health.ConsecutiveFails)
		go h.onUnhealthy(health.ServerId)
	}
}

// CheckNow pings s once, outside the periodic schedule, and returns the
// check's error. A failure here counts as a definite failure: the server is
// marked unhealthy at once, without waiting for maxFailures, but the
// callback is not fired; the caller acts on the returned error instead.
func (h *HealthMonitor) CheckNow(s cluster.ServerEntry) error {
	health := h.record(s.ServerId)
	err := h.check(s.ServiceLocator)

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()
	if err != nil {
		health.ConsecutiveFails++
		health.Status = HealthUnhealthy
		return err
	}
	health.Status = HealthHealthy
	health.ConsecutiveFails = 0
	health.LastHealthy = time.Now()
	return nil
}

// defaultHealthCheck GETs /health at the server's locator, which is either
// host:port or a full URL.
func (h *HealthMonitor) defaultHealthCheck(locator string) error {
	url := locator
	if !strings.HasPrefix(locator, "http://") && !strings.HasPrefix(locator, "https://") {
		url = fmt.Sprintf("http://%s", locator)
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	resp, err := h.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// GetServerHealth returns a copy of the record for id, or nil if the server
// is not monitored.
func (h *HealthMonitor) GetServerHealth(id cluster.ServerId) *ServerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.servers[id]
	if !exists {
		return nil
	}
	c := *health
	return &c
}

// GetAllServerHealth returns copies of every record.
func (h *HealthMonitor) GetAllServerHealth() map[cluster.ServerId]*ServerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[cluster.ServerId]*ServerHealth, len(h.servers))
	for id, health := range h.servers {
		c := *health
		result[id] = &c
	}
	return result
}

// IsHealthy reports whether id passed its last check. Unmonitored servers
// are not healthy.
func (h *HealthMonitor) IsHealthy(id cluster.ServerId) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.servers[id]
	return exists && health.Status == HealthHealthy
}
