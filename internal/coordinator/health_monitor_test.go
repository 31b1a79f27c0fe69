package coordinator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/tabletcoord/internal/cluster"
)

var (
	serverA = cluster.ServerEntry{ServerId: cluster.NewServerId(1, 0), ServiceLocator: "localhost:8081",
		Services: cluster.NewServiceMask(cluster.MasterService), Status: cluster.ServerUp}
	serverB = cluster.ServerEntry{ServerId: cluster.NewServerId(2, 0), ServiceLocator: "http://localhost:8082",
		Services: cluster.NewServiceMask(cluster.MasterService), Status: cluster.ServerUp}
)

// TestNewHealthMonitor verifies defaults.
func TestNewHealthMonitor(t *testing.T) {
	monitor := NewHealthMonitor(5*time.Second, 0)
	defer monitor.Stop()

	assert.Equal(t, 5*time.Second, monitor.interval)
	assert.Equal(t, 2*time.Second, monitor.timeout)
	assert.Equal(t, 3, monitor.maxFailures)
	assert.NotNil(t, monitor.httpClient)
	assert.Empty(t, monitor.GetAllServerHealth())
}

// TestHealthMonitorStart verifies that every provided server is checked and
// tracked.
func TestHealthMonitorStart(t *testing.T) {
	monitor := NewHealthMonitor(20*time.Millisecond, 3)
	defer monitor.Stop()

	var mu sync.Mutex
	checked := map[string]int{}
	monitor.SetCheckFunction(func(locator string) error {
		mu.Lock()
		checked[locator]++
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Start(ctx, func() cluster.ServerList { return cluster.ServerList{serverA, serverB} })

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return checked[serverA.ServiceLocator] >= 3 && checked[serverB.ServiceLocator] >= 3
	}, time.Second, 5*time.Millisecond)

	all := monitor.GetAllServerHealth()
	assert.Len(t, all, 2)
	assert.True(t, monitor.IsHealthy(serverA.ServerId))
	assert.True(t, monitor.IsHealthy(serverB.ServerId))
}

// TestHealthMonitorServerFailure verifies that a server is marked unhealthy
// after maxFailures failed checks and the callback fires exactly once.
func TestHealthMonitorServerFailure(t *testing.T) {
	monitor := NewHealthMonitor(10*time.Millisecond, 3)
	defer monitor.Stop()

	var mu sync.Mutex
	failing := false
	var unhealthy []cluster.ServerId

	monitor.SetCheckFunction(func(locator string) error {
		mu.Lock()
		defer mu.Unlock()
		if locator == serverA.ServiceLocator && failing {
			return errors.New("server is down")
		}
		return nil
	})
	monitor.SetOnUnhealthy(func(id cluster.ServerId) {
		mu.Lock()
		unhealthy = append(unhealthy, id)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Start(ctx, func() cluster.ServerList { return cluster.ServerList{serverA, serverB} })

	assert.Eventually(t, func() bool { return monitor.IsHealthy(serverA.ServerId) }, time.Second, 5*time.Millisecond)

	mu.Lock()
	failing = true
	mu.Unlock()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(unhealthy) == 1
	}, time.Second, 5*time.Millisecond)

	// More failures do not fire the callback again.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, []cluster.ServerId{serverA.ServerId}, unhealthy)
	mu.Unlock()

	health := monitor.GetServerHealth(serverA.ServerId)
	require.NotNil(t, health)
	assert.Equal(t, HealthUnhealthy, health.Status)
	assert.GreaterOrEqual(t, health.ConsecutiveFails, 3)
	assert.True(t, monitor.IsHealthy(serverB.ServerId))
}

// TestHealthMonitorServerRecovery verifies that an unhealthy server that
// answers again is healthy with its failure count reset.
func TestHealthMonitorServerRecovery(t *testing.T) {
	monitor := NewHealthMonitor(10*time.Millisecond, 2)
	defer monitor.Stop()

	var mu sync.Mutex
	healthy := false
	monitor.SetCheckFunction(func(string) error {
		mu.Lock()
		defer mu.Unlock()
		if !healthy {
			return errors.New("down")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Start(ctx, func() cluster.ServerList { return cluster.ServerList{serverA} })

	assert.Eventually(t, func() bool {
		h := monitor.GetServerHealth(serverA.ServerId)
		return h != nil && h.Status == HealthUnhealthy
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	healthy = true
	mu.Unlock()

	assert.Eventually(t, func() bool { return monitor.IsHealthy(serverA.ServerId) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, monitor.GetServerHealth(serverA.ServerId).ConsecutiveFails)
}

// TestHealthMonitorServerRemoval verifies that servers which leave the list
// stop being tracked.
func TestHealthMonitorServerRemoval(t *testing.T) {
	monitor := NewHealthMonitor(10*time.Millisecond, 3)
	defer monitor.Stop()
	monitor.SetCheckFunction(func(string) error { return nil })

	var mu sync.Mutex
	servers := cluster.ServerList{serverA, serverB}
	provider := func() cluster.ServerList {
		mu.Lock()
		defer mu.Unlock()
		return servers
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Start(ctx, provider)

	assert.Eventually(t, func() bool { return len(monitor.GetAllServerHealth()) == 2 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	servers = cluster.ServerList{serverA}
	mu.Unlock()

	assert.Eventually(t, func() bool { return len(monitor.GetAllServerHealth()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Nil(t, monitor.GetServerHealth(serverB.ServerId))
}

// TestHealthMonitorStop verifies that Stop ends Start.
func TestHealthMonitorStop(t *testing.T) {
	monitor := NewHealthMonitor(10*time.Millisecond, 3)
	monitor.SetCheckFunction(func(string) error { return nil })

	done := make(chan struct{})
	go func() {
		monitor.Start(nil, func() cluster.ServerList { return cluster.ServerList{serverA} })
		close(done)
	}()
	assert.Eventually(t, func() bool { return monitor.IsHealthy(serverA.ServerId) }, time.Second, 5*time.Millisecond)

	monitor.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestHealthMonitorCheckNow(t *testing.T) {
	monitor := NewHealthMonitor(time.Hour, 3)
	defer monitor.Stop()

	down := errors.New("down")
	answer := error(nil)
	monitor.SetCheckFunction(func(string) error { return answer })
	fired := false
	monitor.SetOnUnhealthy(func(cluster.ServerId) { fired = true })

	require.NoError(t, monitor.CheckNow(serverA))
	assert.True(t, monitor.IsHealthy(serverA.ServerId))

	answer = down
	assert.ErrorIs(t, monitor.CheckNow(serverA), down)
	assert.False(t, monitor.IsHealthy(serverA.ServerId))
	assert.Equal(t, HealthUnhealthy, monitor.GetServerHealth(serverA.ServerId).Status)
	assert.False(t, fired)
}

// TestDefaultHealthCheck runs the HTTP check against a real server.
func TestDefaultHealthCheck(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	monitor := NewHealthMonitor(time.Hour, 3)
	defer monitor.Stop()

	tests := []struct {
		name    string
		locator string
	}{
		{"full url", srv.URL},
		{"host and port", srv.Listener.Addr().String()},
		{"explicit path", srv.URL + "/health"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, monitor.defaultHealthCheck(tt.locator))
		})
	}

	healthy = false
	err := monitor.defaultHealthCheck(srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	assert.Error(t, monitor.defaultHealthCheck("127.0.0.1:1"))
}
