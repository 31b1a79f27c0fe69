// Package config loads process settings for the coordinator and node
// binaries.
//
// Settings are layered: built-in defaults, then an optional YAML file named
// by CONFIG_FILE, then environment variables. A later layer overrides an
// earlier one only for the settings it actually sets.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/tabletcoord/internal/cluster"
)

// ErrMissing is returned when a required setting is set by no layer.
var ErrMissing = errors.New("missing required setting")

// Node configures a storage server.
type Node struct {
	Listen         string              // NODE_LISTEN: address to bind
	Addr           string              // NODE_ADDR: locator other servers use to reach this one
	Coordinator    string              // COORDINATOR_ADDR: required
	Services       cluster.ServiceMask // NODE_SERVICES: e.g. "master,backup"
	ReadSpeed      uint32              // NODE_READ_SPEED: backup read speed in MB/s
	Replaces       cluster.ServerId    // NODE_REPLACES: id of the incarnation this one replaces
	VerifyInterval time.Duration       // NODE_VERIFY_INTERVAL: membership check period
	RPCTimeout     time.Duration       // RPC_TIMEOUT: per-call deadline for coordinator RPCs
	SegmentSize    uint32              // NODE_SEGMENT_SIZE: log segment size in bytes
}

// Coordinator configures the coordinator.
type Coordinator struct {
	Addr              string        // COORDINATOR_ADDR: address to bind
	HealthInterval    time.Duration // HEALTH_INTERVAL
	HealthMaxFailures int           // HEALTH_MAX_FAILURES
}

// nodeFile and coordinatorFile are the YAML layouts. Unset fields stay at
// their zero values and do not override defaults.
type nodeFile struct {
	Listen         string        `yaml:"listen"`
	Addr           string        `yaml:"addr"`
	Coordinator    string        `yaml:"coordinator"`
	Services       string        `yaml:"services"`
	ReadSpeed      uint32        `yaml:"read_speed"`
	Replaces       string        `yaml:"replaces"`
	VerifyInterval time.Duration `yaml:"verify_interval"`
	RPCTimeout     time.Duration `yaml:"rpc_timeout"`
	SegmentSize    uint32        `yaml:"segment_size"`
}

type coordinatorFile struct {
	Addr              string        `yaml:"addr"`
	HealthInterval    time.Duration `yaml:"health_interval"`
	HealthMaxFailures int           `yaml:"health_max_failures"`
}

type fileLayout struct {
	Node        nodeFile        `yaml:"node"`
	Coordinator coordinatorFile `yaml:"coordinator"`
}

// LoadNode builds the node configuration.
func LoadNode() (Node, error) {
	f, err := readFile()
	if err != nil {
		return Node{}, err
	}
	n := f.Node

	listen := getenv("NODE_LISTEN", or(n.Listen, ":8081"))
	cfg := Node{
		Listen:      listen,
		Addr:        getenv("NODE_ADDR", or(n.Addr, "http://127.0.0.1"+listen)),
		Coordinator: getenv("COORDINATOR_ADDR", n.Coordinator),
	}
	if cfg.Coordinator == "" {
		return Node{}, fmt.Errorf("%w: COORDINATOR_ADDR", ErrMissing)
	}

	if cfg.Services, err = cluster.ParseServiceMask(getenv("NODE_SERVICES", or(n.Services, "master,backup,membership,ping"))); err != nil {
		return Node{}, fmt.Errorf("NODE_SERVICES: %w", err)
	}
	if cfg.Services.Empty() {
		return Node{}, fmt.Errorf("%w: NODE_SERVICES names no service", ErrMissing)
	}
	if replaces := getenv("NODE_REPLACES", n.Replaces); replaces != "" {
		if cfg.Replaces, err = cluster.ParseServerId(replaces); err != nil {
			return Node{}, fmt.Errorf("NODE_REPLACES: %w", err)
		}
	}
	if cfg.ReadSpeed, err = uint32env("NODE_READ_SPEED", n.ReadSpeed); err != nil {
		return Node{}, err
	}
	if cfg.SegmentSize, err = uint32env("NODE_SEGMENT_SIZE", n.SegmentSize); err != nil {
		return Node{}, err
	}
	if cfg.VerifyInterval, err = durationenv("NODE_VERIFY_INTERVAL", orDuration(n.VerifyInterval, 10*time.Second)); err != nil {
		return Node{}, err
	}
	if cfg.RPCTimeout, err = durationenv("RPC_TIMEOUT", orDuration(n.RPCTimeout, 5*time.Second)); err != nil {
		return Node{}, err
	}
	return cfg, nil
}

// LoadCoordinator builds the coordinator configuration.
func LoadCoordinator() (Coordinator, error) {
	f, err := readFile()
	if err != nil {
		return Coordinator{}, err
	}
	c := f.Coordinator

	cfg := Coordinator{Addr: getenv("COORDINATOR_ADDR", or(c.Addr, ":8080"))}
	if cfg.HealthInterval, err = durationenv("HEALTH_INTERVAL", orDuration(c.HealthInterval, 5*time.Second)); err != nil {
		return Coordinator{}, err
	}
	maxFailures := c.HealthMaxFailures
	if maxFailures == 0 {
		maxFailures = 3
	}
	if v := os.Getenv("HEALTH_MAX_FAILURES"); v != "" {
		if maxFailures, err = strconv.Atoi(v); err != nil || maxFailures < 1 {
			return Coordinator{}, fmt.Errorf("HEALTH_MAX_FAILURES: invalid value %q", v)
		}
	}
	cfg.HealthMaxFailures = maxFailures
	return cfg, nil
}

// readFile parses CONFIG_FILE, if set.
func readFile() (fileLayout, error) {
	var f fileLayout
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return f, nil
}

// getenv returns the environment variable k if it is set and non-empty, and
// def otherwise.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func uint32env(k string, def uint32) (uint32, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return uint32(n), nil
}

func durationenv(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", k, d)
	}
	return d, nil
}

func or(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}
