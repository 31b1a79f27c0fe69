package cluster

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// Service is one capability a server can offer to the cluster.
type Service uint32

const (
	// MasterService stores tablets in memory and serves reads and writes.
	MasterService Service = iota
	// BackupService stores segment replicas for masters.
	BackupService
	// MembershipService receives server list updates from the coordinator.
	MembershipService
	// PingService answers liveness checks.
	PingService

	numServices
)

var serviceNames = []string{"master", "backup", "membership", "ping"}

func (s Service) String() string {
	if s >= numServices {
		return fmt.Sprintf("service(%d)", uint32(s))
	}
	return serviceNames[s]
}

// ServiceMask is the set of services offered by a server. It is fixed for the
// lifetime of an enlistment and travels as a bitmask.
type ServiceMask struct {
	mask uint32
}

func NewServiceMask(services ...Service) ServiceMask {
	var m ServiceMask
	for _, s := range services {
		m.mask |= 1 << s
	}
	return m
}

// DeserializeServiceMask rebuilds a mask from its wire form. Bits for
// services this build does not know about are dropped.
func DeserializeServiceMask(v uint32) ServiceMask {
	return ServiceMask{mask: v & (1<<numServices - 1)}
}

func (m ServiceMask) Serialize() uint32 { return m.mask }

func (m ServiceMask) Has(s Service) bool {
	return s < numServices && m.mask&(1<<s) != 0
}

// HasAny reports whether m and other share at least one service.
func (m ServiceMask) HasAny(other ServiceMask) bool {
	return m.mask&other.mask != 0
}

func (m ServiceMask) Empty() bool { return m.mask == 0 }

func (m ServiceMask) Services() []Service {
	var out []Service
	for s := Service(0); s < numServices; s++ {
		if m.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

// String renders the mask as a comma separated list, e.g. "master,backup".
func (m ServiceMask) String() string {
	services := m.Services()
	names := make([]string, 0, len(services))
	for _, s := range services {
		names = append(names, s.String())
	}
	return strings.Join(names, ",")
}

// ParseServiceMask parses the String form. Whitespace around names is
// ignored; unknown names are an error.
func ParseServiceMask(str string) (ServiceMask, error) {
	var m ServiceMask
	for _, name := range strings.Split(str, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		idx := slices.Index(serviceNames, name)
		if idx < 0 {
			return ServiceMask{}, fmt.Errorf("unknown service %q", name)
		}
		m.mask |= 1 << uint32(idx)
	}
	return m, nil
}

func (m ServiceMask) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *ServiceMask) UnmarshalText(text []byte) error {
	parsed, err := ParseServiceMask(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
