package cluster

import (
	"fmt"
	"strconv"
	"strings"
)

// invalidWire is the on-the-wire form of InvalidServerId.
const invalidWire = ^uint64(0)

// ServerId identifies one incarnation of a server in the cluster.
//
// An id is an index slot combined with a generation number. Slots are reused
// once a server has been removed, but the coordinator bumps the generation on
// every reuse, so an id handed out once is never handed out again. Callers
// should treat ServerId as an opaque comparable value: two ids are the same
// server incarnation if and only if they are ==.
//
// The zero value is InvalidServerId. Coordinators number slots from 1.
type ServerId struct {
	index      uint32
	generation uint32
}

// InvalidServerId is the sentinel meaning "no server", e.g. the replaces
// argument of an enlistment that does not replace anybody.
var InvalidServerId = ServerId{}

// NewServerId builds an id from its slot and generation. An index of 0
// yields InvalidServerId.
func NewServerId(index, generation uint32) ServerId {
	if index == 0 {
		return InvalidServerId
	}
	return ServerId{index: index, generation: generation}
}

// ServerIdFromUint64 decodes the wire form: index in the low 32 bits,
// generation in the high 32 bits.
func ServerIdFromUint64(v uint64) ServerId {
	if v == invalidWire {
		return InvalidServerId
	}
	return NewServerId(uint32(v), uint32(v>>32))
}

// Uint64 returns the wire form of the id.
func (s ServerId) Uint64() uint64 {
	if !s.IsValid() {
		return invalidWire
	}
	return uint64(s.generation)<<32 | uint64(s.index)
}

func (s ServerId) IsValid() bool { return s.index != 0 }

func (s ServerId) Index() uint32 { return s.index }

func (s ServerId) Generation() uint32 { return s.generation }

// String renders the id as "index.generation", or "invalid".
func (s ServerId) String() string {
	if !s.IsValid() {
		return "invalid"
	}
	return fmt.Sprintf("%d.%d", s.index, s.generation)
}

// ParseServerId is the inverse of String. The empty string and "invalid"
// both parse to InvalidServerId.
func ParseServerId(str string) (ServerId, error) {
	if str == "" || str == "invalid" {
		return InvalidServerId, nil
	}
	idx, gen, ok := strings.Cut(str, ".")
	if !ok {
		return InvalidServerId, fmt.Errorf("server id %q: want index.generation", str)
	}
	index, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return InvalidServerId, fmt.Errorf("server id %q: bad index: %w", str, err)
	}
	generation, err := strconv.ParseUint(gen, 10, 32)
	if err != nil {
		return InvalidServerId, fmt.Errorf("server id %q: bad generation: %w", str, err)
	}
	if index == 0 {
		return InvalidServerId, fmt.Errorf("server id %q: index 0 is reserved", str)
	}
	return NewServerId(uint32(index), uint32(generation)), nil
}

// MarshalText lets ServerId travel inside JSON documents as "index.generation".
func (s ServerId) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ServerId) UnmarshalText(text []byte) error {
	id, err := ParseServerId(string(text))
	if err != nil {
		return err
	}
	*s = id
	return nil
}
