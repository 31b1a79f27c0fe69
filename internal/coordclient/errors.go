package coordclient

import (
	"errors"
	"fmt"

	"github.com/dreamware/tabletcoord/internal/wire"
)

// ErrInvalidArgument is returned, without contacting the coordinator, when a
// request is malformed before it is sent.
var ErrInvalidArgument = errors.New("invalid argument")

// ClientError is returned when the coordinator answers an operation with a
// status other than STATUS_OK.
type ClientError struct {
	Op     wire.Opcode
	Status wire.Status
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%s: coordinator returned %s", e.Op, e.Status)
}

// StatusOf extracts the coordinator status carried by err, if any.
func StatusOf(err error) (wire.Status, bool) {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Status, true
	}
	return wire.StatusOK, false
}

// IsCallerNotInCluster reports whether err says this server has been
// dropped from the cluster.
func IsCallerNotInCluster(err error) bool {
	status, ok := StatusOf(err)
	return ok && status == wire.StatusCallerNotInCluster
}

func invalid(op wire.Opcode, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", op, ErrInvalidArgument, fmt.Sprintf(format, args...))
}
