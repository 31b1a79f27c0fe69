package coordinator

import "errors"

var (
	// ErrServerNotUp means the server named in a request is not a live
	// member of the cluster.
	ErrServerNotUp = errors.New("server not up")
	// ErrUnknownTablet means no tablet has exactly the requested range.
	ErrUnknownTablet = errors.New("unknown tablet")
	// ErrTableDoesntExist means the table id or name is not known.
	ErrTableDoesntExist = errors.New("table doesn't exist")
	// ErrTableExists is returned when creating a table whose name is taken.
	ErrTableExists = errors.New("table already exists")
	// ErrUnknownRecovery means the recovery id is not in progress.
	ErrUnknownRecovery = errors.New("unknown recovery")
	// ErrInvalidParameter means a request field is out of range.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrTabletRecovering means the tablet is waiting on a recovery and
	// cannot change hands until it finishes.
	ErrTabletRecovering = errors.New("tablet is recovering")
	// ErrNoMasters means an operation needed a master and none is up.
	ErrNoMasters = errors.New("no masters available")
)
