package wire

import "fmt"

// Status is the first field of every response. Values are part of the wire
// format: append new codes at the end, never renumber.
type Status uint32

const (
	StatusOK Status = iota
	StatusUnknownTablet
	StatusTableDoesntExist
	StatusMessageTooShort
	StatusUnimplementedRequest
	StatusRequestFormatError
	StatusResponseFormatError
	StatusRetry
	StatusServerNotUp
	StatusInternalError
	StatusInvalidParameter
	StatusUnknownRecovery
	// StatusCallerNotInCluster tells a server that the coordinator no longer
	// recognizes its id.
	StatusCallerNotInCluster
	StatusTimeout
)

var statusNames = map[Status]string{
	StatusOK:                   "STATUS_OK",
	StatusUnknownTablet:        "STATUS_UNKNOWN_TABLET",
	StatusTableDoesntExist:     "STATUS_TABLE_DOESNT_EXIST",
	StatusMessageTooShort:      "STATUS_MESSAGE_TOO_SHORT",
	StatusUnimplementedRequest: "STATUS_UNIMPLEMENTED_REQUEST",
	StatusRequestFormatError:   "STATUS_REQUEST_FORMAT_ERROR",
	StatusResponseFormatError:  "STATUS_RESPONSE_FORMAT_ERROR",
	StatusRetry:                "STATUS_RETRY",
	StatusServerNotUp:          "STATUS_SERVER_NOT_UP",
	StatusInternalError:        "STATUS_INTERNAL_ERROR",
	StatusInvalidParameter:     "STATUS_INVALID_PARAMETER",
	StatusUnknownRecovery:      "STATUS_UNKNOWN_RECOVERY",
	StatusCallerNotInCluster:   "STATUS_CALLER_NOT_IN_CLUSTER",
	StatusTimeout:              "STATUS_TIMEOUT",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS_%d", uint32(s))
}
