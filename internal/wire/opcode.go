package wire

import "fmt"

// Opcode discriminates requests. Values are part of the wire format.
type Opcode uint16

const (
	OpEnlistServer Opcode = iota + 1
	OpGetServerList
	OpGetTabletMap
	OpHintServerDown
	OpReassignTabletOwnership
	OpRecoveryMasterFinished
	OpSetMasterRecoveryInfo
	OpVerifyMembership
)

var opcodeNames = map[Opcode]string{
	OpEnlistServer:            "ENLIST_SERVER",
	OpGetServerList:           "GET_SERVER_LIST",
	OpGetTabletMap:            "GET_TABLET_MAP",
	OpHintServerDown:          "HINT_SERVER_DOWN",
	OpReassignTabletOwnership: "REASSIGN_TABLET_OWNERSHIP",
	OpRecoveryMasterFinished:  "RECOVERY_MASTER_FINISHED",
	OpSetMasterRecoveryInfo:   "SET_MASTER_RECOVERY_INFO",
	OpVerifyMembership:        "VERIFY_MEMBERSHIP",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("OPCODE_%d", uint16(o))
}

// CoordinatorService is the service id stamped into every request header of
// this protocol.
const CoordinatorService uint16 = 1
