package wire

// RequestCommon opens every request.
type RequestCommon struct {
	Opcode  Opcode
	Service uint16
}

// ResponseCommon opens every response. When Status is not StatusOK nothing
// after it is defined.
type ResponseCommon struct {
	Status Status
}

// RequestHeader is implemented by the fixed part of every request.
type RequestHeader interface {
	Op() Opcode
}

// trailered is implemented by fixed headers that announce a trailer.
type trailered interface {
	TrailerLength() uint32
}

type EnlistServerRequest struct {
	ReplacesId           uint64
	ServiceMask          uint32
	ReadSpeed            uint32
	ServiceLocatorLength uint32
}

func (EnlistServerRequest) Op() Opcode               { return OpEnlistServer }
func (h EnlistServerRequest) TrailerLength() uint32 { return h.ServiceLocatorLength }

type EnlistServerResponse struct {
	ServerId uint64
}

type GetServerListRequest struct {
	ServiceMask uint32
}

func (GetServerListRequest) Op() Opcode { return OpGetServerList }

type GetServerListResponse struct {
	ServerListLength uint32
}

func (h GetServerListResponse) TrailerLength() uint32 { return h.ServerListLength }

type GetTabletMapRequest struct{}

func (GetTabletMapRequest) Op() Opcode { return OpGetTabletMap }

type GetTabletMapResponse struct {
	TabletMapLength uint32
}

func (h GetTabletMapResponse) TrailerLength() uint32 { return h.TabletMapLength }

type HintServerDownRequest struct {
	ServerId uint64
}

func (HintServerDownRequest) Op() Opcode { return OpHintServerDown }

type ReassignTabletOwnershipRequest struct {
	TableId            uint64
	FirstKeyHash       uint64
	LastKeyHash        uint64
	NewOwnerId         uint64
	CtimeSegmentId     uint64
	CtimeSegmentOffset uint32
}

func (ReassignTabletOwnershipRequest) Op() Opcode { return OpReassignTabletOwnership }

type RecoveryMasterFinishedRequest struct {
	RecoveryId       uint64
	RecoveryMasterId uint64
	TabletsLength    uint32
	Successful       uint8
}

func (RecoveryMasterFinishedRequest) Op() Opcode               { return OpRecoveryMasterFinished }
func (h RecoveryMasterFinishedRequest) TrailerLength() uint32 { return h.TabletsLength }

type SetMasterRecoveryInfoRequest struct {
	ServerId   uint64
	InfoLength uint32
}

func (SetMasterRecoveryInfoRequest) Op() Opcode               { return OpSetMasterRecoveryInfo }
func (h SetMasterRecoveryInfoRequest) TrailerLength() uint32 { return h.InfoLength }

type VerifyMembershipRequest struct {
	ServerId uint64
}

func (VerifyMembershipRequest) Op() Opcode { return OpVerifyMembership }

// Bool8 converts b to the single byte booleans travel as.
func Bool8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
