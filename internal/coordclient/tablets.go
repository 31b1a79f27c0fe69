package coordclient

import (
	"context"

	"github.com/dreamware/tabletcoord/internal/cluster"
	"github.com/dreamware/tabletcoord/internal/transport"
	"github.com/dreamware/tabletcoord/internal/wire"
)

// ReassignTabletOwnershipRpc hands a migrated tablet to its new owner.
type ReassignTabletOwnershipRpc struct {
	rpcWrapper
}

// NewReassignTabletOwnershipRpc is issued once all data for the tablet
// [firstKeyHash, lastKeyHash] of tableId has been copied to newOwner.
//
// ctime is newOwner's log head taken just before the migration started. The
// coordinator records it as the tablet's creation time, so that if newOwner
// later crashes, recovery skips anything newOwner logged for this range
// before it owned it.
//
// Retrying with the same arguments is harmless until the range is
// reassigned again; the coordinator alone decides the current owner.
func NewReassignTabletOwnershipRpc(session *transport.Session, tableId, firstKeyHash, lastKeyHash uint64,
	newOwner cluster.ServerId, ctime cluster.Ctime) *ReassignTabletOwnershipRpc {
	r := &ReassignTabletOwnershipRpc{}
	switch {
	case firstKeyHash > lastKeyHash:
		r.fail(invalid(wire.OpReassignTabletOwnership, "range [%d, %d] is empty", firstKeyHash, lastKeyHash))
		return r
	case !newOwner.IsValid():
		r.fail(invalid(wire.OpReassignTabletOwnership, "invalid new owner"))
		return r
	}
	r.send(session, wire.ReassignTabletOwnershipRequest{
		TableId:            tableId,
		FirstKeyHash:       firstKeyHash,
		LastKeyHash:        lastKeyHash,
		NewOwnerId:         newOwner.Uint64(),
		CtimeSegmentId:     ctime.SegmentId,
		CtimeSegmentOffset: ctime.SegmentOffset,
	}, nil)
	return r
}

// Wait returns nil once the coordinator records newOwner. A tablet that is
// recovering cannot be reassigned; that fails with STATUS_RETRY.
func (r *ReassignTabletOwnershipRpc) Wait(ctx context.Context) error {
	_, err := r.waitInternal(ctx)
	return err
}

// RecoveryMasterFinishedRpc reports the end of one partition of a recovery.
type RecoveryMasterFinishedRpc struct {
	rpcWrapper
}

// NewRecoveryMasterFinishedRpc is issued by a recovery master once it has
// replayed (or failed to replay) the tablets it was assigned.
//
// recoveryId is echoed from the assignment. When successful is false the
// coordinator does not give the tablets to recoveryMaster, and the caller
// should drop whatever it recovered. A recovery master does not retry a
// recovery id; it reports failure instead.
func NewRecoveryMasterFinishedRpc(session *transport.Session, recoveryId uint64,
	recoveryMaster cluster.ServerId, tablets cluster.TabletMap, successful bool) *RecoveryMasterFinishedRpc {
	r := &RecoveryMasterFinishedRpc{}
	if !recoveryMaster.IsValid() {
		r.fail(invalid(wire.OpRecoveryMasterFinished, "invalid recovery master"))
		return r
	}
	trailer, err := wire.EncodeTabletMap(tablets)
	if err != nil {
		r.fail(err)
		return r
	}
	r.send(session, wire.RecoveryMasterFinishedRequest{
		RecoveryId:       recoveryId,
		RecoveryMasterId: recoveryMaster.Uint64(),
		TabletsLength:    uint32(len(trailer)),
		Successful:       wire.Bool8(successful),
	}, trailer)
	return r
}

// Wait returns nil once the coordinator has accepted the report. That does
// not mean every reported tablet was granted; check the tablet map.
func (r *RecoveryMasterFinishedRpc) Wait(ctx context.Context) error {
	_, err := r.waitInternal(ctx)
	return err
}

// SetMasterRecoveryInfoRpc stores a fencing token in a master's coordinator
// record.
type SetMasterRecoveryInfoRpc struct {
	rpcWrapper
}

// NewSetMasterRecoveryInfoRpc replaces the recovery info kept for serverId.
// Masters call it before doing anything that could leave replicas a later
// recovery must tell apart, such as opening a new head segment. Each call
// overwrites the previous token.
func NewSetMasterRecoveryInfoRpc(session *transport.Session, serverId cluster.ServerId,
	info cluster.RecoveryInfo) *SetMasterRecoveryInfoRpc {
	r := &SetMasterRecoveryInfoRpc{}
	if !serverId.IsValid() {
		r.fail(invalid(wire.OpSetMasterRecoveryInfo, "invalid server id"))
		return r
	}
	trailer := info.Clone()
	r.send(session, wire.SetMasterRecoveryInfoRequest{
		ServerId:   serverId.Uint64(),
		InfoLength: uint32(len(trailer)),
	}, trailer)
	return r
}

// Wait returns nil once the new token is stored.
func (r *SetMasterRecoveryInfoRpc) Wait(ctx context.Context) error {
	_, err := r.waitInternal(ctx)
	return err
}
