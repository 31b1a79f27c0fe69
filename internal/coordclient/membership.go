package coordclient

import (
	"context"
	"log"
	"os"

	"github.com/dreamware/tabletcoord/internal/cluster"
	"github.com/dreamware/tabletcoord/internal/transport"
	"github.com/dreamware/tabletcoord/internal/wire"
)

// exit is swapped out by tests that exercise the default termination path.
var exit = os.Exit

// EnlistServerRpc registers a server with the coordinator.
type EnlistServerRpc struct {
	rpcWrapper
}

// NewEnlistServerRpc starts an enlistment and returns without waiting for it.
//
// Parameters:
//   - replaces: the id this process used to run under, or InvalidServerId.
//     The coordinator removes that server from the cluster, as if it had
//     crashed, before admitting the new one. A server restarting in place of
//     a known earlier incarnation must pass it, or the cluster briefly sees
//     two live copies of the same server.
//   - services: what the server offers; must not be empty.
//   - locator: how other servers reach this one; must not be empty.
//   - readSpeed: backup read speed in MB/s, ignored unless services
//     includes BackupService.
func NewEnlistServerRpc(session *transport.Session, replaces cluster.ServerId,
	services cluster.ServiceMask, locator string, readSpeed uint32) *EnlistServerRpc {
	r := &EnlistServerRpc{}
	switch {
	case locator == "":
		r.fail(invalid(wire.OpEnlistServer, "empty service locator"))
		return r
	case services.Empty():
		r.fail(invalid(wire.OpEnlistServer, "no services"))
		return r
	}
	if !services.Has(cluster.BackupService) {
		readSpeed = 0
	}
	hdr := wire.EnlistServerRequest{
		ReplacesId:           replaces.Uint64(),
		ServiceMask:          services.Serialize(),
		ReadSpeed:            readSpeed,
		ServiceLocatorLength: uint32(len(locator)),
	}
	r.send(session, hdr, []byte(locator))
	return r
}

// Wait returns the new server id. It is distinct from every id the
// coordinator has issued before, including the replaced one.
func (r *EnlistServerRpc) Wait(ctx context.Context) (cluster.ServerId, error) {
	reply, err := r.waitInternal(ctx)
	if err != nil {
		return cluster.InvalidServerId, err
	}
	var resp wire.EnlistServerResponse
	if _, err := r.responseHeader(reply, &resp); err != nil {
		return cluster.InvalidServerId, err
	}
	return cluster.ServerIdFromUint64(resp.ServerId), nil
}

// HintServerDownRpc tells the coordinator a server seems to have crashed.
// The coordinator checks for itself before acting; the caller is not told
// whether recovery started.
type HintServerDownRpc struct {
	rpcWrapper
}

// NewHintServerDownRpc reports serverId as suspected down. An invalid id
// fails the call without sending anything.
func NewHintServerDownRpc(session *transport.Session, serverId cluster.ServerId) *HintServerDownRpc {
	r := &HintServerDownRpc{}
	if !serverId.IsValid() {
		r.fail(invalid(wire.OpHintServerDown, "invalid server id"))
		return r
	}
	r.send(session, wire.HintServerDownRequest{ServerId: serverId.Uint64()}, nil)
	return r
}

// Wait returns nil once the coordinator has taken the hint, whatever it
// decided about the server.
func (r *HintServerDownRpc) Wait(ctx context.Context) error {
	_, err := r.waitInternal(ctx)
	return err
}

// MembershipState is the progress of a membership check.
type MembershipState int

// Membership states.
const (
	MembershipPending MembershipState = iota
	MembershipConfirmed
	MembershipExcluded
)

// String returns the lower-case state name.
func (s MembershipState) String() string {
	switch s {
	case MembershipConfirmed:
		return "confirmed"
	case MembershipExcluded:
		return "excluded"
	default:
		return "pending"
	}
}

// VerifyMembershipRpc asks the coordinator whether a server is still a
// cluster member. Servers use it when they suspect they were dropped, for
// example after losing contact with the rest of the cluster for a while.
type VerifyMembershipRpc struct {
	rpcWrapper
	serverId cluster.ServerId
	state    MembershipState

	// Terminate is run when the server turns out to be excluded and the
	// caller asked for self-termination. Nil means log and exit(1).
	Terminate func()
}

// NewVerifyMembershipRpc asks whether serverId is still a member.
func NewVerifyMembershipRpc(session *transport.Session, serverId cluster.ServerId) *VerifyMembershipRpc {
	r := &VerifyMembershipRpc{serverId: serverId}
	log.Printf("verifying cluster membership for %s", serverId)
	r.send(session, wire.VerifyMembershipRequest{ServerId: serverId.Uint64()}, nil)
	return r
}

// Wait returns nil once membership is confirmed.
//
// If the coordinator no longer recognizes the server and selfTerminate is
// set, the process must stop serving immediately rather than keep acting
// under an identity the cluster has disowned: Terminate runs, and only if it
// returns does Wait go on to report the exclusion as a *ClientError with
// STATUS_CALLER_NOT_IN_CLUSTER. With selfTerminate unset the exclusion is
// just reported.
func (r *VerifyMembershipRpc) Wait(ctx context.Context, selfTerminate bool) error {
	_, err := r.waitInternal(ctx)
	switch {
	case err == nil:
		r.state = MembershipConfirmed
	case r.status == wire.StatusCallerNotInCluster:
		first := r.state != MembershipExcluded
		r.state = MembershipExcluded
		if selfTerminate && first {
			r.terminate()
		}
	}
	return err
}

// State is MembershipPending until Wait has seen a definite answer.
func (r *VerifyMembershipRpc) State() MembershipState { return r.state }

func (r *VerifyMembershipRpc) terminate() {
	if r.Terminate != nil {
		r.Terminate()
		return
	}
	log.Printf("server %s no longer in cluster; committing suicide", r.serverId)
	exit(1)
}
