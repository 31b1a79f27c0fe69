package coordclient

import (
	"context"

	"github.com/dreamware/tabletcoord/internal/cluster"
	"github.com/dreamware/tabletcoord/internal/transport"
)

// Client is the blocking form of the coordinator RPCs: each method issues
// the RPC and waits for it. Callers that want to overlap several requests
// use the New*Rpc constructors directly.
//
// A Client is safe for concurrent use; every call gets its own RPC.
type Client struct {
	session *transport.Session

	// Terminate replaces the default log-and-exit when VerifyMembership
	// finds this server excluded. Tests and embedders set it.
	Terminate func()
}

// New returns a Client that talks to the coordinator over session.
func New(session *transport.Session) *Client {
	return &Client{session: session}
}

// Session is the session every call goes through.
func (c *Client) Session() *transport.Session { return c.session }

// EnlistServer adds this process to the cluster and returns its new id.
// See NewEnlistServerRpc.
func (c *Client) EnlistServer(ctx context.Context, replaces cluster.ServerId,
	services cluster.ServiceMask, locator string, readSpeed uint32) (cluster.ServerId, error) {
	return NewEnlistServerRpc(c.session, replaces, services, locator, readSpeed).Wait(ctx)
}

// GetServerList returns every up server offering any of services.
func (c *Client) GetServerList(ctx context.Context, services cluster.ServiceMask) (cluster.ServerList, error) {
	return NewGetServerListRpc(c.session, services).Wait(ctx)
}

// GetMasterList returns the servers running a master.
func (c *Client) GetMasterList(ctx context.Context) (cluster.ServerList, error) {
	return c.GetServerList(ctx, cluster.NewServiceMask(cluster.MasterService))
}

// GetBackupList returns the servers running a backup.
func (c *Client) GetBackupList(ctx context.Context) (cluster.ServerList, error) {
	return c.GetServerList(ctx, cluster.NewServiceMask(cluster.BackupService))
}

// GetTabletMap returns the current owner of every tablet.
func (c *Client) GetTabletMap(ctx context.Context) (cluster.TabletMap, error) {
	return NewGetTabletMapRpc(c.session).Wait(ctx)
}

// HintServerDown reports that serverId looks crashed.
func (c *Client) HintServerDown(ctx context.Context, serverId cluster.ServerId) error {
	return NewHintServerDownRpc(c.session, serverId).Wait(ctx)
}

// ReassignTabletOwnership makes newOwner the owner of a migrated tablet.
// See NewReassignTabletOwnershipRpc.
func (c *Client) ReassignTabletOwnership(ctx context.Context, tableId, firstKeyHash, lastKeyHash uint64,
	newOwner cluster.ServerId, ctime cluster.Ctime) error {
	return NewReassignTabletOwnershipRpc(c.session, tableId, firstKeyHash, lastKeyHash, newOwner, ctime).Wait(ctx)
}

// RecoveryMasterFinished reports the outcome of a recovery partition.
func (c *Client) RecoveryMasterFinished(ctx context.Context, recoveryId uint64,
	recoveryMaster cluster.ServerId, tablets cluster.TabletMap, successful bool) error {
	return NewRecoveryMasterFinishedRpc(c.session, recoveryId, recoveryMaster, tablets, successful).Wait(ctx)
}

// SetMasterRecoveryInfo overwrites the recovery info kept for serverId.
func (c *Client) SetMasterRecoveryInfo(ctx context.Context, serverId cluster.ServerId, info cluster.RecoveryInfo) error {
	return NewSetMasterRecoveryInfoRpc(c.session, serverId, info).Wait(ctx)
}

// VerifyMembership checks that serverId is still in the cluster, and
// terminates the process if it is not. See VerifyMembershipRpc.Wait.
func (c *Client) VerifyMembership(ctx context.Context, serverId cluster.ServerId) error {
	return c.verifyMembership(ctx, serverId, true)
}

// CheckMembership is VerifyMembership without the termination.
func (c *Client) CheckMembership(ctx context.Context, serverId cluster.ServerId) error {
	return c.verifyMembership(ctx, serverId, false)
}

func (c *Client) verifyMembership(ctx context.Context, serverId cluster.ServerId, selfTerminate bool) error {
	r := NewVerifyMembershipRpc(c.session, serverId)
	r.Terminate = c.Terminate
	return r.Wait(ctx, selfTerminate)
}
