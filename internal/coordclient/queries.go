package coordclient

import (
	"context"

	"github.com/dreamware/tabletcoord/internal/cluster"
	"github.com/dreamware/tabletcoord/internal/transport"
	"github.com/dreamware/tabletcoord/internal/wire"
)

// GetServerListRpc fetches the servers offering at least one of a set of
// services.
type GetServerListRpc struct {
	rpcWrapper
}

// NewGetServerListRpc requests every server offering one of services.
func NewGetServerListRpc(session *transport.Session, services cluster.ServiceMask) *GetServerListRpc {
	r := &GetServerListRpc{}
	r.send(session, wire.GetServerListRequest{ServiceMask: services.Serialize()}, nil)
	return r
}

// Wait returns the list as of the coordinator's reply.
func (r *GetServerListRpc) Wait(ctx context.Context) (cluster.ServerList, error) {
	reply, err := r.waitInternal(ctx)
	if err != nil {
		return nil, err
	}
	var resp wire.GetServerListResponse
	trailer, err := r.responseHeader(reply, &resp)
	if err != nil {
		return nil, err
	}
	return wire.DecodeServerList(trailer)
}

// GetTabletMapRpc fetches the owner of every tablet. Clients use it to route
// requests.
type GetTabletMapRpc struct {
	rpcWrapper
}

// NewGetTabletMapRpc requests the whole tablet map.
func NewGetTabletMapRpc(session *transport.Session) *GetTabletMapRpc {
	r := &GetTabletMapRpc{}
	r.send(session, wire.GetTabletMapRequest{}, nil)
	return r
}

// Wait returns the tablet map as of the coordinator's reply.
func (r *GetTabletMapRpc) Wait(ctx context.Context) (cluster.TabletMap, error) {
	reply, err := r.waitInternal(ctx)
	if err != nil {
		return nil, err
	}
	var resp wire.GetTabletMapResponse
	trailer, err := r.responseHeader(reply, &resp)
	if err != nil {
		return nil, err
	}
	return wire.DecodeTabletMap(trailer)
}
