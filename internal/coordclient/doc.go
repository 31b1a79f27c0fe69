// Package coordclient is how servers and clients talk to the cluster
// coordinator.
//
// Every operation comes in two forms. The asynchronous form is a type per
// operation: its constructor encodes the request and hands it to a
// transport.Session without blocking, and its Wait method blocks for the
// reply and decodes it. Several RPCs can be in flight from one goroutine:
//
//	lists := coordclient.NewGetServerListRpc(session, masters)
//	tablets := coordclient.NewGetTabletMapRpc(session)
//	servers, err := lists.Wait(ctx)
//	...
//	m, err := tablets.Wait(ctx)
//
// The synchronous form is Client, whose methods do both steps.
//
// Errors fall into three groups:
//
//   - ErrInvalidArgument: the request was rejected before it was sent.
//   - *ClientError: the coordinator answered with a non-OK status. Use
//     StatusOf or IsCallerNotInCluster to inspect it.
//   - transport errors (transport.ErrTimeout, transport.ErrSessionClosed,
//     context errors) and wire decoding errors, wrapped with the operation
//     name.
//
// Waiting twice on the same RPC returns the same outcome.
//
// VerifyMembership is special: a server that learns it has been dropped
// from the cluster stops itself, since another server may already be
// serving its data.
package coordclient
