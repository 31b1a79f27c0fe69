package coordclient

import (
	"context"
	"fmt"

	"github.com/dreamware/tabletcoord/internal/transport"
	"github.com/dreamware/tabletcoord/internal/wire"
)

// rpcWrapper is the part every coordinator RPC shares: building and sending
// the request when the RPC is created, and waiting for and checking the
// reply later.
//
// Creating an RPC never blocks on the network. waitInternal blocks the
// calling goroutine until the reply arrives or the session gives up, then
// translates a non-OK status into a *ClientError. The outcome is cached, so
// waiting again returns the same result without touching the network.
//
// An rpcWrapper belongs to the goroutine that created it.
type rpcWrapper struct {
	op   wire.Opcode
	call *transport.Call

	waited bool
	reply  []byte
	status wire.Status
	err    error
}

// send encodes hdr and trailer and hands them to session. Failures are kept
// and reported by waitInternal.
func (w *rpcWrapper) send(session *transport.Session, hdr wire.RequestHeader, trailer []byte) {
	w.op = hdr.Op()
	req, err := wire.EncodeRequest(hdr, trailer)
	if err != nil {
		w.fail(err)
		return
	}
	w.call, err = session.Send(req)
	if err != nil {
		w.fail(fmt.Errorf("%s: %w", w.op, err))
	}
}

// fail records an error before anything was sent.
func (w *rpcWrapper) fail(err error) {
	w.waited = true
	w.err = err
}

// waitInternal returns the full response message once its status is known
// to be STATUS_OK.
func (w *rpcWrapper) waitInternal(ctx context.Context) ([]byte, error) {
	if w.waited {
		return w.reply, w.err
	}
	w.waited = true

	reply, err := w.call.Wait(ctx)
	if err != nil {
		w.err = fmt.Errorf("%s: %w", w.op, err)
		return nil, w.err
	}
	common, err := wire.DecodeResponseCommon(reply)
	if err != nil {
		w.err = fmt.Errorf("%s: %w", w.op, err)
		return nil, w.err
	}
	w.status = common.Status
	if common.Status != wire.StatusOK {
		w.err = &ClientError{Op: w.op, Status: common.Status}
		return nil, w.err
	}
	w.reply = reply
	return reply, nil
}

// responseHeader decodes the fixed response header into hdr and returns the
// trailer.
func (w *rpcWrapper) responseHeader(reply []byte, hdr any) ([]byte, error) {
	trailer, err := wire.DecodeResponse(reply, hdr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", w.op, err)
	}
	return trailer, nil
}
