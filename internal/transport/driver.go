package transport

import (
	"context"

	"github.com/dreamware/tabletcoord/internal/wire"
)

// Received is one packet handed up by a Driver.
type Received struct {
	Addr    string // sender, if the driver knows it
	Header  []byte // opaque to the driver; the session's correlation id
	Payload []byte
}

// Driver moves packets between this process and its peers. Implementations
// must be safe for concurrent use.
//
// Neither method may block on the network. Delivery is best effort: a packet
// that is lost simply never shows up in TryRecvPacket, and the session turns
// that into a timeout.
type Driver interface {
	// SendPacket queues header followed by the bytes of payload for addr.
	// The driver may keep neither header nor payload after it returns
	// unless it copied them.
	SendPacket(addr string, header []byte, payload *wire.Iterator)

	// TryRecvPacket returns the next received packet, or false if none is
	// available yet.
	TryRecvPacket() (*Received, bool)

	// Release tells the driver the session is done with a received packet.
	Release(r *Received)
}

// Handler serves one request payload and returns the response payload. The
// coordinator service implements it.
type Handler interface {
	HandleRPC(ctx context.Context, request []byte) []byte
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, request []byte) []byte

func (f HandlerFunc) HandleRPC(ctx context.Context, request []byte) []byte {
	return f(ctx, request)
}
