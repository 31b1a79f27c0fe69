package transport

import (
	"context"
	"sync"

	"github.com/dreamware/tabletcoord/internal/wire"
)

// LoopbackDriver delivers every packet to an in-process Handler and queues
// its reply, as if the handler sat on the other end of a network. Replies are
// produced on separate goroutines, so concurrent calls can complete in any
// order.
type LoopbackDriver struct {
	handler Handler

	mu      sync.Mutex
	inbox   []*Received
	dropped int
	drop    int
}

// NewLoopbackDriver returns a driver that serves every request with h.
func NewLoopbackDriver(h Handler) *LoopbackDriver {
	return &LoopbackDriver{handler: h}
}

// DropNext makes the driver lose the next n requests before they reach the
// handler.
func (d *LoopbackDriver) DropNext(n int) {
	d.mu.Lock()
	d.drop += n
	d.mu.Unlock()
}

// Dropped is the number of requests lost so far.
func (d *LoopbackDriver) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// SendPacket hands the request to the handler on its own goroutine, unless
// DropNext says to lose it.
func (d *LoopbackDriver) SendPacket(addr string, header []byte, payload *wire.Iterator) {
	d.mu.Lock()
	if d.drop > 0 {
		d.drop--
		d.dropped++
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	hdr := append([]byte(nil), header...)
	req := payload.Collect()
	go func() {
		reply := d.handler.HandleRPC(context.Background(), req)
		d.mu.Lock()
		d.inbox = append(d.inbox, &Received{Addr: addr, Header: hdr, Payload: reply})
		d.mu.Unlock()
	}()
}

// TryRecvPacket returns the oldest queued reply, if any.
func (d *LoopbackDriver) TryRecvPacket() (*Received, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.inbox) == 0 {
		return nil, false
	}
	r := d.inbox[0]
	d.inbox = d.inbox[1:]
	return r, true
}

// Release does nothing; replies are plain byte slices.
func (d *LoopbackDriver) Release(*Received) {}
