package transport

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dreamware/tabletcoord/internal/wire"
)

// MockDriver is a deterministic stand-in for the network in tests. It
// records what is sent and hands back whatever packet was injected with
// SetInput, once.
type MockDriver struct {
	// HeaderToString, if set, renders packet headers in the output log.
	HeaderToString func(header []byte) string

	mu                 sync.Mutex
	input              *Received
	outputLog          strings.Builder
	sendPacketCount    int
	tryRecvPacketCount int
	releaseCount       int
	lastHeader         []byte
	lastPayload        []byte
}

// NewMockDriver returns a driver with nothing queued.
func NewMockDriver() *MockDriver {
	return &MockDriver{}
}

// SendPacket appends "header payload" to the output log, separating packets
// with " | ". Only the first 10 payload bytes are shown.
func (d *MockDriver) SendPacket(addr string, header []byte, payload *wire.Iterator) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sendPacketCount++
	d.lastHeader = append([]byte(nil), header...)
	d.lastPayload = nil

	if d.outputLog.Len() != 0 {
		d.outputLog.WriteString(" | ")
	}
	if d.HeaderToString != nil && header != nil {
		d.outputLog.WriteString(d.HeaderToString(header))
		d.outputLog.WriteString(" ")
	}
	if payload == nil {
		return
	}

	buf := payload.Collect()
	d.lastPayload = buf
	const take = 10
	if len(buf) <= take {
		d.outputLog.WriteString(BufToString(buf))
	} else {
		d.outputLog.WriteString(BufToString(buf[:take]))
		fmt.Fprintf(&d.outputLog, " (+%d more)", len(buf)-take)
	}
}

func (d *MockDriver) TryRecvPacket() (*Received, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.tryRecvPacketCount++
	if d.input == nil {
		return nil, false
	}
	r := d.input
	d.input = nil
	return r, true
}

func (d *MockDriver) Release(*Received) {
	d.mu.Lock()
	d.releaseCount++
	d.mu.Unlock()
}

// SetInput makes r the next packet TryRecvPacket returns.
func (d *MockDriver) SetInput(r *Received) {
	d.mu.Lock()
	d.input = r
	d.mu.Unlock()
}

// Reply injects payload as the reply to the most recently sent packet.
func (d *MockDriver) Reply(payload []byte) {
	d.mu.Lock()
	header := d.lastHeader
	d.mu.Unlock()
	d.SetInput(&Received{Header: header, Payload: payload})
}

// LastPayload is the payload of the most recently sent packet.
func (d *MockDriver) LastPayload() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastPayload
}

// LastHeader is the header of the most recently sent packet.
func (d *MockDriver) LastHeader() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastHeader
}

// OutputLog returns the log and clears it.
func (d *MockDriver) OutputLog() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.outputLog.String()
	d.outputLog.Reset()
	return s
}

func (d *MockDriver) SendPacketCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sendPacketCount
}

func (d *MockDriver) TryRecvPacketCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tryRecvPacketCount
}

func (d *MockDriver) ReleaseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releaseCount
}

// BufToString renders printable ASCII as is and every other byte as /xNN.
func BufToString(buf []byte) string {
	var b strings.Builder
	for _, c := range buf {
		if c >= 0x20 && c < 0x7f {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "/x%02x", c)
		}
	}
	return b.String()
}
