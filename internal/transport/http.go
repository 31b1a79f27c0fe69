package transport

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dreamware/tabletcoord/internal/wire"
)

// RPCPath is where coordinators accept framed requests.
const RPCPath = "/rpc"

const maxFrameSize = 16 << 20

// HTTPDriver carries each packet as the body of one POST to {addr}/rpc. The
// reply body is the reply packet. Sends run on their own goroutines so
// SendPacket returns immediately; failed exchanges are logged and dropped,
// which the session reports as timeouts.
type HTTPDriver struct {
	client *http.Client

	mu    sync.Mutex
	inbox []*Received

	wg sync.WaitGroup
}

// NewHTTPDriver returns a driver whose exchanges give up after timeout.
func NewHTTPDriver(timeout time.Duration) *HTTPDriver {
	return &HTTPDriver{client: &http.Client{Timeout: timeout}}
}

// SendPacket posts the framed packet to addr on its own goroutine.
func (d *HTTPDriver) SendPacket(addr string, header []byte, payload *wire.Iterator) {
	frame, err := EncodeFrame(header, payload.Collect())
	if err != nil {
		log.Printf("transport: cannot frame packet for %s: %v", addr, err)
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		r, err := d.exchange(addr, frame)
		if err != nil {
			log.Printf("transport: exchange with %s failed: %v", addr, err)
			return
		}
		d.mu.Lock()
		d.inbox = append(d.inbox, r)
		d.mu.Unlock()
	}()
}

func (d *HTTPDriver) exchange(addr string, frame []byte) (*Received, error) {
	resp, err := d.client.Post(rpcURL(addr), "application/octet-stream", bytes.NewReader(frame))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameSize))
	if err != nil {
		return nil, err
	}
	header, payload, err := DecodeFrame(body)
	if err != nil {
		return nil, err
	}
	return &Received{Addr: addr, Header: header, Payload: payload}, nil
}

// TryRecvPacket returns the oldest reply received, if any.
func (d *HTTPDriver) TryRecvPacket() (*Received, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.inbox) == 0 {
		return nil, false
	}
	r := d.inbox[0]
	d.inbox = d.inbox[1:]
	return r, true
}

func (d *HTTPDriver) Release(*Received) {}

// Close waits for in-flight exchanges to finish.
func (d *HTTPDriver) Close() {
	d.wg.Wait()
}

// rpcURL accepts both "host:port" and full URLs, like the health checker.
func rpcURL(addr string) string {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = "http://" + addr
	}
	return strings.TrimRight(url, "/") + RPCPath
}

// NewHTTPHandler serves framed requests for h: the frame header is echoed
// unchanged on the reply so the caller's session can match it.
func NewHTTPHandler(h Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameSize))
		if err != nil {
			http.Error(w, "read error", http.StatusBadRequest)
			return
		}
		header, payload, err := DecodeFrame(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reply, err := EncodeFrame(header, h.HandleRPC(r.Context(), payload))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(reply)
	})
}
