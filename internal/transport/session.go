package transport

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dreamware/tabletcoord/internal/wire"
)

var (
	// ErrTimeout means no reply arrived before the call's deadline. The
	// request may or may not have been applied by the peer.
	ErrTimeout = errors.New("rpc timed out")
	// ErrSessionClosed means the session was closed while the call was
	// outstanding, or before it was sent.
	ErrSessionClosed = errors.New("session closed")
)

const (
	defaultTimeout      = 5 * time.Second
	defaultPollInterval = time.Millisecond
)

// SessionConfig tunes a Session. Zero fields take defaults.
type SessionConfig struct {
	// Timeout bounds how long a call waits for its reply (default 5s).
	Timeout time.Duration
	// PollInterval is how long the receive loop sleeps when the driver has
	// nothing for it (default 1ms).
	PollInterval time.Duration
}

// Session binds a Driver to one remote address and matches replies to
// outstanding calls.
//
// Each call is stamped with a fresh UUID that travels as the packet header;
// the peer echoes it on the reply. A background goroutine drains the driver
// and completes the matching call. Replies for calls nobody waits for any
// more are dropped.
//
// A Session is shared by every caller in the process; the calls it hands out
// are not.
type Session struct {
	driver       Driver
	addr         string
	timeout      time.Duration
	pollInterval time.Duration

	mu      sync.Mutex
	pending map[uuid.UUID]*Call
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession starts the receive loop for driver and returns the session.
// Close must be called to stop it.
func NewSession(driver Driver, addr string, cfg SessionConfig) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		driver:       driver,
		addr:         addr,
		timeout:      cfg.Timeout,
		pollInterval: cfg.PollInterval,
		pending:      make(map[uuid.UUID]*Call),
		ctx:          ctx,
		cancel:       cancel,
	}
	s.wg.Add(1)
	go s.receiveLoop()
	return s
}

// Addr is the remote address every call of this session goes to.
func (s *Session) Addr() string { return s.addr }

// Send registers a call for req and hands it to the driver. It never waits
// for the network.
func (s *Session) Send(req *wire.Buffer) (*Call, error) {
	call := &Call{
		id:       uuid.New(),
		session:  s,
		done:     make(chan struct{}),
		deadline: time.Now().Add(s.timeout),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.pending[call.id] = call
	s.mu.Unlock()

	header, _ := call.id.MarshalBinary()
	s.driver.SendPacket(s.addr, header, req.Iterator())
	return call, nil
}

// Outstanding reports how many calls are waiting for replies.
func (s *Session) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close stops the receive loop and fails every outstanding call with
// ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.pending
	s.pending = make(map[uuid.UUID]*Call)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	for _, call := range pending {
		call.finish(nil, ErrSessionClosed)
	}
}

func (s *Session) receiveLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		for s.receiveOne() {
		}
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// receiveOne delivers at most one packet; it reports whether it found one.
func (s *Session) receiveOne() bool {
	r, ok := s.driver.TryRecvPacket()
	if !ok {
		return false
	}
	defer s.driver.Release(r)

	id, err := uuid.FromBytes(r.Header)
	if err != nil {
		log.Printf("transport: dropping packet from %s with bad header: %v", r.Addr, err)
		return true
	}

	s.mu.Lock()
	call := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()

	if call == nil {
		log.Printf("transport: dropping reply for unknown call %s", id)
		return true
	}
	reply := make([]byte, len(r.Payload))
	copy(reply, r.Payload)
	call.finish(reply, nil)
	return true
}

func (s *Session) forget(call *Call) {
	s.mu.Lock()
	delete(s.pending, call.id)
	s.mu.Unlock()
}

// Call is one outstanding request on a Session.
type Call struct {
	id       uuid.UUID
	session  *Session
	deadline time.Time

	once  sync.Once
	done  chan struct{}
	reply []byte
	err   error
}

// ID is the correlation id carried in the packet header.
func (c *Call) ID() uuid.UUID { return c.id }

// Done is closed once the reply (or a terminal error) is available.
func (c *Call) Done() <-chan struct{} { return c.done }

// Wait blocks until the reply arrives, the call's deadline passes or ctx
// ends. The returned slice belongs to the caller.
func (c *Call) Wait(ctx context.Context) ([]byte, error) {
	timer := time.NewTimer(time.Until(c.deadline))
	defer timer.Stop()

	select {
	case <-c.done:
		return c.reply, c.err
	case <-timer.C:
		c.session.forget(c)
		c.finish(nil, ErrTimeout)
	case <-ctx.Done():
		c.session.forget(c)
		c.finish(nil, ctx.Err())
	}
	<-c.done
	return c.reply, c.err
}

func (c *Call) finish(reply []byte, err error) {
	c.once.Do(func() {
		c.reply = reply
		c.err = err
		close(c.done)
	})
}
