package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	frame, err := EncodeFrame([]byte("hdr"), []byte("body"))
	require.NoError(t, err)

	h, p, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, []byte("hdr"), h)
	assert.Equal(t, []byte("body"), p)

	_, _, err = DecodeFrame([]byte{0x01})
	assert.ErrorIs(t, err, ErrBadFrame)
	_, _, err = DecodeFrame([]byte{0x09, 0x00, 'a'})
	assert.ErrorIs(t, err, ErrBadFrame)
}

// TestHTTPDriverEndToEnd runs a session over HTTP against NewHTTPHandler.
func TestHTTPDriverEndToEnd(t *testing.T) {
	upper := HandlerFunc(func(_ context.Context, req []byte) []byte {
		return []byte(strings.ToUpper(string(req)))
	})
	srv := httptest.NewServer(NewHTTPHandler(upper))
	defer srv.Close()

	driver := NewHTTPDriver(time.Second)
	defer driver.Close()
	s := NewSession(driver, srv.URL, SessionConfig{Timeout: 2 * time.Second})
	defer s.Close()

	call, err := s.Send(payload("hello"))
	require.NoError(t, err)
	reply, err := call.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("HELLO"), reply)
}

// TestHTTPDriverUnreachable turns a dead peer into a timeout.
func TestHTTPDriverUnreachable(t *testing.T) {
	driver := NewHTTPDriver(100 * time.Millisecond)
	defer driver.Close()
	s := NewSession(driver, "127.0.0.1:1", SessionConfig{Timeout: 200 * time.Millisecond})
	defer s.Close()

	call, err := s.Send(payload("hello"))
	require.NoError(t, err)
	_, err = call.Wait(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
}

// TestHTTPDriverCloseWaitsForExchanges holds a reply open and checks Close
// does not return until the exchange is done.
func TestHTTPDriverCloseWaitsForExchanges(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(NewHTTPHandler(HandlerFunc(func(_ context.Context, req []byte) []byte {
		<-release
		return req
	})))
	defer srv.Close()

	driver := NewHTTPDriver(time.Second)
	driver.SendPacket(srv.URL, []byte("hdr"), payload("slow").Iterator())

	closed := make(chan struct{})
	go func() {
		driver.Close()
		close(closed)
	}()
	select {
	case <-closed:
		close(release)
		t.Fatal("Close returned with an exchange in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the exchange finished")
	}
	r, ok := driver.TryRecvPacket()
	require.True(t, ok)
	assert.Equal(t, []byte("slow"), r.Payload)
}

func TestHTTPHandlerRejects(t *testing.T) {
	h := NewHTTPHandler(HandlerFunc(func(context.Context, []byte) []byte { return nil }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RPCPath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, RPCPath, strings.NewReader("x")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRPCURL(t *testing.T) {
	assert.Equal(t, "http://host:1/rpc", rpcURL("host:1"))
	assert.Equal(t, "https://host:1/rpc", rpcURL("https://host:1/"))
}
