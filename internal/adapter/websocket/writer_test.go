package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnPair(t *testing.T) (server *ws.Conn, client *ws.Conn) {
	t.Helper()
	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	ready := make(chan *ws.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		ready <- conn
	}))
	t.Cleanup(func() { srv.Close() })

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	serverConn := <-ready
	t.Cleanup(func() { serverConn.Close() })
	return serverConn, clientConn
}

func TestClientWriter_SendWritesMessage(t *testing.T) {
	server, client := newTestConnPair(t)
	cw := newClientWriter(server, clockwork.NewRealClock())
	t.Cleanup(cw.stop)

	require.NoError(t, cw.send(context.Background(), []byte(`{"n":1}`)))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(msg))
}

func TestClientWriter_SendAfterStopIsClosed(t *testing.T) {
	server, _ := newTestConnPair(t)
	cw := newClientWriter(server, clockwork.NewRealClock())
	cw.stop()

	err := cw.send(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, errConnectionClosed)
}

func TestClientWriter_SendToClosedSocketIsClosed(t *testing.T) {
	server, _ := newTestConnPair(t)
	cw := newClientWriter(server, clockwork.NewRealClock())
	t.Cleanup(cw.stop)

	require.NoError(t, server.Close())

	err := cw.send(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, errConnectionClosed)
}

func TestClientWriter_IdleTimeout(t *testing.T) {
	fakeClock := clockwork.NewFakeClock()
	server, _ := newTestConnPair(t)

	cw := newClientWriter(server, fakeClock)
	t.Cleanup(cw.stop)

	assert.False(t, cw.checkIdleTimeout())

	cw.activityMutex.Lock()
	cw.lastActivity = fakeClock.Now().Add(-idleTimeout)
	cw.activityMutex.Unlock()

	assert.True(t, cw.checkIdleTimeout(), "connection should be marked for disconnect due to idle timeout")
}

func TestClientWriter_ActivityResetsIdleTimer(t *testing.T) {
	fakeClock := clockwork.NewFakeClock()
	server, _ := newTestConnPair(t)

	cw := newClientWriter(server, fakeClock)
	t.Cleanup(cw.stop)

	cw.activityMutex.Lock()
	cw.lastActivity = fakeClock.Now().Add(-idleTimeout)
	cw.activityMutex.Unlock()

	cw.recordActivity()
	assert.False(t, cw.checkIdleTimeout(), "client should not time out right after activity")
}

func TestClientWriter_StopGracefulSendsCloseFrame(t *testing.T) {
	server, client := newTestConnPair(t)
	cw := newClientWriter(server, clockwork.NewRealClock())

	cw.stopGraceful(ws.CloseGoingAway, "server shutting down")

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	if closeErr, ok := err.(*ws.CloseError); ok {
		assert.Equal(t, ws.CloseGoingAway, closeErr.Code)
		assert.Contains(t, closeErr.Text, "shutting down")
	} else {
		assert.Error(t, err, "connection should be closed")
	}
}

func TestClientWriter_ConcurrentStop(t *testing.T) {
	server, _ := newTestConnPair(t)
	cw := newClientWriter(server, clockwork.NewRealClock())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cw.stop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("concurrent stop calls deadlocked")
	}
}
