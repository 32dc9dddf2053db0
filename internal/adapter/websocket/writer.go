package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/fanout/internal/metrics"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongDeadline      = 60 * time.Second
	idleTimeout       = 5 * time.Minute
	messageBufferSize = 16
)

var (
	errConnectionClosed = errors.New("websocket closed")
	errSendBufferFull   = errors.New("send buffer full")
)

type outbound struct {
	payload []byte
	result  chan error
}

// clientWriter owns all writes to one socket. Messages are queued on a
// bounded buffer and written by a single goroutine that also sends pings.
type clientWriter struct {
	connection    *websocket.Conn
	clock         clockwork.Clock
	sendChannel   chan outbound
	doneChannel   chan struct{}
	exited        chan struct{}
	stopOnce      sync.Once
	lastActivity  time.Time
	activityMutex sync.Mutex
}

func newClientWriter(connection *websocket.Conn, clock clockwork.Clock) *clientWriter {
	cw := &clientWriter{
		connection:   connection,
		clock:        clock,
		sendChannel:  make(chan outbound, messageBufferSize),
		doneChannel:  make(chan struct{}),
		exited:       make(chan struct{}),
		lastActivity: clock.Now(),
	}
	cw.configurePongHandler()
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	ticker := cw.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer close(cw.exited)

	for {
		select {
		case msg := <-cw.sendChannel:
			start := cw.clock.Now()
			cw.updateWriteDeadline()
			err := cw.connection.WriteMessage(websocket.TextMessage, msg.payload)
			if err != nil {
				msg.result <- classifyWriteError(err)
				return
			}
			metrics.WebSocketMessageSendDuration.Observe(cw.clock.Since(start).Seconds())
			msg.result <- nil
		case <-ticker.Chan():
			if cw.checkIdleTimeout() {
				return
			}

			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				metrics.WebSocketPingFailures.Inc()
				return
			}
		case <-cw.doneChannel:
			return
		}
	}
}

// send queues payload and waits until it has been written, the writer has
// exited or ctx is done. A full buffer fails immediately.
func (cw *clientWriter) send(ctx context.Context, payload []byte) error {
	msg := outbound{payload: payload, result: make(chan error, 1)}

	select {
	case <-cw.exited:
		return errConnectionClosed
	default:
	}

	select {
	case cw.sendChannel <- msg:
	default:
		return errSendBufferFull
	}

	select {
	case err := <-msg.result:
		return err
	case <-cw.exited:
		select {
		case err := <-msg.result:
			return err
		default:
			return errConnectionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// classifyWriteError keeps write timeouts distinguishable from a dead socket.
func classifyWriteError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("write timeout: %w", err)
	}
	return fmt.Errorf("%w: %w", errConnectionClosed, err)
}

func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		_ = cw.connection.Close()
	})
	<-cw.exited
}

// stopGraceful sends a close frame with reason before closing.
func (cw *clientWriter) stopGraceful(code int, reason string) {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		// Wait for run to exit so the close frame is not written concurrently.
		<-cw.exited

		closeMsg := websocket.FormatCloseMessage(code, reason)
		cw.updateWriteDeadline()
		_ = cw.connection.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = cw.connection.Close()
	})
	<-cw.exited
}

func (cw *clientWriter) configurePongHandler() {
	cw.updateReadDeadline()
	cw.connection.SetPongHandler(func(string) error {
		cw.updateReadDeadline()
		cw.recordActivity()
		return nil
	})
}

func (cw *clientWriter) updateWriteDeadline() {
	_ = cw.connection.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
}

func (cw *clientWriter) updateReadDeadline() {
	_ = cw.connection.SetReadDeadline(cw.clock.Now().Add(pongDeadline))
}

func (cw *clientWriter) recordActivity() {
	cw.activityMutex.Lock()
	defer cw.activityMutex.Unlock()
	cw.lastActivity = cw.clock.Now()
}

// checkIdleTimeout reports whether the peer has been silent for idleTimeout.
func (cw *clientWriter) checkIdleTimeout() bool {
	cw.activityMutex.Lock()
	idleDuration := cw.clock.Since(cw.lastActivity)
	cw.activityMutex.Unlock()

	if idleDuration >= idleTimeout {
		metrics.WebSocketIdleDisconnects.Inc()
		return true
	}
	return false
}
