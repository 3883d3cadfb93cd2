package transport

import (
	"context"
	"net"

	"github.com/1ureka/gpclient/internal/util"
)

const sendBufferSize = 100 // outgoing datagram channel capacity

// sender is a goroutine-based datagram writer that serializes all writes to
// the gateway socket, so datagrams leave in the order Send was called.
type sender struct {
	inbox chan []byte
}

// newSender creates a sender and starts the background loop. The loop exits
// when ctx is cancelled.
func newSender(ctx context.Context, conn *net.UDPConn, to *net.UDPAddr) *sender {
	s := &sender{
		inbox: make(chan []byte, sendBufferSize),
	}

	go s.loop(ctx, conn, to)

	return s
}

// loop is the single-writer goroutine. A failed write drops that datagram
// only; UDP gives no delivery guarantee to preserve anyway.
func (s *sender) loop(ctx context.Context, conn *net.UDPConn, to *net.UDPAddr) {
	for {
		select {
		case data := <-s.inbox:
			if _, err := conn.WriteToUDP(data, to); err != nil {
				util.LogError("failed to send %d-byte datagram to %s: %v", len(data), to, err)
				continue
			}
		case <-ctx.Done():
			return
		}
	}
}

// send enqueues a datagram for transmission. It blocks only while the
// internal buffer is full.
func (s *sender) send(ctx context.Context, done <-chan struct{}, data []byte) error {
	select {
	case s.inbox <- data:
		return nil
	case <-done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
