// Package tunnel runs the relay workers that carry intercepted local TCP
// connections and UDP datagrams to the relay server: TCP through one smux
// session, UDP as framed datagrams on a plain stream.
package tunnel

import (
	"context"
	"net"
	"net/netip"
	"time"
)

// TCPAcceptor yields intercepted local TCP connections together with the
// destination the application originally dialed.
type TCPAcceptor interface {
	Accept() (net.Conn, netip.AddrPort, error)
}

// UDPInterceptor yields intercepted local datagrams and injects replies.
// RecvFrom fills buf and reports the original source and destination.
// SendBack delivers a reply to src as if it came from dst.
type UDPInterceptor interface {
	RecvFrom(buf []byte) (src, dst netip.AddrPort, n int, err error)
	SendBack(b []byte, src, dst netip.AddrPort) error
}

// deadlineSetter lets a worker wake a collaborator blocked in Accept or
// RecvFrom when it shuts down. Collaborators without it are only checked
// between calls.
type deadlineSetter interface {
	SetDeadline(t time.Time) error
}

func interrupt(v any) {
	if d, ok := v.(deadlineSetter); ok {
		d.SetDeadline(time.Now())
	}
}

func resetDeadline(v any) {
	if d, ok := v.(deadlineSetter); ok {
		d.SetDeadline(time.Time{})
	}
}

// onDone runs fn once ctx ends. The returned wait cancels fn if it has not
// started, and otherwise blocks until it has returned, so a deadline reset
// after wait cannot be overtaken by a late interrupt.
func onDone(ctx context.Context, fn func()) (wait func()) {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(done)
		fn()
	})
	return func() {
		if !stop() {
			<-done
		}
	}
}
