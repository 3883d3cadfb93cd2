// Package adapter provides local stand-ins for the layer-4 interception
// collaborator: a TCP listener and a UDP socket whose traffic is forwarded to
// one fixed destination through the relay workers.
package adapter

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/1ureka/gpclient/internal/util"
)

// ListenerAcceptor turns every connection accepted on a local listener into an
// intercepted flow bound for a fixed destination.
type ListenerAcceptor struct {
	ln  net.Listener
	dst netip.AddrPort
}

// ListenTCP listens on addr and forwards accepted connections to dst.
func ListenTCP(addr string, dst netip.AddrPort) (*ListenerAcceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return NewListenerAcceptor(ln, dst), nil
}

// NewListenerAcceptor wraps an existing listener.
func NewListenerAcceptor(ln net.Listener, dst netip.AddrPort) *ListenerAcceptor {
	return &ListenerAcceptor{ln: ln, dst: dst}
}

// Accept blocks for the next local connection.
func (a *ListenerAcceptor) Accept() (net.Conn, netip.AddrPort, error) {
	conn, err := a.ln.Accept()
	if err != nil {
		return nil, netip.AddrPort{}, err
	}
	util.LogDebug("new connection from %s -> %s", conn.RemoteAddr(), a.dst)
	return conn, a.dst, nil
}

// SetDeadline bounds a pending Accept; the zero time clears it.
func (a *ListenerAcceptor) SetDeadline(t time.Time) error {
	if d, ok := a.ln.(interface{ SetDeadline(time.Time) error }); ok {
		return d.SetDeadline(t)
	}
	return nil
}

// Addr returns the local listening address.
func (a *ListenerAcceptor) Addr() net.Addr { return a.ln.Addr() }

// Close stops accepting.
func (a *ListenerAcceptor) Close() error { return a.ln.Close() }

// UDPForwarder receives datagrams from local peers on one socket, tags them
// with a fixed destination and writes replies back to the originating peer.
type UDPForwarder struct {
	conn *net.UDPConn
	dst  netip.AddrPort
}

// ListenUDP binds addr and forwards every datagram received there to dst.
func ListenUDP(addr string, dst netip.AddrPort) (*UDPForwarder, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &UDPForwarder{conn: conn, dst: dst}, nil
}

// RecvFrom reads one local datagram into buf.
func (f *UDPForwarder) RecvFrom(buf []byte) (src, dst netip.AddrPort, n int, err error) {
	n, from, err := f.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return netip.AddrPort{}, netip.AddrPort{}, 0, err
	}
	src = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
	return src, f.dst, n, nil
}

// SendBack writes a reply to the local peer src. The relay echoes the flow's
// original key, so dst is always the forwarder's own destination.
func (f *UDPForwarder) SendBack(b []byte, src, dst netip.AddrPort) error {
	if dst != f.dst {
		return fmt.Errorf("reply from unexpected source %s", dst)
	}
	_, err := f.conn.WriteToUDPAddrPort(b, src)
	return err
}

// SetDeadline bounds a pending RecvFrom; the zero time clears it.
func (f *UDPForwarder) SetDeadline(t time.Time) error {
	return f.conn.SetReadDeadline(t)
}

// Addr returns the local socket address.
func (f *UDPForwarder) Addr() net.Addr { return f.conn.LocalAddr() }

// Close releases the socket.
func (f *UDPForwarder) Close() error { return f.conn.Close() }
