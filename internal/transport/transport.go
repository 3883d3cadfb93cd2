// Package transport owns the UDP socket that carries ESP traffic to the
// gateway. Writes are funnelled through a single sender goroutine; reads are
// exposed as a blocking call or as a loop feeding a channel.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// maxDatagramSize bounds a single read; anything larger is truncated by the kernel.
const maxDatagramSize = 64 * 1024

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport: client closed")

// Datagram is one received UDP payload and its sender.
type Datagram struct {
	Data []byte
	From *net.UDPAddr
}

// Client is a UDP endpoint bound locally and aimed at one gateway address.
type Client struct {
	conn    *net.UDPConn
	gateway *net.UDPAddr
	sender  *sender

	ctx    context.Context
	cancel context.CancelFunc
}

// Dial binds localAddr (empty for an ephemeral port) and starts the sender
// goroutine for gatewayAddr. The client lives until Close or until ctx ends.
func Dial(ctx context.Context, localAddr, gatewayAddr string) (*Client, error) {
	gateway, err := net.ResolveUDPAddr("udp", gatewayAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve gateway %s: %w", gatewayAddr, err)
	}

	var laddr *net.UDPAddr
	if localAddr != "" {
		if laddr, err = net.ResolveUDPAddr("udp", localAddr); err != nil {
			return nil, fmt.Errorf("resolve local address %s: %w", localAddr, err)
		}
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("bind UDP socket: %w", err)
	}

	cCtx, cCancel := context.WithCancel(ctx)
	c := &Client{
		conn:    conn,
		gateway: gateway,
		sender:  newSender(cCtx, conn, gateway),
		ctx:     cCtx,
		cancel:  cCancel,
	}

	// Close the socket with the client so blocked reads return.
	context.AfterFunc(cCtx, func() { conn.Close() })

	return c, nil
}

// LocalAddr returns the bound socket address.
func (c *Client) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// Gateway returns the resolved gateway address.
func (c *Client) Gateway() *net.UDPAddr {
	return c.gateway
}

// Done is closed once the client shuts down.
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close stops the sender and closes the socket.
func (c *Client) Close() error {
	c.cancel()
	return nil
}

// Send queues data for the gateway without touching the socket. Datagrams
// are written in call order.
func (c *Client) Send(ctx context.Context, data []byte) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	return c.sender.send(ctx, c.ctx.Done(), data)
}

// Receive blocks for one datagram.
func (c *Client) Receive() (Datagram, error) {
	buf := make([]byte, maxDatagramSize)
	return c.receive(buf)
}

func (c *Client) receive(buf []byte) (Datagram, error) {
	n, from, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		if c.ctx.Err() != nil {
			return Datagram{}, ErrClosed
		}
		return Datagram{}, fmt.Errorf("receive: %w", err)
	}
	data := make([]byte, n)
	copy(data, buf[:n])
	return Datagram{Data: data, From: from}, nil
}

// RunReceiveLoop delivers every received datagram to out until a read fails
// or ctx is cancelled. It does not reconnect; the read error is returned.
func (c *Client) RunReceiveLoop(ctx context.Context, out chan<- Datagram) error {
	c.conn.SetReadDeadline(time.Time{})

	// Wake the blocked read when ctx ends without closing the socket.
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, maxDatagramSize)
	for {
		d, err := c.receive(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		select {
		case out <- d:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return ErrClosed
		}
	}
}
