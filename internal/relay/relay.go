// Package relay is the server end of the relay protocol. It terminates TCP
// mode smux sessions by dialing each stream's target, and UDP mode framed
// streams by keeping one outbound UDP socket per flow.
package relay

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/xtaci/smux"

	"github.com/1ureka/gpclient/internal/protocol"
	"github.com/1ureka/gpclient/internal/util"
)

// Tuning constants.
const (
	dialTimeout        = 10 * time.Second
	modeTimeout        = 10 * time.Second
	DefaultUDPIdleTime = 60 * time.Second
)

// Server accepts relay clients. The zero value is ready to use.
type Server struct {
	KeepAlive   time.Duration // smux keepalive, protocol.DefaultKeepAlive when zero
	UDPIdleTime time.Duration // idle lifetime of a UDP flow, DefaultUDPIdleTime when zero
	PIN         string        // required "pin" query parameter on WebSocket upgrades, if set
}

// Serve accepts connections on ln until ctx is cancelled or ln fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	util.LogInfo("relay listening on %s", ln.Addr())

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept relay client: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.ServeConn(ctx, conn)
		}()
	}
}

// ServeConn reads the mode byte and runs the matching protocol until the
// client goes away or ctx is cancelled. It always closes conn.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetReadDeadline(time.Now().Add(modeTimeout))
	mode, err := protocol.ReadMode(conn)
	if err != nil {
		util.LogWarning("[relay %s] bad handshake: %v", conn.RemoteAddr(), err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	util.LogInfo("[relay %s] client connected (%s mode)", conn.RemoteAddr(), protocol.ModeName(mode))

	switch mode {
	case protocol.ModeTCP:
		err = s.serveTCP(ctx, conn)
	case protocol.ModeUDP:
		err = s.serveUDP(conn)
	}
	if err != nil && ctx.Err() == nil {
		util.LogInfo("[relay %s] client gone: %v", conn.RemoteAddr(), err)
	}
}

// serveTCP runs the smux server side: one goroutine per stream.
func (s *Server) serveTCP(ctx context.Context, conn net.Conn) error {
	session, err := smux.Server(conn, protocol.SmuxConfig(s.KeepAlive))
	if err != nil {
		return err
	}
	defer session.Close()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		stream, err := session.AcceptStream()
		if err != nil {
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleStream(ctx, stream)
		}()
	}
}

// handleStream reads the target header, dials it and bridges the stream.
func (s *Server) handleStream(ctx context.Context, stream *smux.Stream) {
	defer stream.Close()

	target, err := protocol.ReadTarget(stream)
	if err != nil {
		util.LogWarning("[stream %d] bad target header: %v", stream.ID(), err)
		return
	}

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	var d net.Dialer
	remote, err := d.DialContext(dctx, "tcp", target)
	if err != nil {
		util.LogWarning("[stream %d] dial %s failed: %v", stream.ID(), target, err)
		return
	}

	util.Stats.AddConn()
	defer util.Stats.RemoveConn()

	up, down := util.Pipe(protocol.NewStreamConn(stream), remote)
	util.Stats.AddUp(up)
	util.Stats.AddDown(down)
	util.LogDebug("[stream %d] %s closed (%d bytes up, %d bytes down)", stream.ID(), target, up, down)
}
