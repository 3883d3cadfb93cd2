package tunnel

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/xtaci/smux"

	"github.com/1ureka/gpclient/internal/protocol"
	"github.com/1ureka/gpclient/internal/util"
)

// Options tunes a relay worker. The zero value uses the defaults.
type Options struct {
	KeepAliveInterval time.Duration
}

// RunTCPWorker connects to the relay in TCP mode and bridges every
// connection from acceptor through its own smux stream. It returns when ctx
// is cancelled, the session dies or the acceptor fails; bridges still in
// flight are torn down with the session before it returns.
func RunTCPWorker(ctx context.Context, relayAddr string, acceptor TCPAcceptor, opts Options) error {
	conn, err := DialRelay(ctx, relayAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := protocol.WriteMode(conn, protocol.ModeTCP); err != nil {
		return fmt.Errorf("send tcp mode: %w", err)
	}

	session, err := smux.Client(conn, protocol.SmuxConfig(opts.KeepAliveInterval))
	if err != nil {
		return fmt.Errorf("start smux session: %w", err)
	}
	defer session.Close()

	util.LogSuccess("relay %s connected (tcp mode)", relayAddr)

	resetDeadline(acceptor)
	defer resetDeadline(acceptor)

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Session death or shutdown wakes a blocked Accept.
	go func() {
		select {
		case <-session.CloseChan():
			cancel()
		case <-wctx.Done():
		}
	}()
	wait := onDone(wctx, func() {
		session.Close()
		interrupt(acceptor)
	})
	defer wait()

	var wg sync.WaitGroup
	defer func() {
		cancel()
		session.Close()
		wg.Wait()
	}()

	for wctx.Err() == nil {
		local, dst, err := acceptor.Accept()
		if err != nil {
			if wctx.Err() != nil {
				break
			}
			return fmt.Errorf("accept intercepted connection: %w", err)
		}

		stream, err := session.OpenStream()
		if err != nil {
			local.Close()
			if wctx.Err() != nil {
				break
			}
			return fmt.Errorf("open relay stream: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			bridge(local, stream, dst)
		}()
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return ErrRelayClosed
}

// bridge sends the target header on stream and then copies bytes both ways
// until the connection pair is done. Failures stay local to this pair.
func bridge(local net.Conn, stream *smux.Stream, dst netip.AddrPort) {
	tag := fmt.Sprintf("[tcp %s]", dst)
	util.Stats.AddConn()
	defer util.Stats.RemoveConn()

	if err := protocol.WriteTarget(stream, dst.String()); err != nil {
		util.LogWarning("%s failed to send target: %v", tag, err)
		local.Close()
		stream.Close()
		return
	}
	util.LogDebug("%s stream %d opened", tag, stream.ID())

	up, down := util.Pipe(local, protocol.NewStreamConn(stream))
	util.Stats.AddUp(up)
	util.Stats.AddDown(down)
	util.LogDebug("%s closed (%d bytes up, %d bytes down)", tag, up, down)
}
