package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/1ureka/gpclient/internal/protocol"
	"github.com/1ureka/gpclient/internal/util"
)

// RunUDPWorker connects to the relay in UDP mode and runs the uplink and
// downlink loops concurrently over the one connection. When either loop
// stops, the other is woken and the worker returns the first error.
func RunUDPWorker(ctx context.Context, relayAddr string, ic UDPInterceptor) error {
	conn, err := DialRelay(ctx, relayAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := protocol.WriteMode(conn, protocol.ModeUDP); err != nil {
		return fmt.Errorf("send udp mode: %w", err)
	}
	util.LogSuccess("relay %s connected (udp mode)", relayAddr)

	resetDeadline(ic)
	defer resetDeadline(ic)

	g, gctx := errgroup.WithContext(ctx)
	wait := onDone(gctx, func() {
		conn.Close()
		interrupt(ic)
	})
	defer wait()

	g.Go(func() error { return uplink(gctx, conn, ic) })
	g.Go(func() error { return downlink(gctx, conn, ic) })

	err = g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// uplink forwards intercepted datagrams to the relay, one flushed frame each.
func uplink(ctx context.Context, conn net.Conn, ic UDPInterceptor) error {
	w := bufio.NewWriter(conn)
	buf := make([]byte, protocol.MaxPayloadSize)

	for ctx.Err() == nil {
		src, dst, n, err := ic.RecvFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receive intercepted datagram: %w", err)
		}

		f := &protocol.Frame{
			Key:     protocol.AddrKey{Src: src, Dst: dst},
			Payload: buf[:n],
		}
		if err := protocol.WriteFrame(w, f); err != nil {
			if errors.Is(err, protocol.ErrNotIPv4) {
				util.LogDebug("[udp %s -> %s] dropped: %v", src, dst, err)
				continue
			}
			return fmt.Errorf("write frame: %w", err)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush frame: %w", err)
		}
		util.Stats.AddUp(int64(protocol.FrameHeaderSize + n))
		util.Stats.AddDatagram()
	}
	return ctx.Err()
}

// downlink reads frames from the relay and injects each payload back to the
// local socket identified by the frame's address key.
func downlink(ctx context.Context, conn net.Conn, ic UDPInterceptor) error {
	r := bufio.NewReader(conn)

	for ctx.Err() == nil {
		f, err := protocol.ReadFrame(r)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return ErrRelayClosed
			}
			return fmt.Errorf("read frame: %w", err)
		}
		util.Stats.AddDown(int64(protocol.FrameHeaderSize + len(f.Payload)))
		util.Stats.AddDatagram()

		if err := ic.SendBack(f.Payload, f.Key.Src, f.Key.Dst); err != nil {
			util.LogWarning("[udp %s -> %s] reply not delivered: %v", f.Key.Dst, f.Key.Src, err)
		}
	}
	return ctx.Err()
}
