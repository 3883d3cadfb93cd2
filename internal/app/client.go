// Package app contains the top-level orchestration for the client and relay roles.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/1ureka/gpclient/internal/adapter"
	"github.com/1ureka/gpclient/internal/config"
	"github.com/1ureka/gpclient/internal/probe"
	"github.com/1ureka/gpclient/internal/transport"
	"github.com/1ureka/gpclient/internal/tunnel"
	"github.com/1ureka/gpclient/internal/util"
)

// maxProbeFailures is how many consecutive failed probes end an ESP session.
const maxProbeFailures = 3

// ErrGatewayUnresponsive ends an ESP session whose probes keep failing.
var ErrGatewayUnresponsive = errors.New("app: gateway stopped answering probes")

// RunClient runs everything the client config asks for until ctx ends:
//  1. Open one local listener per forward
//  2. Keep a relay worker running for each, reconnecting with backoff
//  3. Keep an ESP session to the gateway alive with liveness probes
//
// Listener setup errors are returned immediately; worker failures are only
// logged and retried.
func RunClient(ctx context.Context, cfg *config.Config) error {
	var workers []func(ctx context.Context) (string, error)
	opts := tunnel.Options{KeepAliveInterval: time.Duration(cfg.KeepAlive)}

	for _, f := range cfg.TCPForwards {
		dst, err := f.TargetAddr()
		if err != nil {
			return err
		}
		acc, err := adapter.ListenTCP(f.Listen, dst)
		if err != nil {
			return err
		}
		defer acc.Close()

		util.LogInfo("forwarding tcp %s -> %s", acc.Addr(), dst)
		name := fmt.Sprintf("tcp %s", acc.Addr())
		workers = append(workers, func(ctx context.Context) (string, error) {
			return name, tunnel.RunTCPWorker(ctx, cfg.Relay, acc, opts)
		})
	}

	for _, f := range cfg.UDPForwards {
		dst, err := f.TargetAddr()
		if err != nil {
			return err
		}
		fwd, err := adapter.ListenUDP(f.Listen, dst)
		if err != nil {
			return err
		}
		defer fwd.Close()

		util.LogInfo("forwarding udp %s -> %s", fwd.Addr(), dst)
		name := fmt.Sprintf("udp %s", fwd.Addr())
		workers = append(workers, func(ctx context.Context) (string, error) {
			return name, tunnel.RunUDPWorker(ctx, cfg.Relay, fwd)
		})
	}

	if cfg.Session != nil {
		params := *cfg.Session
		interval := time.Duration(cfg.ProbeInterval)
		workers = append(workers, func(ctx context.Context) (string, error) {
			return "esp " + params.Gateway, RunSession(ctx, params, interval)
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		w := w
		g.Go(func() error { return retry(gctx, w) })
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// RunSession opens the UDP data channel to the gateway and probes it every
// interval. It returns ErrGatewayUnresponsive after maxProbeFailures
// consecutive failures, or the first transport error.
func RunSession(ctx context.Context, params config.SessionParams, interval time.Duration) error {
	pair, err := params.Pair()
	if err != nil {
		return err
	}

	client, err := transport.Dial(ctx, params.LocalAddr, params.Gateway)
	if err != nil {
		return err
	}
	defer client.Close()

	util.LogSuccess("esp session to %s on %s (out %s, in %s)", client.Gateway(), client.LocalAddr(), pair.Outbound, pair.Inbound)

	g, gctx := errgroup.WithContext(ctx)
	datagrams := make(chan transport.Datagram, 64)
	results := make(chan probe.Result)

	prober := probe.NewProber(pair, client, datagrams)
	if interval > 0 {
		prober.Interval = interval
	}

	g.Go(func() error { return client.RunReceiveLoop(gctx, datagrams) })
	g.Go(func() error { return prober.Run(gctx, results) })
	g.Go(func() error {
		failures := 0
		for {
			select {
			case res := <-results:
				if res.OK() {
					failures = 0
					continue
				}
				failures++
				if failures >= maxProbeFailures {
					return fmt.Errorf("%w: %d probes in a row", ErrGatewayUnresponsive, failures)
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	err = g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Reconnect backoff bounds.
const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// retry runs fn until ctx ends, waiting between failed attempts with
// exponential backoff. A run that lasted longer than maxBackoff resets it.
func retry(ctx context.Context, fn func(ctx context.Context) (string, error)) error {
	backoff := minBackoff
	for {
		started := time.Now()
		name, err := fn(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if time.Since(started) > maxBackoff {
			backoff = minBackoff
		}
		util.LogWarning("[%s] %v, retrying in %v", name, err, backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
