package app

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/1ureka/gpclient/internal/config"
	"github.com/1ureka/gpclient/internal/relay"
	"github.com/1ureka/gpclient/internal/util"
)

// RunRelay listens on cfg.Listen and serves relay clients until ctx ends,
// over WebSocket when cfg.WebSocket is set and raw TCP otherwise.
func RunRelay(ctx context.Context, cfg *config.Config) error {
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Listen, err)
	}
	defer ln.Close()

	srv := &relay.Server{KeepAlive: time.Duration(cfg.KeepAlive), PIN: cfg.PIN}
	if cfg.WebSocket {
		if srv.PIN == "auto" {
			srv.PIN = relay.GeneratePIN(6)
		}
		if srv.PIN != "" {
			util.LogInfo("relay PIN: %s (clients connect to ws://%s%s?pin=%s)", srv.PIN, ln.Addr(), relay.WebSocketPath, srv.PIN)
		}
		err = srv.ServeWebSocket(ctx, ln)
	} else {
		err = srv.Serve(ctx, ln)
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}
