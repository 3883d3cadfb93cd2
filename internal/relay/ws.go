package relay

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/1ureka/gpclient/internal/util"
)

// WebSocketPath is where ServeWebSocket accepts relay clients.
const WebSocketPath = "/relay"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler returns an http.Handler that upgrades requests and serves each
// WebSocket as a relay connection. When s.PIN is set, requests must carry it
// as the "pin" query parameter.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketPath, func(w http.ResponseWriter, r *http.Request) {
		if s.PIN != "" && subtle.ConstantTimeCompare([]byte(r.URL.Query().Get("pin")), []byte(s.PIN)) != 1 {
			http.Error(w, "Invalid PIN", http.StatusUnauthorized)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.ServeConn(ctx, util.WrapWebSocket(ws))
	})
	return mux
}

// ServeWebSocket serves relay clients over WebSocket on ln until ctx ends.
func (s *Server) ServeWebSocket(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(ctx)}
	stop := context.AfterFunc(ctx, func() { srv.Close() })
	defer stop()

	util.LogInfo("relay listening on ws://%s%s", ln.Addr(), WebSocketPath)

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket relay: %w", err)
	}
	return ctx.Err()
}

// GeneratePIN returns a random numeric PIN of the specified length.
func GeneratePIN(length int) string {
	digits := make([]byte, length)
	for i := range digits {
		n, _ := rand.Int(rand.Reader, big.NewInt(10))
		digits[i] = byte('0') + byte(n.Int64())
	}
	return string(digits)
}
