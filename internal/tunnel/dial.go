package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/gpclient/internal/util"
)

// ErrConnectFailed wraps any failure to reach the relay.
var ErrConnectFailed = errors.New("tunnel: relay unreachable")

// ErrRelayClosed is returned when the relay side ends a running worker.
var ErrRelayClosed = errors.New("tunnel: relay connection closed")

const dialTimeout = 10 * time.Second

// DialRelay connects to the relay server. addr is "host:port" or
// "tcp://host:port" for a raw TCP relay, or a "ws://" / "wss://" URL for a
// relay reachable over WebSocket.
func DialRelay(ctx context.Context, addr string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	switch {
	case strings.HasPrefix(addr, "ws://"), strings.HasPrefix(addr, "wss://"):
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConnectFailed, addr, err)
		}
		return util.WrapWebSocket(ws), nil

	default:
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", strings.TrimPrefix(addr, "tcp://"))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConnectFailed, addr, err)
		}
		return conn, nil
	}
}
