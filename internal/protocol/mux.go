package protocol

import (
	"time"

	"github.com/xtaci/smux"
)

// DefaultKeepAlive is the smux keepalive interval on a TCP-mode relay session.
const DefaultKeepAlive = 30 * time.Second

// SmuxConfig returns the session configuration both relay ends use. The
// keepalive timeout is held at three intervals so one lost ping is tolerated.
func SmuxConfig(keepAlive time.Duration) *smux.Config {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	cfg := smux.DefaultConfig()
	cfg.KeepAliveInterval = keepAlive
	if cfg.KeepAliveTimeout < 3*keepAlive {
		cfg.KeepAliveTimeout = 3 * keepAlive
	}
	return cfg
}
