// Package config loads and validates the JSON configuration shared by the
// client and relay roles.
package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/1ureka/gpclient/internal/esp"
)

// Role represents the process's chosen role (client or relay).
type Role string

const (
	RoleClient Role = "client"
	RoleRelay  Role = "relay"
)

// Defaults applied by Load when a field is left empty.
const (
	DefaultRelayListen   = ":8443"
	DefaultProbeInterval = 10 * time.Second
	DefaultKeepAlive     = 30 * time.Second
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Forward maps a local listening address to the destination its traffic is
// relayed to.
type Forward struct {
	Listen string `json:"listen"`
	Target string `json:"target"`
}

// TargetAddr parses Target as an IPv4 or IPv6 ip:port.
func (f Forward) TargetAddr() (netip.AddrPort, error) {
	ap, err := netip.ParseAddrPort(f.Target)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: forward target %q: %v", ErrInvalid, f.Target, err)
	}
	return ap, nil
}

// SessionParams mirrors the ipsec element of the gateway's getconfig reply.
// SPIs are decimal or 0x-prefixed hex, keys are hex strings.
type SessionParams struct {
	Gateway    string `json:"gateway"`
	LocalAddr  string `json:"local-addr,omitempty"`
	C2SSPI     string `json:"c2s-spi"`
	S2CSPI     string `json:"s2c-spi"`
	EKeyC2S    string `json:"ekey-c2s"`
	AKeyC2S    string `json:"akey-c2s"`
	EKeyS2C    string `json:"ekey-s2c"`
	AKeyS2C    string `json:"akey-s2c"`
	AuthHeader bool   `json:"auth-header,omitempty"`
}

// Pair builds the outbound (c2s) and inbound (s2c) SAs.
func (p *SessionParams) Pair() (esp.Pair, error) {
	out, err := buildSA("c2s", p.C2SSPI, p.EKeyC2S, p.AKeyC2S)
	if err != nil {
		return esp.Pair{}, err
	}
	in, err := buildSA("s2c", p.S2CSPI, p.EKeyS2C, p.AKeyS2C)
	if err != nil {
		return esp.Pair{}, err
	}
	out.AuthHeader = p.AuthHeader
	in.AuthHeader = p.AuthHeader
	return esp.Pair{Outbound: out, Inbound: in}, nil
}

func buildSA(dir, spi, ekey, akey string) (*esp.SA, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(spi), 0, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: %s-spi %q", ErrInvalid, dir, spi)
	}
	enc, err := hex.DecodeString(strings.TrimSpace(ekey))
	if err != nil {
		return nil, fmt.Errorf("%w: ekey-%s: %v", ErrInvalid, dir, err)
	}
	mac, err := hex.DecodeString(strings.TrimSpace(akey))
	if err != nil {
		return nil, fmt.Errorf("%w: akey-%s: %v", ErrInvalid, dir, err)
	}
	sa, err := esp.NewSA(uint32(n), enc, mac)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, dir, err)
	}
	return sa, nil
}

// Config is the whole process configuration. Fields that only apply to one
// role are ignored by the other.
type Config struct {
	Role Role `json:"role"`

	// Client: relay address ("host:port", "tcp://", "ws://" or "wss://").
	Relay       string         `json:"relay,omitempty"`
	TCPForwards []Forward      `json:"tcp-forwards,omitempty"`
	UDPForwards []Forward      `json:"udp-forwards,omitempty"`
	Session     *SessionParams `json:"session,omitempty"`

	// Relay: listening address and whether clients arrive over WebSocket.
	// PIN gates WebSocket upgrades; "auto" generates one at startup.
	Listen    string `json:"listen,omitempty"`
	WebSocket bool   `json:"websocket,omitempty"`
	PIN       string `json:"pin,omitempty"`

	ProbeInterval Duration `json:"probe-interval,omitempty"`
	KeepAlive     Duration `json:"keepalive,omitempty"`
}

// Duration is a time.Duration written as a Go duration string in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Load reads a JSON config file and fills in defaults. It does not validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero-valued tunables.
func (c *Config) ApplyDefaults() {
	if c.ProbeInterval == 0 {
		c.ProbeInterval = Duration(DefaultProbeInterval)
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = Duration(DefaultKeepAlive)
	}
	if c.Role == RoleRelay && c.Listen == "" {
		c.Listen = DefaultRelayListen
	}
}

// Validate checks the fields required by the configured role.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleRelay:
		if c.Listen == "" {
			return fmt.Errorf("%w: relay role needs a listen address", ErrInvalid)
		}
		return nil

	case RoleClient:
		if len(c.TCPForwards)+len(c.UDPForwards) > 0 && c.Relay == "" {
			return fmt.Errorf("%w: forwards configured without a relay address", ErrInvalid)
		}
		if len(c.TCPForwards)+len(c.UDPForwards) == 0 && c.Session == nil {
			return fmt.Errorf("%w: client has nothing to do (no forwards, no session)", ErrInvalid)
		}
		for _, f := range append(append([]Forward{}, c.TCPForwards...), c.UDPForwards...) {
			if f.Listen == "" {
				return fmt.Errorf("%w: forward to %s has no listen address", ErrInvalid, f.Target)
			}
			if _, err := f.TargetAddr(); err != nil {
				return err
			}
		}
		if c.Session != nil {
			if c.Session.Gateway == "" {
				return fmt.Errorf("%w: session has no gateway address", ErrInvalid)
			}
			if _, err := c.Session.Pair(); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("%w: role must be %q or %q, got %q", ErrInvalid, RoleClient, RoleRelay, c.Role)
	}
}
