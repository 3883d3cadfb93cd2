// Package protocol defines the relay wire formats: the mode byte sent on
// connect, the TCP substream target header and the UDP tunnel frame.
package protocol

import (
	"errors"
	"net/netip"
)

// Mode bytes, sent once by the client right after connecting to the relay.
const (
	ModeUDP uint8 = 0x01 // framed datagrams over the raw connection
	ModeTCP uint8 = 0x02 // smux session, one stream per TCP connection
)

// Frame layout: Key(12) + Length(2) + Payload.
const (
	AddrKeySize     = 12
	FrameHeaderSize = AddrKeySize + 2
	MaxPayloadSize  = 0xFFFF
)

var (
	ErrNotIPv4         = errors.New("protocol: address key requires IPv4 endpoints")
	ErrPayloadTooLarge = errors.New("protocol: payload exceeds 65535 bytes")
	ErrShortFrame      = errors.New("protocol: frame truncated")
	ErrBadMode         = errors.New("protocol: unknown relay mode")
)

// AddrKey identifies a UDP flow by its original source and destination.
// Wire form: src IP(4) | src port(2) | dst IP(4) | dst port(2), big-endian.
type AddrKey struct {
	Src netip.AddrPort
	Dst netip.AddrPort
}

// Frame is one datagram crossing the relay in either direction.
type Frame struct {
	Key     AddrKey
	Payload []byte
}

// ModeName returns a log-friendly name for a mode byte.
func ModeName(mode uint8) string {
	switch mode {
	case ModeUDP:
		return "udp"
	case ModeTCP:
		return "tcp"
	default:
		return "unknown"
	}
}
