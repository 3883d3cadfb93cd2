// Package probe implements the gateway's ICMP-in-ESP liveness check. The
// gateway decrypts the probe, answers the embedded echo request and sends the
// reply back through the tunnel; a matching magic payload proves that both
// directions of the SA pair and the NAT mapping are alive.
package probe

import (
	"bytes"
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/1ureka/gpclient/internal/esp"
)

// Magic is the echo payload the gateway recognizes as a keepalive.
var Magic = []byte("monitor\x00\x00pan ha ")

// Layout of the synthetic frame: IPv4 header without options, ICMP echo header, magic.
const (
	ipv4HeaderSize = 20
	icmpHeaderSize = 8
	magicOffset    = ipv4HeaderSize + icmpHeaderSize
	FrameSize      = magicOffset + 16
)

// Probe source and destination; the gateway only checks the payload.
var (
	srcIP = net.IPv4(192, 168, 1, 1)
	dstIP = net.IPv4(192, 168, 1, 2)
)

// ErrProbeFailed reports a missing or non-matching probe reply.
var ErrProbeFailed = errors.New("probe: no valid reply")

// BuildFrame returns the plaintext IPv4 + ICMP echo request carrying Magic,
// with lengths and checksums filled in. The echo id and sequence are zero.
func BuildFrame() ([]byte, error) {
	return BuildFrameSeq(0)
}

// BuildFrameSeq is BuildFrame with the ICMP echo sequence set to seq, which
// the gateway's echo reply carries back.
func BuildFrameSeq(seq uint16) ([]byte, error) {
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Seq:      seq,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, icmp, gopacket.Payload(Magic)); err != nil {
		return nil, fmt.Errorf("probe: serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Send builds a probe frame and returns it as a wire-ready ESP datagram
// encrypted under the outbound SA. The low 16 bits of seq go into the ICMP
// echo sequence.
func Send(sa *esp.SA, seq uint32) ([]byte, error) {
	frame, err := BuildFrameSeq(uint16(seq))
	if err != nil {
		return nil, err
	}
	pkt, err := sa.Encrypt(seq, frame)
	if err != nil {
		return nil, err
	}
	return pkt.MarshalBinary()
}

// Catch reports whether datagram is a valid probe reply under the inbound SA.
// Parse, authentication and content failures all count as a failed probe.
func Catch(sa *esp.SA, datagram []byte) bool {
	return Check(sa, datagram) == nil
}

// Check is Catch with the reason for a rejection.
func Check(sa *esp.SA, datagram []byte) error {
	_, err := open(sa, datagram)
	return err
}

// ReplySeq validates datagram like Check and returns the ICMP echo sequence
// of the frame inside it.
func ReplySeq(sa *esp.SA, datagram []byte) (uint16, error) {
	frame, err := open(sa, datagram)
	if err != nil {
		return 0, err
	}
	pkt := gopacket.NewPacket(frame, layers.LayerTypeIPv4, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	icmp, ok := pkt.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
	if !ok {
		return 0, fmt.Errorf("%w: no ICMP header", ErrProbeFailed)
	}
	return icmp.Seq, nil
}

// open authenticates and decrypts datagram and checks it carries Magic.
func open(sa *esp.SA, datagram []byte) ([]byte, error) {
	pkt, err := esp.Unmarshal(datagram)
	if err != nil {
		return nil, err
	}
	if pkt.SPI != sa.SPI {
		return nil, fmt.Errorf("%w: SPI 0x%08x, want 0x%08x", ErrProbeFailed, pkt.SPI, sa.SPI)
	}
	plaintext, err := sa.Decrypt(pkt)
	if err != nil {
		return nil, err
	}
	if len(plaintext) < FrameSize || !bytes.Equal(plaintext[magicOffset:FrameSize], Magic) {
		return nil, fmt.Errorf("%w: payload mismatch", ErrProbeFailed)
	}
	return plaintext, nil
}
