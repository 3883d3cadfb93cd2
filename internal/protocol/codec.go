package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"net/netip"
)

// PutAddrKey writes k into the first AddrKeySize bytes of buf.
func PutAddrKey(buf []byte, k AddrKey) error {
	srcIP, dstIP := k.Src.Addr().Unmap(), k.Dst.Addr().Unmap()
	if !srcIP.Is4() || !dstIP.Is4() {
		return fmt.Errorf("%w: %s -> %s", ErrNotIPv4, k.Src, k.Dst)
	}
	src := srcIP.As4()
	dst := dstIP.As4()
	copy(buf[0:4], src[:])
	binary.BigEndian.PutUint16(buf[4:6], k.Src.Port())
	copy(buf[6:10], dst[:])
	binary.BigEndian.PutUint16(buf[10:12], k.Dst.Port())
	return nil
}

// ParseAddrKey decodes the first AddrKeySize bytes of buf.
func ParseAddrKey(buf []byte) (AddrKey, error) {
	if len(buf) < AddrKeySize {
		return AddrKey{}, fmt.Errorf("%w: address key is %d bytes", ErrShortFrame, len(buf))
	}
	return AddrKey{
		Src: netip.AddrPortFrom(netip.AddrFrom4([4]byte(buf[0:4])), binary.BigEndian.Uint16(buf[4:6])),
		Dst: netip.AddrPortFrom(netip.AddrFrom4([4]byte(buf[6:10])), binary.BigEndian.Uint16(buf[10:12])),
	}, nil
}

// Encode serializes a Frame into a single buffer.
func Encode(f *Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(f.Payload))
	}
	buf := make([]byte, FrameHeaderSize+len(f.Payload))
	if err := PutAddrKey(buf, f.Key); err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint16(buf[AddrKeySize:FrameHeaderSize], uint16(len(f.Payload)))
	copy(buf[FrameHeaderSize:], f.Payload)
	return buf, nil
}

// Decode parses exactly one Frame from data.
func Decode(data []byte) (*Frame, error) {
	if len(data) < FrameHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes (need at least %d)", ErrShortFrame, len(data), FrameHeaderSize)
	}
	key, err := ParseAddrKey(data)
	if err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(data[AddrKeySize:FrameHeaderSize]))
	if len(data)-FrameHeaderSize < n {
		return nil, fmt.Errorf("%w: payload needs %d bytes, have %d", ErrShortFrame, n, len(data)-FrameHeaderSize)
	}
	f := &Frame{Key: key, Payload: make([]byte, n)}
	copy(f.Payload, data[FrameHeaderSize:FrameHeaderSize+n])
	return f, nil
}

// WriteFrame writes f with a single Write call so concurrent frames on a
// locked writer never interleave.
func WriteFrame(w io.Writer, f *Frame) error {
	buf, err := Encode(f)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads the fixed key, the length and then that many payload bytes.
// A stream that ends mid-frame yields io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) (*Frame, error) {
	var hdr [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	key, err := ParseAddrKey(hdr[:])
	if err != nil {
		return nil, err
	}
	f := &Frame{
		Key:     key,
		Payload: make([]byte, binary.BigEndian.Uint16(hdr[AddrKeySize:])),
	}
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return f, nil
}

// WriteTarget writes the u16-length-prefixed "host:port" that opens a TCP substream.
func WriteTarget(w io.Writer, target string) error {
	if len(target) > MaxPayloadSize {
		return fmt.Errorf("%w: target of %d bytes", ErrPayloadTooLarge, len(target))
	}
	buf := make([]byte, 2+len(target))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(target)))
	copy(buf[2:], target)
	_, err := w.Write(buf)
	return err
}

// ReadTarget reads the header written by WriteTarget.
func ReadTarget(r io.Reader) (string, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", err
	}
	buf := make([]byte, binary.BigEndian.Uint16(hdr[:]))
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return "", err
	}
	return string(buf), nil
}

// WriteMode sends the mode byte that selects the relay protocol.
func WriteMode(w io.Writer, mode uint8) error {
	_, err := w.Write([]byte{mode})
	return err
}

// ReadMode reads and validates the mode byte on the relay side.
func ReadMode(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	if b[0] != ModeUDP && b[0] != ModeTCP {
		return b[0], fmt.Errorf("%w: 0x%02x", ErrBadMode, b[0])
	}
	return b[0], nil
}
