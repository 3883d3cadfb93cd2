package esp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

// Wire layout: SPI(4) | Seq(4) | IV(16) | Ciphertext(N*16) | Tag(12).
const (
	HeaderSize    = 4 + 4 + BlockSize
	MinPacketSize = HeaderSize + TagSize
)

// Packet is one ESP datagram as carried in the gateway's UDP payload.
type Packet struct {
	SPI        uint32
	Seq        uint32
	IV         [BlockSize]byte
	Ciphertext []byte
	Tag        [TagSize]byte
}

// MarshalBinary serializes the packet in wire order. The ciphertext carries no
// length prefix; the receiver infers it from the datagram size.
func (p *Packet) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize+len(p.Ciphertext)+TagSize)
	binary.BigEndian.PutUint32(buf[0:4], p.SPI)
	binary.BigEndian.PutUint32(buf[4:8], p.Seq)
	copy(buf[8:HeaderSize], p.IV[:])
	copy(buf[HeaderSize:], p.Ciphertext)
	copy(buf[len(buf)-TagSize:], p.Tag[:])
	return buf, nil
}

// Unmarshal parses a received datagram. The returned packet does not alias data.
func Unmarshal(data []byte) (*Packet, error) {
	if len(data) < MinPacketSize {
		return nil, fmt.Errorf("%w: %d bytes (need at least %d)", ErrMalformedPacket, len(data), MinPacketSize)
	}
	p := &Packet{
		SPI: binary.BigEndian.Uint32(data[0:4]),
		Seq: binary.BigEndian.Uint32(data[4:8]),
	}
	copy(p.IV[:], data[8:HeaderSize])
	p.Ciphertext = make([]byte, len(data)-MinPacketSize)
	copy(p.Ciphertext, data[HeaderSize:len(data)-TagSize])
	copy(p.Tag[:], data[len(data)-TagSize:])
	return p, nil
}

// PadLength returns the number of filler bytes needed so that a payload of n
// bytes plus the two trailer bytes fills whole cipher blocks.
func PadLength(n int) int {
	return (BlockSize - (n+2)%BlockSize) % BlockSize
}

// Pad appends the tunnel-mode trailer: filler 1..p, the pad length p and the
// next-header byte.
func Pad(payload []byte, nextHeader uint8) []byte {
	p := PadLength(len(payload))
	out := make([]byte, len(payload), len(payload)+p+2)
	copy(out, payload)
	for i := 1; i <= p; i++ {
		out = append(out, byte(i))
	}
	return append(out, byte(p), nextHeader)
}

// Unpad strips the trailer and returns the payload and its next-header value.
func Unpad(plaintext []byte) ([]byte, uint8, error) {
	if len(plaintext) < 2 {
		return nil, 0, fmt.Errorf("%w: trailer truncated", ErrMalformedPacket)
	}
	nextHeader := plaintext[len(plaintext)-1]
	p := int(plaintext[len(plaintext)-2])
	if p+2 > len(plaintext) {
		return nil, 0, fmt.Errorf("%w: pad length %d exceeds %d-byte payload", ErrMalformedPacket, p, len(plaintext))
	}
	return plaintext[:len(plaintext)-p-2], nextHeader, nil
}

// Encrypt wraps an IPv4 packet into a new ESP packet under sa. A fresh random
// IV is drawn for every call.
func (sa *SA) Encrypt(seq uint32, payload []byte) (*Packet, error) {
	var iv [BlockSize]byte
	if _, err := io.ReadFull(rand.Reader, iv[:]); err != nil {
		return nil, fmt.Errorf("esp: generate IV: %w", err)
	}
	return sa.EncryptWithIV(seq, iv, payload)
}

// EncryptWithIV is Encrypt with a caller-chosen IV. Reusing an IV under the
// same key leaks plaintext structure; it exists for fixtures and tests.
func (sa *SA) EncryptWithIV(seq uint32, iv [BlockSize]byte, payload []byte) (*Packet, error) {
	ciphertext, err := EncryptCBC(sa.EncKey[:], iv[:], Pad(payload, NextHeaderIPv4))
	if err != nil {
		return nil, err
	}

	p := &Packet{
		SPI:        sa.SPI,
		Seq:        seq,
		IV:         iv,
		Ciphertext: ciphertext,
	}
	p.Tag = Sum96(sa.MacKey[:], sa.authenticated(p))
	return p, nil
}

// Decrypt verifies the packet's ICV and only then decrypts it, returning the
// inner packet with the trailer removed.
func (sa *SA) Decrypt(p *Packet) ([]byte, error) {
	if !Verify96(sa.MacKey[:], sa.authenticated(p), p.Tag[:]) {
		return nil, ErrAuthenticationFailed
	}
	if len(p.Ciphertext) == 0 || len(p.Ciphertext)%BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrMalformedPacket, len(p.Ciphertext))
	}

	plaintext, err := DecryptCBC(sa.EncKey[:], p.IV[:], p.Ciphertext)
	if err != nil {
		return nil, err
	}
	payload, _, err := Unpad(plaintext)
	return payload, err
}

// authenticated returns the bytes covered by the ICV.
func (sa *SA) authenticated(p *Packet) []byte {
	if !sa.AuthHeader {
		return p.Ciphertext
	}
	buf := make([]byte, HeaderSize+len(p.Ciphertext))
	binary.BigEndian.PutUint32(buf[0:4], p.SPI)
	binary.BigEndian.PutUint32(buf[4:8], p.Seq)
	copy(buf[8:HeaderSize], p.IV[:])
	copy(buf[HeaderSize:], p.Ciphertext)
	return buf
}
