// Package esp implements the ESP tunnel-mode codec used on the gateway's UDP
// data channel: AES-128-CBC confidentiality, HMAC-SHA1-96 integrity and the
// RFC 4303 trailer.
package esp

import (
	"errors"
	"fmt"
)

// Key sizes fixed by the negotiated "aes-128-cbc" / "sha1" suite.
const (
	EncKeySize = 16
	MacKeySize = 20
)

// NextHeaderIPv4 is the trailer next-header value for an encapsulated IPv4 packet.
const NextHeaderIPv4 uint8 = 0x04

var (
	// ErrAuthenticationFailed is returned when the ICV does not match. The
	// ciphertext is never decrypted in that case.
	ErrAuthenticationFailed = errors.New("esp: authentication failed")

	// ErrMalformedPacket is returned for buffers that cannot hold a valid packet.
	ErrMalformedPacket = errors.New("esp: malformed packet")
)

// SA is one direction of an ESP security association. It is immutable once
// built and may be shared between goroutines without locking; sequence
// numbers are assigned by the caller on every Encrypt.
type SA struct {
	SPI    uint32
	EncKey [EncKeySize]byte
	MacKey [MacKeySize]byte

	// AuthHeader extends the ICV to cover SPI, sequence and IV as well as the
	// ciphertext. Gateways expect ciphertext-only coverage, so it stays off
	// unless both ends agree.
	AuthHeader bool
}

// NewSA copies the raw key material into a new SA, checking key lengths.
func NewSA(spi uint32, encKey, macKey []byte) (*SA, error) {
	if len(encKey) != EncKeySize {
		return nil, fmt.Errorf("esp: encryption key must be %d bytes, got %d", EncKeySize, len(encKey))
	}
	if len(macKey) != MacKeySize {
		return nil, fmt.Errorf("esp: MAC key must be %d bytes, got %d", MacKeySize, len(macKey))
	}

	sa := &SA{SPI: spi}
	copy(sa.EncKey[:], encKey)
	copy(sa.MacKey[:], macKey)
	return sa, nil
}

// Pair holds both directions of a tunnel session. Outbound carries the
// client-to-server (c2s) SPI and keys, Inbound the server-to-client (s2c) set.
type Pair struct {
	Outbound *SA
	Inbound  *SA
}

func (sa *SA) String() string {
	return fmt.Sprintf("SA(spi=0x%08x)", sa.SPI)
}
