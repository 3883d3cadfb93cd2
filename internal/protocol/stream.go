package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrWriteClosed is returned by Write after CloseWrite.
var ErrWriteClosed = errors.New("protocol: write side closed")

// StreamConn carries a byte stream over a TCP-mode substream as chunks of
// u16 length + data. A zero-length chunk ends the writer's direction, so
// each side can half-close while still reading the other.
type StreamConn struct {
	rw io.ReadWriteCloser

	rmu    sync.Mutex
	remain int  // bytes left in the current chunk
	eof    bool // peer sent its end marker

	wmu    sync.Mutex
	closed bool // CloseWrite was called
}

// NewStreamConn wraps a substream. The target header must already be exchanged.
func NewStreamConn(rw io.ReadWriteCloser) *StreamConn {
	return &StreamConn{rw: rw}
}

// Read returns io.EOF once the peer's end marker arrives. A substream that
// ends without the marker yields io.ErrUnexpectedEOF.
func (s *StreamConn) Read(b []byte) (int, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()

	if s.eof {
		return 0, io.EOF
	}
	if s.remain == 0 {
		var hdr [2]byte
		if _, err := io.ReadFull(s.rw, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		s.remain = int(binary.BigEndian.Uint16(hdr[:]))
		if s.remain == 0 {
			s.eof = true
			return 0, io.EOF
		}
	}

	if len(b) > s.remain {
		b = b[:s.remain]
	}
	n, err := s.rw.Read(b)
	s.remain -= n
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

// Write sends b as one or more chunks.
func (s *StreamConn) Write(b []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if s.closed {
		return 0, ErrWriteClosed
	}

	written := 0
	buf := make([]byte, 2+min(len(b), MaxPayloadSize))
	for len(b) > 0 {
		n := min(len(b), MaxPayloadSize)
		binary.BigEndian.PutUint16(buf[:2], uint16(n))
		copy(buf[2:], b[:n])
		if _, err := s.rw.Write(buf[:2+n]); err != nil {
			return written, fmt.Errorf("write chunk: %w", err)
		}
		written += n
		b = b[n:]
	}
	return written, nil
}

// CloseWrite sends the end marker. Reading continues to work.
func (s *StreamConn) CloseWrite() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	_, err := s.rw.Write([]byte{0, 0})
	return err
}

// Close closes the underlying substream in both directions.
func (s *StreamConn) Close() error {
	return s.rw.Close()
}
