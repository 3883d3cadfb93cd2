package esp

import "sync/atomic"

// SeqGen hands out outbound ESP sequence numbers. It is shared by every
// goroutine that encrypts under the same SA, so all operations are atomic.
type SeqGen struct {
	val atomic.Uint32
}

// NewSeqGen creates a generator whose first Next() returns start+1.
func NewSeqGen(start uint32) *SeqGen {
	s := &SeqGen{}
	s.val.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *SeqGen) Next() uint32 {
	return s.val.Add(1)
}
