package esp

import (
	"crypto/hmac"
	"crypto/sha1"
)

// TagSize is the truncated HMAC-SHA1-96 length (RFC 2404).
const TagSize = 12

// Sum96 returns HMAC-SHA1(key, data) truncated to 96 bits.
func Sum96(key, data []byte) [TagSize]byte {
	mac := hmac.New(sha1.New, key)
	mac.Write(data)

	var tag [TagSize]byte
	copy(tag[:], mac.Sum(nil))
	return tag
}

// Verify96 recomputes the tag over data and compares it in constant time.
func Verify96(key, data []byte, tag []byte) bool {
	want := Sum96(key, data)
	return hmac.Equal(want[:], tag)
}
