package esp

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// BlockSize is the AES block size, which also drives ESP padding.
const BlockSize = aes.BlockSize

// EncryptCBC encrypts plaintext with AES-128-CBC. The plaintext length must
// already be a multiple of BlockSize; no padding is applied here.
func EncryptCBC(key, iv, plaintext []byte) ([]byte, error) {
	block, err := newBlock(key, iv, len(plaintext))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)
	return out, nil
}

// DecryptCBC is the inverse of EncryptCBC.
func DecryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := newBlock(key, iv, len(ciphertext))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return out, nil
}

func newBlock(key, iv []byte, n int) (cipher.Block, error) {
	if len(key) != EncKeySize {
		return nil, fmt.Errorf("esp: AES-128 key must be %d bytes, got %d", EncKeySize, len(key))
	}
	if len(iv) != BlockSize {
		return nil, fmt.Errorf("esp: IV must be %d bytes, got %d", BlockSize, len(iv))
	}
	if n%BlockSize != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of %d", ErrMalformedPacket, n, BlockSize)
	}
	return aes.NewCipher(key)
}
