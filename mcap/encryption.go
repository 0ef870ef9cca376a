package mcap

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
)

// EncryptionProvider advertises an algorithm name (written into the
// chunk's Compression field alongside any compression codec, as "alg"
// or "alg+compression") and seals/opens chunk bodies. Built directly on
// crypto/aes + crypto/cipher, the same primitives every Go program that
// needs authenticated encryption reaches for.
type EncryptionProvider interface {
	Algorithm() string
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

const AlgorithmAESGCM = "aes-256-gcm"

// ErrUnknownEncryption indicates a chunk advertises an algorithm this
// reader doesn't implement, or the reader has no provider configured
// at all.
var ErrUnknownEncryption = errors.New("mcap: unknown or unconfigured chunk encryption")

// ErrDecryptionFailed indicates the GCM authentication tag rejected the
// ciphertext or key.
var ErrDecryptionFailed = errors.New("mcap: chunk decryption failed")

// AESGCMProvider implements EncryptionProvider with AES-256-GCM. Each
// call to Encrypt draws a fresh random 12-byte nonce and returns
// `nonce || ciphertext || tag` (the standard cipher.AEAD.Seal layout,
// with the nonce as the seal's dst prefix).
type AESGCMProvider struct {
	gcm cipher.AEAD
}

// NewAESGCMProvider requires a 32-byte (AES-256) key.
func NewAESGCMProvider(key []byte) (*AESGCMProvider, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("mcap: AES-256-GCM requires a 32-byte key, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("mcap: building AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("mcap: building GCM mode: %w", err)
	}
	return &AESGCMProvider{gcm: gcm}, nil
}

// GenerateAESGCMKey returns a fresh random 32-byte key.
func GenerateAESGCMKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("mcap: generating key: %w", err)
	}
	return key, nil
}

func (p *AESGCMProvider) Algorithm() string { return AlgorithmAESGCM }

func (p *AESGCMProvider) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, p.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("mcap: generating nonce: %w", err)
	}
	return p.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (p *AESGCMProvider) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := p.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext shorter than nonce", ErrDecryptionFailed)
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := p.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// SplitChunkCompression parses a Chunk.Compression field that may carry
// an encryption algorithm prefix ("alg" alone, or "alg+compression") and
// returns the encryption algorithm name (empty if none) and the plain
// compression format.
func SplitChunkCompression(field string) (algorithm string, compression CompressionFormat) {
	if field == "" {
		return "", CompressionNone
	}
	if idx := strings.IndexByte(field, '+'); idx >= 0 {
		return field[:idx], CompressionFormat(field[idx+1:])
	}
	switch CompressionFormat(field) {
	case CompressionLZ4, CompressionZSTD, CompressionNone:
		return "", CompressionFormat(field)
	default:
		return field, CompressionNone
	}
}

func joinChunkCompression(algorithm string, compression CompressionFormat) string {
	if algorithm == "" {
		return string(compression)
	}
	if compression == CompressionNone {
		return algorithm
	}
	return algorithm + "+" + string(compression)
}
