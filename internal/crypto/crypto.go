package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// The salt is static and identical across every deployment, so the key
// derivation offers no protection against precomputed dictionary attacks.
// Known limitation: the threat model is keeping casual eavesdroppers off the
// wire, and changing the salt would break interop with existing peers.
const (
	keySalt       = "a9v5n38s"
	keyIterations = 65536
	keyLen        = 32 // AES-256

	ivSize = 16
)

// ErrCrypto classifies every malformed-frame and wrong-key failure. Callers
// match it with errors.Is and treat the message as lost, never the connection.
var ErrCrypto = errors.New("crypto failure")

// DeriveKey turns the shared password into an AES-256 key. Same password,
// same key, on every process that calls it.
func DeriveKey(password string) []byte {
	return pbkdf2.Key([]byte(password), []byte(keySalt), keyIterations, keyLen, sha256.New)
}

// Encrypt returns base64(iv || ciphertext) for one message: fresh random
// 16-byte IV, AES-256-CBC, PKCS#7 padding. The output never contains a
// newline, so it is safe to delimit frames with one.
func Encrypt(plaintext string, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: cipher init: %v", ErrCrypto, err)
	}
	padded := pad([]byte(plaintext))
	out := make([]byte, ivSize+len(padded))
	iv := out[:ivSize]
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("%w: iv: %v", ErrCrypto, err)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[ivSize:], padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. A frame that is not valid base64, is shorter
// than one IV, has a ragged ciphertext, or unpads badly under the given key
// fails with ErrCrypto.
func Decrypt(frame string, key []byte) (string, error) {
	data, err := base64.StdEncoding.DecodeString(frame)
	if err != nil {
		return "", fmt.Errorf("%w: base64: %v", ErrCrypto, err)
	}
	if len(data) < ivSize {
		return "", fmt.Errorf("%w: frame shorter than iv (%d bytes)", ErrCrypto, len(data))
	}
	iv, ciphertext := data[:ivSize], data[ivSize:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d not block-aligned", ErrCrypto, len(ciphertext))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: cipher init: %v", ErrCrypto, err)
	}
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)
	plain, err = unpad(plain)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrCrypto)
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", ErrCrypto)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrCrypto)
		}
	}
	return b[:len(b)-n], nil
}
