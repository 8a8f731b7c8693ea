// Package sudp implements Secure UDP per spec.md §4.1: search replies
// encrypted with AES-128-CBC under a per-search 16-byte nonce key, zero
// IV, and PKCS-style padding where the last byte must be 1..16 and every
// pad byte must equal it.
package sudp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"sync"
)

// KeySize is the length of a SUDP search key, per spec.md §4.1.
const KeySize = 16

// NewKey generates a fresh 16-byte nonce key for one outstanding search,
// used when the SUDP policy is "prefer".
func NewKey() ([KeySize]byte, error) {
	var k [KeySize]byte
	if _, err := rand.Read(k[:]); err != nil {
		return k, err
	}
	return k, nil
}

// Encrypt pads plaintext with PKCS-style padding and encrypts it with
// AES-128-CBC under key and a zero IV.
func Encrypt(key [KeySize]byte, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	padded := pad(plaintext, block.BlockSize())
	iv := make([]byte, block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

func pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	if padLen == 0 {
		padLen = blockSize
	}
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("sudp: empty padded buffer")
	}
	padLen := int(data[len(data)-1])
	if padLen < 1 || padLen > 16 || padLen > len(data) {
		return nil, errors.New("sudp: invalid padding length")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("sudp: invalid padding bytes")
		}
	}
	return data[:len(data)-padLen], nil
}

// TryDecrypt attempts to decrypt an incoming datagram under a single
// candidate key, returning the unpadded plaintext if the padding check
// succeeds.
func TryDecrypt(key [KeySize]byte, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, errors.New("sudp: ciphertext is not a multiple of the block size")
	}
	iv := make([]byte, block.BlockSize())
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return unpad(out)
}

// TrialDecrypt tries every key in keys (the engine's set of active search
// keys, per spec.md §4.1) against ciphertext, returning the first
// successful decryption.
func TrialDecrypt(keys [][KeySize]byte, ciphertext []byte) ([]byte, bool) {
	for _, k := range keys {
		if plain, err := TryDecrypt(k, ciphertext); err == nil {
			return plain, true
		}
	}
	return nil, false
}

// KeyRegistry is the engine's set of active SUDP search keys, per
// spec.md §4.1: one 16-byte key per outstanding search, so an inbound
// UDP datagram of unknown origin can be trial-decrypted against every
// search still listening rather than needing the sender to be
// identified first. Entries are pruned when the owning search's result
// tab closes.
type KeyRegistry struct {
	mu   sync.Mutex
	keys map[[KeySize]byte]string // key -> owning search token
}

// NewKeyRegistry constructs an empty KeyRegistry.
func NewKeyRegistry() *KeyRegistry {
	return &KeyRegistry{keys: make(map[[KeySize]byte]string)}
}

// Register adds key under token, returning an unregister function the
// caller invokes when the search's result tab closes.
func (r *KeyRegistry) Register(key [KeySize]byte, token string) func() {
	r.mu.Lock()
	r.keys[key] = token
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.keys, key)
		r.mu.Unlock()
	}
}

// TryDecryptAny trial-decrypts ciphertext against every registered key,
// returning the plaintext and the owning search token on the first hit.
func (r *KeyRegistry) TryDecryptAny(ciphertext []byte) (plain []byte, token string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, tok := range r.keys {
		if p, err := TryDecrypt(k, ciphertext); err == nil {
			return p, tok, true
		}
	}
	return nil, "", false
}
