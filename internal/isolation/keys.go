// Package isolation implements the encrypted relay that places a sandboxed
// frame between untrusted page content and the native host. Payloads are
// sealed with AES-256-GCM using a fresh 96-bit nonce per message.
package isolation

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the AES-256 key length in bytes
const KeySize = 32

// ErrAuthentication is returned when a sealed payload fails verification
var ErrAuthentication = errors.New("isolation message authentication failed")

// Keys holds the symmetric key shared by the isolation frame and the host
type Keys struct {
	raw  [KeySize]byte
	aead cipher.AEAD
}

// NewKeys generates a random key
func NewKeys() (*Keys, error) {
	raw := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, fmt.Errorf("failed to generate isolation key: %w", err)
	}
	return KeysFromRaw(raw)
}

// KeysFromRaw wraps an existing 32-byte key
func KeysFromRaw(raw []byte) (*Keys, error) {
	if len(raw) != KeySize {
		return nil, fmt.Errorf("isolation key must be %d bytes, got %d", KeySize, len(raw))
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	k := &Keys{aead: aead}
	copy(k.raw[:], raw)
	return k, nil
}

// DeriveKeys derives a key from a shared secret with HKDF-SHA256
func DeriveKeys(secret, salt []byte, info string) (*Keys, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("isolation secret is empty")
	}
	raw := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(info)), raw); err != nil {
		return nil, fmt.Errorf("failed to derive isolation key: %w", err)
	}
	return KeysFromRaw(raw)
}

// Raw returns a copy of the key bytes for provisioning the isolation frame
func (k *Keys) Raw() []byte {
	out := make([]byte, KeySize)
	copy(out, k.raw[:])
	return out
}

// Encrypt seals plaintext under a fresh random nonce
func (k *Keys) Encrypt(plaintext []byte, contentType string) (ipccontract.IsolationMessage, error) {
	nonce := make([]byte, ipccontract.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return ipccontract.IsolationMessage{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return ipccontract.IsolationMessage{
		Nonce:       nonce,
		Payload:     k.aead.Seal(nil, nonce, plaintext, nil),
		ContentType: contentType,
	}, nil
}

// Decrypt opens a sealed message. Any tampering yields ErrAuthentication.
func (k *Keys) Decrypt(msg ipccontract.IsolationMessage) ([]byte, error) {
	if len(msg.Nonce) != ipccontract.NonceSize {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", ipccontract.NonceSize, len(msg.Nonce))
	}
	plain, err := k.aead.Open(nil, msg.Nonce, msg.Payload, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plain, nil
}
