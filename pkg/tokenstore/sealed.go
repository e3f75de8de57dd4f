package tokenstore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var ErrNoSecret = errors.New("tokenstore: sealing secret is empty")

const sealInfo = "tabsession sealed backend v1"

// SealedBackend encrypts entries before handing them to another Backend.
// The stored form is [24-byte nonce][ciphertext+tag]; the storage key is
// bound in as associated data so entries cannot be swapped between keys.
type SealedBackend struct {
	inner Backend
	aead  cipher.AEAD
}

// NewSealedBackend derives an XChaCha20-Poly1305 key from secret with
// HKDF-SHA256.
func NewSealedBackend(inner Backend, secret []byte) (*SealedBackend, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(sealInfo)), key); err != nil {
		return nil, fmt.Errorf("tokenstore: derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: init cipher: %w", err)
	}

	return &SealedBackend{inner: inner, aead: aead}, nil
}

func (b *SealedBackend) Load(ctx context.Context, key string) ([]byte, error) {
	sealed, err := b.inner.Load(ctx, key)
	if err != nil {
		return nil, err
	}

	ns := b.aead.NonceSize()
	if len(sealed) < ns+b.aead.Overhead() {
		return nil, fmt.Errorf("%w: sealed entry too short", ErrCorrupt)
	}

	plain, err := b.aead.Open(nil, sealed[:ns], sealed[ns:], []byte(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return plain, nil
}

func (b *SealedBackend) Save(ctx context.Context, key string, data []byte, expiresAt time.Time) error {
	nonce := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+len(data)+b.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("tokenstore: nonce: %w", err)
	}

	return b.inner.Save(ctx, key, b.aead.Seal(nonce, nonce, data, []byte(key)), expiresAt)
}

func (b *SealedBackend) Delete(ctx context.Context, key string) error {
	return b.inner.Delete(ctx, key)
}
