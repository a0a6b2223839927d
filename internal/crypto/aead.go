// Package crypto implements the at-rest encryption scheme for webhook
// subscription secrets (spec.md §4.6): authenticated encryption with random
// per-ciphertext nonces, ciphertext layout `version_byte || nonce ||
// ciphertext_with_tag`. The teacher depends on golang.org/x/crypto only for
// bcrypt password hashing and has no AEAD use of its own; this package
// generalizes that dependency to golang.org/x/crypto/hkdf for key
// derivation, feeding the stdlib AES-256-GCM implementation.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/colliery-io/brokkr/internal/brokkrerrors"
)

const (
	versionLegacyXOR byte = 0x00
	versionAEAD      byte = 0x01

	aeadKeySize = 32 // AES-256
)

// Box derives an encryption key from a hex-encoded master key and seals or
// opens ciphertexts in the version-tagged layout described above.
type Box struct {
	key       [aeadKeySize]byte
	legacyKey []byte
}

// NewBox derives a Box from masterKeyHex, a 32-byte key encoded as hex (64
// hex characters), per the broker.webhook_encryption_key configuration
// field. The raw master key is never used directly as the AEAD key — it is
// run through HKDF-SHA256 so the same master key can derive independent
// keys for other purposes in the future without reuse.
func NewBox(masterKeyHex string) (*Box, error) {
	raw, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: webhook_encryption_key must be hex: %w", err)
	}
	if len(raw) != aeadKeySize {
		return nil, fmt.Errorf("crypto: webhook_encryption_key must decode to %d bytes, got %d", aeadKeySize, len(raw))
	}

	hk := hkdf.New(sha256.New, raw, nil, []byte("brokkr-webhook-secret-v1"))
	var box Box
	if _, err := io.ReadFull(hk, box.key[:]); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	box.legacyKey = raw
	return &box, nil
}

// Seal encrypts plaintext, always writing the current AEAD format.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(b.key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}

	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, versionAEAD)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// Open decrypts ciphertext written in either the AEAD or legacy XOR format.
// A decryption/integrity failure is a brokkrerrors.FatalIntegrity error —
// per spec.md §4.6 this marks the owning row dead rather than retrying,
// since corrupted ciphertext cannot become valid on a later attempt.
func (b *Box) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, brokkrerrors.New(brokkrerrors.FatalIntegrity, "empty ciphertext")
	}

	switch ciphertext[0] {
	case versionAEAD:
		return b.openAEAD(ciphertext[1:])
	case versionLegacyXOR:
		return openLegacyXOR(b.legacyKey, ciphertext[1:])
	default:
		return nil, brokkrerrors.New(brokkrerrors.FatalIntegrity, fmt.Sprintf("unknown ciphertext version byte 0x%02x", ciphertext[0]))
	}
}

func (b *Box) openAEAD(rest []byte) ([]byte, error) {
	block, err := aes.NewCipher(b.key[:])
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.FatalIntegrity, "decryption failed", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.FatalIntegrity, "decryption failed", err)
	}
	if len(rest) < gcm.NonceSize() {
		return nil, brokkrerrors.New(brokkrerrors.FatalIntegrity, "ciphertext too short")
	}

	nonce, body := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.FatalIntegrity, "decryption failed", err)
	}
	return plaintext, nil
}

// openLegacyXOR decrypts the pre-AEAD format: plaintext XORed with the raw
// master key bytes used as a repeating keystream. It exists solely so
// rows written before the AEAD migration remain readable; Seal never
// produces this format. XOR provides no authentication, so a corrupted
// legacy row is indistinguishable from a valid one that happens to decrypt
// to garbage — callers that need a "does this look valid" check should
// confirm the result parses as a URL before trusting it.
func openLegacyXOR(key, rest []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, errors.New("crypto: empty key for legacy XOR format")
	}
	out := make([]byte, len(rest))
	for i := range rest {
		out[i] = rest[i] ^ key[i%len(key)]
	}
	return out, nil
}

// Reencrypt decrypts ciphertext in whichever format it is stored and
// returns a freshly-sealed AEAD ciphertext of the same plaintext — the
// migration path spec.md §8's "Legacy delivery migration" property
// exercises.
func (b *Box) Reencrypt(ciphertext []byte) ([]byte, error) {
	plaintext, err := b.Open(ciphertext)
	if err != nil {
		return nil, err
	}
	return b.Seal(plaintext)
}
