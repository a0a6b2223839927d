package crypto

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/colliery-io/brokkr/internal/brokkrerrors"
)

func testKey() string {
	return hex.EncodeToString(bytes.Repeat([]byte{0x42}, 32))
}

func TestSealOpenRoundTrip(t *testing.T) {
	box, err := NewBox(testKey())
	if err != nil {
		t.Fatalf("NewBox() error = %v", err)
	}

	plaintext := []byte("https://hooks.example.com/brokkr")
	ciphertext, err := box.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if ciphertext[0] != versionAEAD {
		t.Fatalf("ciphertext version byte = 0x%02x, want 0x%02x", ciphertext[0], versionAEAD)
	}

	got, err := box.Open(ciphertext)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Open() = %q, want %q", got, plaintext)
	}
}

func TestSealProducesDistinctCiphertextsForSameInput(t *testing.T) {
	box, _ := NewBox(testKey())
	a, _ := box.Seal([]byte("same input"))
	b, _ := box.Seal([]byte("same input"))
	if bytes.Equal(a, b) {
		t.Error("Seal() produced identical ciphertexts for the same plaintext on two calls — nonce reuse")
	}
}

func TestOpenLegacyXORMigratesToAEAD(t *testing.T) {
	box, _ := NewBox(testKey())
	plaintext := []byte("https://legacy.example.com/hook")

	key, _ := hex.DecodeString(testKey())
	// Legacy writers XORed against the raw master key, not the HKDF-derived
	// key — this test builds a legacy row the same way and checks that Box
	// opens it with the raw key while still sealing new rows with the
	// derived key.
	legacy := make([]byte, len(plaintext)+1)
	legacy[0] = versionLegacyXOR
	for i, c := range plaintext {
		legacy[i+1] = c ^ key[i%len(key)]
	}

	got, err := box.Open(legacy)
	if err != nil {
		t.Fatalf("Open(legacy) error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("Open(legacy) = %q, want %q", got, plaintext)
	}

	reencrypted, err := box.Reencrypt(legacy)
	if err != nil {
		t.Fatalf("Reencrypt() error = %v", err)
	}
	if reencrypted[0] != versionAEAD {
		t.Fatalf("Reencrypt() version byte = 0x%02x, want 0x%02x", reencrypted[0], versionAEAD)
	}

	roundTripped, err := box.Open(reencrypted)
	if err != nil {
		t.Fatalf("Open(reencrypted) error = %v", err)
	}
	if !bytes.Equal(roundTripped, plaintext) {
		t.Errorf("Open(reencrypted) = %q, want %q", roundTripped, plaintext)
	}
}

func TestOpenRejectsCorruptedCiphertext(t *testing.T) {
	box, _ := NewBox(testKey())
	ciphertext, _ := box.Seal([]byte("payload"))
	ciphertext[len(ciphertext)-1] ^= 0xFF

	_, err := box.Open(ciphertext)
	if err == nil {
		t.Fatal("Open() with corrupted ciphertext should error")
	}
	if !brokkrerrors.Is(err, brokkrerrors.FatalIntegrity) {
		t.Errorf("Open() error kind = %v, want FatalIntegrity", err)
	}
}

func TestOpenRejectsUnknownVersionByte(t *testing.T) {
	box, _ := NewBox(testKey())
	_, err := box.Open([]byte{0x99, 1, 2, 3})
	if !brokkrerrors.Is(err, brokkrerrors.FatalIntegrity) {
		t.Errorf("Open() with unknown version byte: err = %v, want FatalIntegrity", err)
	}
}

func TestNewBoxRejectsWrongKeyLength(t *testing.T) {
	_, err := NewBox(hex.EncodeToString([]byte("too-short")))
	if err == nil || !strings.Contains(err.Error(), "bytes") {
		t.Fatalf("NewBox() with short key: err = %v, want length error", err)
	}
}
