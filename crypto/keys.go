package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// MaxIdentitySize is the widest identity (in bytes) accepted anywhere an
// account identity is hashed into a key.
const MaxIdentitySize = 32

// PrivateKey wraps ed25519 private key bytes.
type PrivateKey []byte

// PublicKey wraps ed25519 public key bytes. Its hex form is the account
// identity used as transaction sender and escrow party.
type PublicKey []byte

// GenerateKeyPair generates a new ed25519 key pair.
func GenerateKeyPair() (PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return PrivateKey(priv), PublicKey(pub), nil
}

// Address returns a 40-char hex address derived from the public key.
// It takes the first 20 bytes of SHA-256(pubkey).
func (pub PublicKey) Address() string {
	return hex.EncodeToString(HashBytes(pub)[:20])
}

// Hex returns the full 64-char hex-encoded public key.
func (pub PublicKey) Hex() string {
	return hex.EncodeToString(pub)
}

// Hex returns the hex-encoded private key.
func (priv PrivateKey) Hex() string {
	return hex.EncodeToString(priv)
}

// Public derives the ed25519 public key from the private key.
func (priv PrivateKey) Public() PublicKey {
	return PublicKey(ed25519.PrivateKey(priv).Public().(ed25519.PublicKey))
}

// PubKeyFromHex decodes a hex-encoded public key.
func PubKeyFromHex(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid pubkey hex: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("pubkey must be %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return PublicKey(b), nil
}

// PrivKeyFromHex decodes a hex-encoded private key.
func PrivKeyFromHex(s string) (PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid privkey hex: %w", err)
	}
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("privkey must be %d bytes, got %d", ed25519.PrivateKeySize, len(b))
	}
	return PrivateKey(b), nil
}

// IdentityBytes decodes an account identity: either a 64-char public key or
// a 40-char module/short address. An optional 0x prefix is accepted.
func IdentityBytes(id string) ([]byte, error) {
	s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(id)), "0x")
	if s == "" {
		return nil, fmt.Errorf("empty identity")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid identity hex %q: %w", id, err)
	}
	if len(b) > MaxIdentitySize {
		return nil, fmt.Errorf("identity must be at most %d bytes, got %d", MaxIdentitySize, len(b))
	}
	return b, nil
}

// CanonicalIdentity returns id as lower-case hex without a 0x prefix, the
// form used for account addresses.
func CanonicalIdentity(id string) (string, error) {
	b, err := IdentityBytes(id)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
