// Package keys implements Ed25519 sign/verify/derive over hex-encoded raw
// 32-byte keys, the certificate authority's signing primitive per §4.A.
package keys

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// Sign signs the hex-decoded hashHex with the hex-decoded seed skHex and
// returns the hex-encoded signature.
func Sign(hashHex, skHex string) (string, error) {
	seed, err := hex.DecodeString(skHex)
	if err != nil {
		return "", fmt.Errorf("keys: invalid private key hex: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return "", fmt.Errorf("keys: private key must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	msg, err := hex.DecodeString(hashHex)
	if err != nil {
		return "", fmt.Errorf("keys: invalid hash hex: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	sig := ed25519.Sign(priv, msg)
	return hex.EncodeToString(sig), nil
}

// Verify reports whether sigHex is a valid Ed25519 signature over the
// hex-decoded hashHex under the hex-decoded public key pkHex. Any decoding
// or length failure is treated as an invalid signature, never an error.
func Verify(hashHex, sigHex, pkHex string) bool {
	pk, err := hex.DecodeString(pkHex)
	if err != nil || len(pk) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	msg, err := hex.DecodeString(hashHex)
	if err != nil {
		return false
	}
	defer func() { recover() }() //nolint:errcheck // ed25519.Verify panics on malformed keys in some builds
	return ed25519.Verify(pk, msg, sig)
}

// DerivePublicKey returns the hex-encoded public key for a hex-encoded
// 32-byte Ed25519 seed.
func DerivePublicKey(skHex string) (string, error) {
	seed, err := hex.DecodeString(skHex)
	if err != nil {
		return "", fmt.Errorf("keys: invalid private key hex: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return "", fmt.Errorf("keys: private key must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return hex.EncodeToString(pub), nil
}

// GenerateSeedHex returns a fresh random hex-encoded Ed25519 seed, useful
// for local development bootstrapping when ISSUER_PRIVATE_KEY_HEX is unset.
func GenerateSeedHex() (string, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(priv.Seed()), nil
}
