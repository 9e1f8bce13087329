// Package xauth implements the external OAuth 2.0 leg of the agent claim
// flow: PKCE material, the provider authorize URL, the code-for-identity
// exchange, and the one-way identity fingerprint. Only the fingerprint is
// ever stored; the raw account identifier never touches the database.
package xauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// PKCEPair holds a proof-key verifier (kept server-side) and its S256
// challenge (sent to the provider).
type PKCEPair struct {
	Verifier  string
	Challenge string
}

// GeneratePKCE creates a fresh PKCE pair from 32 cryptographically random
// bytes. The challenge is base64url(SHA-256(verifier)), method S256.
func GeneratePKCE() (PKCEPair, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return PKCEPair{}, fmt.Errorf("pkce entropy: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(raw[:])
	sum := sha256.Sum256([]byte(verifier))
	return PKCEPair{
		Verifier:  verifier,
		Challenge: base64.RawURLEncoding.EncodeToString(sum[:]),
	}, nil
}

// GenerateState returns a random correlation token for the redirect round
// trip, 32 bytes hex encoded.
func GenerateState() (string, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("state entropy: %w", err)
	}
	return hex.EncodeToString(raw[:]), nil
}

// fingerprintSalt namespaces stored fingerprints so they cannot be matched
// against the same identifier hashed elsewhere.
const fingerprintSalt = "agentboard_x_v1:"

// Fingerprint derives the stored one-way fingerprint of an external account
// identifier: hex(SHA-256(salt || id)), 64 chars.
func Fingerprint(accountID string) string {
	sum := sha256.Sum256([]byte(fingerprintSalt + accountID))
	return hex.EncodeToString(sum[:])
}
