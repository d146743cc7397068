// Package hashlock implements the preimage/digest utilities shared by
// every escrow on both ledgers: deterministic digesting under either
// supported algorithm, constant-time verification, secure secret
// generation, and strict hex canonicalization.
package hashlock

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/DevJSter/eth-suiResolver/internal/swaptypes"
)

// Digest computes the digest of secret under algo. Algorithm is an
// explicit parameter on every call; there is no global default.
func Digest(secret swaptypes.Secret, algo swaptypes.Algorithm) (swaptypes.Digest, error) {
	switch algo {
	case swaptypes.AlgoSHA256:
		sum := sha256.Sum256(secret[:])
		return swaptypes.Digest(sum), nil
	case swaptypes.AlgoKeccak256:
		h := sha3.NewLegacyKeccak256()
		h.Write(secret[:])
		var out swaptypes.Digest
		h.Sum(out[:0])
		return out, nil
	default:
		return swaptypes.Digest{}, fmt.Errorf("hashlock: unsupported algorithm %d", algo)
	}
}

// Verify recomputes the digest of secret under algo and compares it to
// want in constant time. It never returns true for the wrong secret,
// and the comparison itself leaks nothing via timing.
func Verify(secret swaptypes.Secret, want swaptypes.Digest, algo swaptypes.Algorithm) bool {
	got, err := Digest(secret, algo)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(got[:], want[:]) == 1
}

// RandomSecret draws a Secret from a cryptographically secure source.
func RandomSecret() (swaptypes.Secret, error) {
	var s swaptypes.Secret
	if _, err := rand.Read(s[:]); err != nil {
		return swaptypes.Secret{}, fmt.Errorf("hashlock: reading random secret: %w", err)
	}
	return s, nil
}

// EncodeHex renders v as strict lower-case hex with no 0x prefix — the
// storage-layer canonical form (spec.md §6).
func EncodeHex(v [32]byte) string {
	return hex.EncodeToString(v[:])
}

// EncodeHex0x renders v as hex with a 0x prefix — the ledger-A call-data
// form (spec.md §6).
func EncodeHex0x(v [32]byte) string {
	return "0x" + hex.EncodeToString(v[:])
}

// DecodeDigestHex parses a hex-encoded digest. Decoding is strict: the
// input (after an optional 0x/0X prefix) must have even length and
// decode to exactly 32 bytes; case is accepted either way.
func DecodeDigestHex(s string) (swaptypes.Digest, error) {
	b, err := decodeStrict(s)
	if err != nil {
		return swaptypes.Digest{}, err
	}
	if len(b) != 32 {
		return swaptypes.Digest{}, fmt.Errorf("hashlock: digest must be 32 bytes, got %d", len(b))
	}
	var d swaptypes.Digest
	copy(d[:], b)
	return d, nil
}

// DecodeSecretHex parses a hex-encoded secret with the same strictness
// as DecodeDigestHex.
func DecodeSecretHex(s string) (swaptypes.Secret, error) {
	b, err := decodeStrict(s)
	if err != nil {
		return swaptypes.Secret{}, err
	}
	if len(b) != 32 {
		return swaptypes.Secret{}, fmt.Errorf("hashlock: secret must be 32 bytes, got %d", len(b))
	}
	var s32 swaptypes.Secret
	copy(s32[:], b)
	return s32, nil
}

func decodeStrict(s string) ([]byte, error) {
	if len(s) >= 2 && (s[0:2] == "0x" || s[0:2] == "0X") {
		s = s[2:]
	}
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("hashlock: odd-length hex string")
	}
	return hex.DecodeString(s)
}

// RedactHex returns a fixed-width redacted form of a secret suitable
// for trace logs — the full value is never logged.
func RedactHex(s swaptypes.Secret) string {
	full := EncodeHex(s)
	if len(full) <= 8 {
		return "****"
	}
	return full[:4] + "…" + full[len(full)-4:]
}

// AlgorithmFlag maps the 1-byte wire flag (spec.md §6) to an Algorithm.
func AlgorithmFlag(flag byte) (swaptypes.Algorithm, error) {
	algo := swaptypes.Algorithm(flag)
	if !algo.Valid() {
		return 0, fmt.Errorf("hashlock: unsupported algorithm flag %d", flag)
	}
	return algo, nil
}
