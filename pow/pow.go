// Package pow implements the proof-of-work gate that stands in front of
// every obfuscated page.
//
// A session moves UNCHALLENGED → CHALLENGED → PASSED:
//   - GET /challenge stores a fresh nonce and difficulty in the session and
//     serves a page whose script searches for a suffix s such that
//     sha256(nonce + s) starts with difficulty hex zeros.
//   - POST /verify checks the submitted suffix. Success persists the PASSED
//     flag before answering; failure keeps the session CHALLENGED.
//   - Once PASSED, the gate lets every request of the session through.
//
// Known crawlers are matched on User-Agent and never challenged.
package pow

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// NonceBytes is the amount of randomness in a challenge nonce.
const NonceBytes = 16

var (
	// ErrNoChallenge means /verify was called without an outstanding nonce.
	ErrNoChallenge = errors.New("no active challenge")
	// ErrInvalidSolution means the submitted suffix does not meet the
	// difficulty.
	ErrInvalidSolution = errors.New("invalid solution")
)

// NewNonce returns a random hex nonce.
func NewNonce() (string, error) {
	buf := make([]byte, NonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("pow: generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Verify reports whether sha256(nonce + solution) has at least difficulty
// leading zero hex digits. It is pure and safe for concurrent use.
func Verify(nonce, solution string, difficulty int) bool {
	if difficulty < 0 || difficulty > sha256.Size*2 {
		return false
	}
	sum := sha256.Sum256([]byte(nonce + solution))
	return strings.HasPrefix(hex.EncodeToString(sum[:]), strings.Repeat("0", difficulty))
}

// Solve searches for the smallest decimal suffix satisfying Verify, giving
// up after limit candidates. The in-page solver does the same in the browser;
// this is used by tests and tooling.
func Solve(nonce string, difficulty, limit int) (string, bool) {
	for i := 0; i < limit; i++ {
		s := fmt.Sprint(i)
		if Verify(nonce, s, difficulty) {
			return s, true
		}
	}
	return "", false
}
