// Package session provides the per-visitor session record, its persistence
// backends, and the HTTP middleware that binds a record to each request.
//
// Architecture notes:
//   - A Record is a plain value: identifier, random session key, proof-of-work
//     challenge and the five obfuscation tables. Backends persist it as JSON.
//   - Stores are opaque key-value backends. Every Load returns a fresh copy,
//     so a handler may read its snapshot without locks.
//   - All writes go through Manager.Update, which serialises load → modify →
//     save per session id with a KeyedLock.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/firasghr/GoShroud/obfuscation"
)

// sessionKeyBytes is the amount of randomness behind a session key.
const sessionKeyBytes = 32

// Challenge is the proof-of-work state of a session.
type Challenge struct {
	// Nonce is empty when no challenge is outstanding.
	Nonce      string `json:"nonce"`
	Difficulty int    `json:"difficulty"`
	Solved     bool   `json:"solved"`
	// Attempts counts wrong solutions for the current nonce.
	Attempts int `json:"attempts,omitempty"`
}

// Active reports whether a nonce is outstanding.
func (c Challenge) Active() bool { return c.Nonce != "" }

// Record is everything the gateway knows about one visitor.
type Record struct {
	ID         string                `json:"id"`
	SessionKey string                `json:"sessionKey"`
	Challenge  Challenge             `json:"challenge"`
	Mappings   *obfuscation.Mappings `json:"mappings"`
	CreatedAt  time.Time             `json:"createdAt"`
	ExpiresAt  time.Time             `json:"expiresAt"`
	// Transient records live for one request and are never stored.
	Transient bool `json:"-"`
}

// NewRecord creates a record with a fresh id and session key.
func NewRecord(now time.Time, ttl time.Duration) (*Record, error) {
	buf := make([]byte, sessionKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("session: generate key: %w", err)
	}
	return &Record{
		ID:         uuid.NewString(),
		SessionKey: hex.EncodeToString(buf),
		Mappings:   obfuscation.NewMappings(),
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}, nil
}

// Expired reports whether the record's lifetime has ended at now.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Encode serialises the record for a backend.
func (r *Record) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("session: encode %s: %w", r.ID, err)
	}
	return data, nil
}

// Decode parses a record produced by Encode.
func Decode(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	if r.Mappings == nil {
		r.Mappings = obfuscation.NewMappings()
	}
	return &r, nil
}
