// Package tokenizer derives the opaque, session-scoped names that replace
// identifiers, class names, element ids and links in served documents.
//
// A token is a pure function of (category, original, session key):
//
//	"_" + key[:3] + hex(sha256(category + ":" + original + ":" + key))[:n]
//
// The leading underscore keeps every token a valid JavaScript identifier,
// CSS class name and HTML id regardless of the session key's first byte.
package tokenizer

import (
	"crypto/sha256"
	"encoding/hex"
)

// Category partitions the token space so that the same original string maps
// to different tokens in different roles.
type Category string

const (
	Identifier Category = "identifier"
	ClassName  Category = "classname"
	ElementID  Category = "id"
	TextChunk  Category = "textchunk"
	Link       Category = "link"
)

// DefaultLength is the number of digest characters used when length <= 0.
const DefaultLength = 10

// Token returns the token for original in category under sessionKey.
// It has no side effects and is stable across process restarts.
func Token(category Category, original, sessionKey string, length int) string {
	if length <= 0 {
		length = DefaultLength
	}
	sum := Digest(category, original, sessionKey)
	digest := hex.EncodeToString(sum[:])
	if length > len(digest) {
		length = len(digest)
	}
	return "_" + prefix(sessionKey) + digest[:length]
}

// Digest returns the raw sha256 of "category:original:sessionKey". The chunk
// source seeds itself from it so chunking is as deterministic as tokens.
func Digest(category Category, original, sessionKey string) [sha256.Size]byte {
	return sha256.Sum256([]byte(string(category) + ":" + original + ":" + sessionKey))
}

// prefix returns up to three leading characters of the session key, keeping
// only characters that are legal in identifiers.
func prefix(sessionKey string) string {
	out := make([]byte, 0, 3)
	for i := 0; i < len(sessionKey) && len(out) < 3; i++ {
		c := sessionKey[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' {
			out = append(out, c)
		}
	}
	return string(out)
}
