// Package obfuscation holds the per-session state shared by the markup,
// script and style transformers.
//
// Architecture:
//   - Mappings is the persisted form: five insert-only tables (identifiers,
//     class names, element ids, text chunks, links), each with a reverse
//     index maintained alongside the forward one.
//   - Context is the request-local view handed to every transformer. It
//     reads through to a snapshot of the session's Mappings and records new
//     entries in a separate delta, so a transform never mutates shared state.
//     The caller commits the delta under the session lock once the response
//     is ready to be delivered, or drops it if the request was cancelled.
//   - Tokens come from the tokenizer package and chunkings are seeded from the
//     same digest, so two requests of one session that meet a value for the
//     first time at the same moment still produce identical entries.
package obfuscation

import (
	"math/rand/v2"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/firasghr/GoShroud/tokenizer"
)

// chunkSep separates memoized pieces inside the text-chunk table.
const chunkSep = "\x1f"

// maxPiece is the longest piece, in runes, a chunking produces.
const maxPiece = 3

// ChunkSource supplies randomness for text chunking. *rand.Rand satisfies it.
type ChunkSource interface {
	IntN(n int) int
}

// Option configures a Context.
type Option func(*Context)

// WithTokenLength sets the digest length of generated tokens.
func WithTokenLength(n int) Option { return func(c *Context) { c.tokenLength = n } }

// WithExclusions sets the class names that are never rewritten.
func WithExclusions(e *Exclusions) Option { return func(c *Context) { c.exclusions = e } }

// WithRand replaces the per-text seeded chunk source with src. Chunkings are
// still memoized, so a Context stays idempotent.
func WithRand(src ChunkSource) Option { return func(c *Context) { c.rand = src } }

// Context is the request-local obfuscation state of one session.
// It is safe for concurrent use.
type Context struct {
	key         string
	tokenLength int
	exclusions  *Exclusions
	rand        ChunkSource

	mu    sync.Mutex
	base  *Mappings
	delta *Mappings
}

// NewContext creates a Context for sessionKey over base. base is treated as
// read-only; pass nil for a fresh session.
func NewContext(sessionKey string, base *Mappings, opts ...Option) *Context {
	if base == nil {
		base = NewMappings()
	}
	c := &Context{
		key:         sessionKey,
		tokenLength: tokenizer.DefaultLength,
		base:        base,
		delta:       NewMappings(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SessionKey returns the key the context derives tokens from.
func (c *Context) SessionKey() string { return c.key }

// Token returns the token for original in category, recording a new entry if
// this is the first time the session meets original.
func (c *Context) Token(category tokenizer.Category, original string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tok, ok := c.lookupLocked(category, original); ok {
		return tok
	}
	tok := tokenizer.Token(category, original, c.key, c.tokenLength)
	c.delta.For(category).Put(original, tok)
	return tok
}

// ClassToken maps one class name, leaving excluded names untouched.
func (c *Context) ClassToken(name string) string {
	if c.exclusions.Match(name) {
		return name
	}
	return c.Token(tokenizer.ClassName, name)
}

// Excluded reports whether class name must pass through unchanged.
func (c *Context) Excluded(name string) bool { return c.exclusions.Match(name) }

// Lookup returns the existing token for original without inserting.
func (c *Context) Lookup(category tokenizer.Category, original string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(category, original)
}

func (c *Context) lookupLocked(category tokenizer.Category, original string) (string, bool) {
	if tok, ok := c.delta.For(category).Get(original); ok {
		return tok, true
	}
	return c.base.For(category).Get(original)
}

// Reverse returns the original value behind token in category.
func (c *Context) Reverse(category tokenizer.Category, token string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if orig, ok := c.base.For(category).Original(token); ok {
		return orig, true
	}
	return c.delta.For(category).Original(token)
}

// Chunks splits text into short pieces whose concatenation is text. The
// result is memoized in the text-chunk table, so repeated calls return the
// same pieces for the life of the session.
func (c *Context) Chunks(text string) []string {
	if utf8.RuneCountInString(text) < 2 || strings.Contains(text, chunkSep) {
		return []string{text}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if joined, ok := c.lookupLocked(tokenizer.TextChunk, text); ok {
		return strings.Split(joined, chunkSep)
	}
	src := c.rand
	if src == nil {
		src = seededSource(text, c.key)
	}
	pieces := chunk(text, src)
	c.delta.For(tokenizer.TextChunk).Put(text, strings.Join(pieces, chunkSep))
	return pieces
}

// Delta returns the entries recorded by this context that were not in its
// base snapshot.
func (c *Context) Delta() *Mappings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delta
}

// Pending returns the number of entries in the delta.
func (c *Context) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delta.Len()
}

// Rebase swaps the snapshot for a fresher one, keeping the delta.
func (c *Context) Rebase(base *Mappings) {
	if base == nil {
		return
	}
	c.mu.Lock()
	c.base = base
	c.mu.Unlock()
}

func seededSource(text, key string) *rand.Rand {
	return rand.New(rand.NewChaCha8(tokenizer.Digest(tokenizer.TextChunk, text, key)))
}

// chunk cuts text into pieces of 1..maxPiece runes.
func chunk(text string, src ChunkSource) []string {
	runes := []rune(text)
	pieces := make([]string, 0, len(runes)/2+1)
	for i := 0; i < len(runes); {
		n := 1 + src.IntN(maxPiece)
		if i+n > len(runes) {
			n = len(runes) - i
		}
		pieces = append(pieces, string(runes[i:i+n]))
		i += n
	}
	return pieces
}

// FixedSource is a deterministic ChunkSource for tests; it cycles through
// the given values.
type FixedSource struct {
	mu     sync.Mutex
	values []uint64
	next   int
}

// NewFixedSource returns a source that yields values modulo n in order.
func NewFixedSource(values ...uint64) *FixedSource {
	if len(values) == 0 {
		values = []uint64{1}
	}
	return &FixedSource{values: values}
}

// IntN implements ChunkSource.
func (f *FixedSource) IntN(n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.values[f.next%len(f.values)]
	f.next++
	return int(v % uint64(n))
}
