package pow_test

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firasghr/GoShroud/pow"
)

func TestVerify_Abc123Difficulty4(t *testing.T) {
	solution, ok := pow.Solve("abc123", 4, 2_000_000)
	require.True(t, ok, "a difficulty-4 solution exists well within the limit")

	sum := sha256.Sum256([]byte("abc123" + solution))
	assert.True(t, strings.HasPrefix(hex.EncodeToString(sum[:]), "0000"))
	assert.True(t, pow.Verify("abc123", solution, 4))

	// Pick a suffix that provably fails.
	for i := 0; ; i++ {
		s := "x" + string(rune('a'+i%26)) + strings.Repeat("y", i/26)
		sum := sha256.Sum256([]byte("abc123" + s))
		if !strings.HasPrefix(hex.EncodeToString(sum[:]), "0000") {
			assert.False(t, pow.Verify("abc123", s, 4))
			break
		}
	}
}

func TestVerify_Bounds(t *testing.T) {
	assert.True(t, pow.Verify("any", "thing", 0))
	assert.False(t, pow.Verify("any", "thing", -1))
	assert.False(t, pow.Verify("any", "thing", 65))
}

func TestVerify_Concurrent(t *testing.T) {
	solution, ok := pow.Solve("nonce", 2, 100_000)
	require.True(t, ok)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, pow.Verify("nonce", solution, 2))
		}()
	}
	wg.Wait()
}

func TestNewNonce(t *testing.T) {
	a, err := pow.NewNonce()
	require.NoError(t, err)
	b, err := pow.NewNonce()
	require.NoError(t, err)
	assert.Len(t, a, 2*pow.NonceBytes)
	assert.NotEqual(t, a, b)
}
