package password

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastParams = Params{Time: 1, MemoryKB: 1024, Threads: 1}

func TestHashAndVerify(t *testing.T) {
	h := NewHasher(fastParams, 2)
	ctx := context.Background()

	encoded, err := h.Hash(ctx, "secret1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=1$"))

	ok, err := h.Verify(ctx, encoded, "secret1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify(ctx, encoded, "secret2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHash_Salted(t *testing.T) {
	h := NewHasher(fastParams, 1)
	a, err := h.Hash(context.Background(), "same")
	require.NoError(t, err)
	b, err := h.Hash(context.Background(), "same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerify_UsesStoredParams(t *testing.T) {
	old := NewHasher(fastParams, 1)
	encoded, err := old.Hash(context.Background(), "pw")
	require.NoError(t, err)

	current := NewHasher(Params{Time: 2, MemoryKB: 2048, Threads: 1}, 1)
	ok, err := current.Verify(context.Background(), encoded, "pw")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_Malformed(t *testing.T) {
	h := NewHasher(fastParams, 1)
	for _, bad := range []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$garbage$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1024,t=1,p=1$!!$aGFzaA",
	} {
		_, err := h.Verify(context.Background(), bad, "pw")
		assert.ErrorIs(t, err, ErrMalformedHash, bad)
	}
}

func TestHash_CancelledWhileWaiting(t *testing.T) {
	h := NewHasher(fastParams, 1)
	require.NoError(t, h.sem.Acquire(context.Background(), 1))
	defer h.sem.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Hash(ctx, "pw")
	require.ErrorIs(t, err, context.Canceled)
}

func TestHash_Concurrent(t *testing.T) {
	h := NewHasher(fastParams, 2)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Hash(context.Background(), "pw")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}
