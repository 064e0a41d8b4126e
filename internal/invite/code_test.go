package invite

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	existing map[string]bool
	// force makes the first n lookups report a collision regardless of code
	force int
	calls int
	err   error
}

func (f *fakeChecker) CodeExists(_ context.Context, code string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	if f.force > 0 {
		f.force--
		return true, nil
	}
	return f.existing[code], nil
}

func TestUniqueReturnsUnusedCode(t *testing.T) {
	checker := &fakeChecker{existing: map[string]bool{"takenTaken12": true}}
	gen := NewGenerator(checker)

	code, err := gen.Unique(context.Background())
	require.NoError(t, err)
	assert.Len(t, code, CodeLength)
	assert.False(t, checker.existing[code])
	assert.Equal(t, 1, checker.calls)
}

func TestUniqueRerollsOnCollision(t *testing.T) {
	checker := &fakeChecker{force: 3}
	gen := NewGenerator(checker)

	code, err := gen.Unique(context.Background())
	require.NoError(t, err)
	assert.Len(t, code, CodeLength)
	assert.Equal(t, 4, checker.calls)
}

func TestUniqueBoundedRetries(t *testing.T) {
	checker := &fakeChecker{force: maxAttempts + 1}
	gen := NewGenerator(checker)

	_, err := gen.Unique(context.Background())
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, maxAttempts, checker.calls)
}

func TestUniquePropagatesStoreError(t *testing.T) {
	checker := &fakeChecker{err: errors.New("connection refused")}
	gen := NewGenerator(checker)

	_, err := gen.Unique(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExhausted)
}

func TestCodesAreAlphanumeric(t *testing.T) {
	gen := NewGenerator(&fakeChecker{})

	for i := 0; i < 50; i++ {
		code, err := gen.Unique(context.Background())
		require.NoError(t, err)
		for _, r := range code {
			isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			assert.True(t, isAlnum, "unexpected rune %q in code %q", r, code)
		}
	}
}

func TestTokenCodeDistinct(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		c := TokenCode()
		assert.False(t, seen[c], "duplicate token code %q", c)
		seen[c] = true
	}
}
