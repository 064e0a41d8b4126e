// Package invite generates the unique invitation codes embedded in
// per-customer survey links. A code must never collide with any code
// already issued on either channel, because a form submission is matched
// back to its customer by code alone.
package invite

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"
)

// CodeLength is the length of generated invitation codes. At 62^12
// possible values, the expected number of collision re-rolls is ~0 at any
// realistic customer count.
const CodeLength = 12

// maxAttempts bounds the collision retry loop. The original retry-until-
// unique approach has no bound; with this much entropy hitting the bound
// means the store lookup is lying, and erroring out beats looping forever.
const maxAttempts = 100

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ErrExhausted is returned when no unique code was found within maxAttempts.
var ErrExhausted = errors.New("invite: exhausted attempts generating a unique code")

// CodeChecker reports whether a code is already in use on either channel.
// The lookup must be cheap (both code columns are indexed).
type CodeChecker interface {
	CodeExists(ctx context.Context, code string) (bool, error)
}

// Generator produces collision-checked invitation codes.
type Generator struct {
	store  CodeChecker
	length int
}

// NewGenerator creates a Generator backed by the given store.
func NewGenerator(store CodeChecker) *Generator {
	return &Generator{store: store, length: CodeLength}
}

// Unique returns a random alphanumeric code that does not exist in either
// code column of the customer store, re-rolling on collision.
func (g *Generator) Unique(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		code, err := randomCode(g.length)
		if err != nil {
			return "", fmt.Errorf("invite: generating code: %w", err)
		}

		exists, err := g.store.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("invite: checking code uniqueness: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", ErrExhausted
}

// TokenCode returns a structurally-unique code composed of a nanosecond
// timestamp and random suffix. It needs no store lookup and cannot loop;
// the trade-off is a longer, partially-predictable code.
func TokenCode() string {
	suffix, err := randomCode(6)
	if err != nil {
		suffix = "000000"
	}
	return strconv.FormatInt(time.Now().UnixNano(), 36) + suffix
}

func randomCode(length int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[n.Int64()]
	}
	return string(b), nil
}
