// Package shortid generates the compact public identifiers that artifacts
// are shared under. Ids are 6 characters from a 62-character alphabet,
// giving roughly 56.8 billion possible values.
package shortid

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"regexp"
)

const (
	// Length of every generated id.
	Length = 6

	// alphabet is digits plus lower- and upper-case letters (base62).
	alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

	// maxAttempts bounds collision retries. Repeated collisions at this
	// space size mean either a broken existence check or near-exhaustion,
	// and both need operator attention rather than silent spinning.
	maxAttempts = 3
)

// ErrExhausted is returned when every allocation attempt collided.
var ErrExhausted = errors.New("short id allocation exhausted retry attempts")

// ExistsFunc reports whether a candidate id is already taken.
type ExistsFunc func(ctx context.Context, id string) (bool, error)

// validExternalID accepts ids supplied from outside (URL path segments).
// Slightly wider than the generation alphabet: '-' and '_' are allowed so
// historically issued ids keep resolving.
var validExternalID = regexp.MustCompile(`^[A-Za-z0-9_-]{6}$`)

// Allocate generates a random id and checks it against exists, retrying
// with a fresh candidate on collision up to maxAttempts times.
func Allocate(ctx context.Context, exists ExistsFunc) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate, err := New()
		if err != nil {
			return "", err
		}

		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("short id existence check: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", ErrExhausted
}

// New returns a single random candidate without any existence check.
func New() (string, error) {
	id := make([]byte, Length)
	buf := make([]byte, 1)

	for i := 0; i < Length; {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("short id randomness: %w", err)
		}
		// Reject bytes beyond the largest multiple of 62 to keep the
		// distribution uniform.
		if buf[0] >= 248 {
			continue
		}
		id[i] = alphabet[int(buf[0])%len(alphabet)]
		i++
	}
	return string(id), nil
}

// IsValid reports whether an externally supplied id is well-formed.
func IsValid(id string) bool {
	return validExternalID.MatchString(id)
}
