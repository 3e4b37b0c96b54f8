// Package ids mints and checks user identifiers. User IDs are ULIDs, so they
// sort by creation time and double as the JWT subject.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewUserID returns a 26-character ULID stamped with now (UTC now when zero).
func NewUserID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ValidUserID reports whether s is a canonical user ID. Lookups with anything
// else short-circuit to not found instead of reaching the database.
func ValidUserID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
