package session

import (
	"context"

	"turnstile/cmd/identity"
	"turnstile/cmd/security/token"
)

// HashSlot persists one refresh-token hash per user. Writes must be a single
// atomic operation; a nil hash clears the slot.
type HashSlot interface {
	PersistHashedRefreshToken(ctx context.Context, userID string, hash *string) error
	LoadHashedRefreshToken(ctx context.Context, userID string) (*string, error)
}

// SlotState is the outcome of comparing a candidate with the stored hash.
type SlotState int

const (
	SlotEmpty SlotState = iota
	SlotMismatch
	SlotMatch
)

// RefreshStore keeps a salted hash of each user's current refresh token.
type RefreshStore struct {
	slot   HashSlot
	hasher *token.Hasher
}

// NewRefreshStore returns a RefreshStore over slot. A nil hasher hashes with SHA-256.
func NewRefreshStore(slot HashSlot, hasher *token.Hasher) *RefreshStore {
	if hasher == nil {
		hasher = token.NewHasher(nil)
	}
	return &RefreshStore{slot: slot, hasher: hasher}
}

// Store replaces the user's slot with a fresh hash of refreshToken, or clears it when nil.
func (s *RefreshStore) Store(ctx context.Context, userID string, refreshToken *string) error {
	if refreshToken == nil {
		return s.slot.PersistHashedRefreshToken(ctx, userID, nil)
	}

	h, err := s.hasher.Hash(*refreshToken)
	if err != nil {
		return err
	}
	return s.slot.PersistHashedRefreshToken(ctx, userID, &h)
}

// Matches reports whether candidate is the user's current refresh token.
// An empty slot or an unknown user is a plain false.
func (s *RefreshStore) Matches(ctx context.Context, userID, candidate string) (bool, error) {
	st, err := s.Check(ctx, userID, candidate)
	return st == SlotMatch, err
}

// Check is Matches with the empty/mismatch distinction kept.
func (s *RefreshStore) Check(ctx context.Context, userID, candidate string) (SlotState, error) {
	stored, err := s.slot.LoadHashedRefreshToken(ctx, userID)
	if err != nil {
		if identity.IsNotFound(err) {
			return SlotEmpty, nil
		}
		return SlotEmpty, err
	}
	if stored == nil {
		return SlotEmpty, nil
	}
	if s.hasher.Verify(*stored, candidate) {
		return SlotMatch, nil
	}
	return SlotMismatch, nil
}
