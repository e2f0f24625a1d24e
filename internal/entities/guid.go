package entities

import (
	"fmt"

	"github.com/google/uuid"
)

// NewGUID returns a fresh random entity guid
func NewGUID() uuid.UUID {
	return uuid.New()
}

// ParseGUID accepts the hyphenated lower-hex form as well as the other layouts
// uuid.Parse understands
func ParseGUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid guid %q: %w", s, err)
	}
	return id, nil
}

// GUIDFromBytes converts the stored 16-byte binary form
func GUIDFromBytes(b []byte) (uuid.UUID, error) {
	if len(b) == 0 {
		return uuid.Nil, nil
	}
	id, err := uuid.FromBytes(b)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid stored guid: %w", err)
	}
	return id, nil
}

// GUIDBytes returns the 16-byte binary storage form
func GUIDBytes(id uuid.UUID) []byte {
	b := make([]byte, 16)
	copy(b, id[:])
	return b
}
