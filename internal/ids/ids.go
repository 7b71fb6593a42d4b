// Package ids generates message identifiers.
package ids

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator generates identifiers.
type Generator interface {
	Generate() (string, error)
}

// ULIDGenerator generates lexicographically sortable server ids.
type ULIDGenerator struct {
	now func() time.Time
}

// NewULIDGenerator creates a new ULIDGenerator.
func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{now: time.Now}
}

func (g *ULIDGenerator) Generate() (string, error) {
	id, err := ulid.New(ulid.Timestamp(g.now()), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate ULID: %w", err)
	}
	return id.String(), nil
}

// ValidULID reports whether id is a well-formed ULID.
func ValidULID(id string) bool {
	if len(id) != ulid.EncodedSize {
		return false
	}
	_, err := ulid.ParseStrict(id)
	return err == nil
}

// TempPrefix marks client-generated ids that the server has not confirmed.
const TempPrefix = "tmp-"

// TempGenerator generates client-side temp ids for pending messages.
type TempGenerator struct{}

func (TempGenerator) Generate() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID: %w", err)
	}
	return TempPrefix + id.String(), nil
}

// IsTemp reports whether id was produced by TempGenerator.
func IsTemp(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}
