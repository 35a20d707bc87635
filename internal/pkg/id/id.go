package id

import (
	"strings"

	"github.com/google/uuid"
)

// New generates a new UUID string
func New() string {
	return uuid.New().String()
}

// NewShort generates a compact 12-character id for file-backed records
func NewShort() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// IsValid reports whether id is a well-formed UUID
func IsValid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
