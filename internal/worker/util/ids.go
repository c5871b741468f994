package util

import "github.com/google/uuid"

// NewJobID returns a random job identifier.
func NewJobID() string {
	return uuid.NewString()
}
