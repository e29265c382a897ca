package common

import "github.com/google/uuid"

// NewID returns a random identifier for any stored entity.
func NewID() string {
	return uuid.NewString()
}

func IsID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
