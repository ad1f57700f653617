package util

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a unique identifier for new records.
func NewID() string {
	return uuid.NewString()
}

// Now returns the current UTC time. Timestamps are stored in UTC.
func Now() time.Time {
	return time.Now().UTC()
}
