package types

import (
	"time"

	"github.com/google/uuid"
)

// NewInvocationID generates a UUIDv7 invocation identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewInvocationID() InvocationID {
	return InvocationID(uuid.Must(uuid.NewV7()).String())
}

// ParseInvocationID validates and converts a string to InvocationID.
// Rejects malformed UUIDs so restored state cannot smuggle arbitrary keys.
func ParseInvocationID(s string) (InvocationID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return InvocationID(s), nil
}

// InvocationIDTime extracts the timestamp embedded in a UUIDv7 ID.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func InvocationIDTime(id InvocationID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
