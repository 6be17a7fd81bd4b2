package auth

import "errors"

// Authentication errors. The API responds 401 for all of them without
// telling the caller which check failed.
var (
	ErrMissingToken  = errors.New("API token required in Authorization header")
	ErrInvalidToken  = errors.New("invalid API token")
	ErrInvalidSecret = errors.New("shared secret is not valid base64")
)
