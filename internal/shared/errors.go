package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidToken indicates the presented API token is unknown or revoked.
	ErrInvalidToken = errors.New("invalid token")
)
