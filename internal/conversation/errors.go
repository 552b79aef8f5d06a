package conversation

import "errors"

var (
	// ErrInvalidKey indicates a conversation key that is empty or malformed.
	ErrInvalidKey = errors.New("invalid conversation key")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("conversation store closed")
)
