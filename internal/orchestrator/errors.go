package orchestrator

import "errors"

var (
	// ErrEmptyMessage indicates a message with no text.
	ErrEmptyMessage = errors.New("message text is empty")

	// ErrMissingChannel indicates a message without a channel id.
	ErrMissingChannel = errors.New("message channel is required")
)
