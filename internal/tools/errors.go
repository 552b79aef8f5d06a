package tools

import "errors"

// Registry errors.
var (
	ErrUnknownTool   = errors.New("unknown tool")
	ErrDuplicateTool = errors.New("tool already registered")
	ErrInvalidTool   = errors.New("invalid tool backend")
)

// Argument errors, returned by backends.
var (
	ErrMissingQuery    = errors.New("query argument is required")
	ErrInvalidArgument = errors.New("invalid argument")
)
