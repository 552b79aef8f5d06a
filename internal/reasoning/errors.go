package reasoning

import "errors"

var (
	// ErrEmptyResponse indicates the model returned no text.
	ErrEmptyResponse = errors.New("empty response from model")

	// ErrMalformedOutput indicates the model's text could not be parsed.
	ErrMalformedOutput = errors.New("malformed model output")

	// ErrUnknownProvider indicates an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown reasoning provider")

	// ErrMissingAPIKey indicates a provider that needs a key was given none.
	ErrMissingAPIKey = errors.New("api key required")

	// ErrUnsupportedOption indicates a setting the provider's client cannot honor.
	ErrUnsupportedOption = errors.New("unsupported provider option")
)
