// Package embeddings turns text into vectors for the knowledge-base store.
//
// Two providers are available. "openai" talks to any OpenAI-compatible
// embeddings endpoint through langchaingo (OpenAI itself, or a local TEI
// server). "fastembed" runs ONNX models in-process and needs a cgo build.
// NewProvider selects one from configuration and wraps it with metrics.
package embeddings
