// Package reasoning is askd's gateway to language models.
//
// A Service wraps one Provider (Gemini, an OpenAI-compatible endpoint or
// Anthropic) with rate limiting, per-call timeouts and tracing, and exposes
// the two operations the rest of askd needs: Ask, a single system+user
// exchange, and Diagnose, which turns a failed tool call into corrected
// arguments.
package reasoning
