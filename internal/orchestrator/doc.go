// Package orchestrator implements askd's single entry point, ProcessTurn.
//
// # Overview
//
// A turn takes one inbound chat message to one reply. Every failure below the
// orchestrator degrades the reply instead of failing the turn; ProcessTurn
// only returns an error for invalid input.
//
// # Architecture
//
//	read history → partition → compact summary → plan → execute → aggregate → respond → append history
//
// The whole turn runs under an outer deadline. When it fires, in-flight retry
// loops escalate, the aggregator still runs on whatever resolved, and the
// reply is built locally with respond.Fallback.
//
// History is appended exactly once per turn, at the end: the inbound message
// and the reply together. Callers must not run two turns for the same
// conversation key concurrently.
//
// # Progress
//
// A per-turn progress.Emitter is attached to the context when the caller
// supplies a Sink (WithSink). Downstream components find it with
// progress.FromContext.
package orchestrator
