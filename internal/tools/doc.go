// Package tools wraps every knowledge backend behind one call shape.
//
// Backends are registered once at startup in a Registry keyed by ID. The
// Adapter makes a single bounded call to a backend and normalizes whatever
// happens (payload, error, timeout, panic) into a Result. Retrying is not the
// adapter's job; see package react.
package tools
