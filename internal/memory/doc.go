// Package memory keeps conversation context within a token budget.
//
// Every turn the full stored history is partitioned into a live window, kept
// verbatim, and an older remainder that is folded into a rolling summary.
// Partitioning is recomputed from history each turn and never persisted; only
// the history and the summary text are stored.
package memory
