// Package conversation defines inbound chat messages, the keys that identify a
// conversation, and the stores that persist history and rolling summaries.
//
// A conversation is keyed by channel and thread:
//
//	conv:{channel_id}:{thread_id}
//
// Messages that do not belong to a thread start one, so the message's own id
// stands in for the thread id.
//
// Two store implementations are provided. MemoryStore keeps everything in
// process with a time-to-live per conversation. SQLiteStore persists to a
// local SQLite database. Both keep a sliding window of the most recent
// messages per conversation.
package conversation
