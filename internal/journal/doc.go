// Package journal archives inbound realtime envelopes to PostgreSQL.
//
// The Writer subscribes to a fixed set of message types, buffers rows
// and batch-inserts them into realtime_messages. Inserts are append-only;
// a redelivered row ID is ignored.
package journal
