// Package client implements the benchmark client engine: one Connection per
// socket, a Client state machine that writes a prebuilt pipelined command
// buffer and consumes the matching replies, and a Pool that keeps the
// configured number of clients alive.
//
// Each Client runs as one cooperative task (goroutine). A round moves through
// WRITING → READING → (DONE | RESET): the body is written in full, then
// exactly `pending` replies are consumed. Latency is measured from the start
// of the round (taken just before the body is written) to "first readable
// byte of the round", excluding parse time; the Connection latches that
// timestamp in its Read passthrough.
//
// Shared counters live in metrics.Recorder and the Pool's atomic live-client
// count; there are no locks on the hot path.
package client
