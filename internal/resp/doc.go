// Package resp implements the subset of the RESP wire protocol the benchmark
// needs: a multi-bulk command encoder and an incremental reply reader.
//
// The reader consumes exactly one complete reply per call and distinguishes
// server error replies (first byte '-') from framing errors, which are
// returned as Go errors wrapping ErrProtocol.
package resp
