// Package logger provides stderr diagnostics for the benchmark CLI.
//
// stdout carries the report stream (and CR-terminated progress lines), so
// every diagnostic goes to a separate writer as a complete line:
//
//	logger.Errorf("reading from socket: %v", err)  // "Error: ..."
//	logger.Printf("All clients disconnected... aborting.")
//	logger.Debugf("pool ramped to %d connections", n) // verbose only, "# ..."
//
// There are no timestamps or level tags; scripts piping the tool expect the
// bare one-line diagnostics this family of tools has always produced.
package logger
