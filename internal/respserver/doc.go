// Package respserver provides a small in-memory RESP server for package
// tests: it accepts TCP connections, answers PING/SELECT/SET/GET with real
// replies, INCR/INCRBY/DECR/HINCRBY with a constant :1 and everything else
// with +OK, and can inject error replies or
// connection drops to exercise the benchmark's failure paths.
package respserver
