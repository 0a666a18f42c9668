// Package bench assembles the workload command templates and drives the
// benchmark: for each selected workload it builds one RESP byte string,
// spawns the client pool, runs until the target request count is reached and
// prints the latency report.
package bench
