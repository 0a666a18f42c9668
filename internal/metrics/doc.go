// Package metrics provides latency accounting and reporting for a benchmark
// run.
//
// A Recorder owns the fixed-size latency array and the two global counters
// (rounds issued, replies finished). All mutation is via atomic operations so
// that per-connection tasks can record without locks; the consumer of the
// final reply closes the Done channel, which is the run's single termination
// edge.
//
// # Basic Usage
//
//	rec := metrics.NewRecorder(requests)
//	rec.Start()
//	...
//	if !rec.IssueRound() { /* dispose client */ }
//	rec.RecordReply(latencyUS)
//	<-rec.Done()
//
// The Report type sorts the recorded samples and prints the cumulative
// percentile distribution, outlier count and requests-per-second figure in
// verbose, quiet or CSV form.
package metrics
