package metrics

import (
	"fmt"
	"io"
	"sort"

	"github.com/codahale/hdrhistogram"
)

// Mode はレポートの出力形式
type Mode int

const (
	ModeVerbose Mode = iota
	ModeQuiet
	ModeCSV
)

// Report は1ワークロード分の最終結果
type Report struct {
	Title      string
	Requests   int   // 目標数
	Finished   int64 // 実際に記録された応答数
	Latencies  []int64
	NumClients int
	DataSize   int
	Keepalive  bool
	MaxLatMS   int64
}

const histogramMaxUS = 60 * 1000 * 1000 // 60秒あれば十分

// RPS はレイテンシ合計ベースのスループットを返す
//
// 実時間経過ではなくレイテンシ合計を使う。実時間にはコマンド組み立てや
// 乱数初期化などの準備時間が含まれてしまうため。
func (rep *Report) RPS() float64 {
	var totalUS int64
	for _, l := range rep.Latencies {
		totalUS += l
	}
	if totalUS <= 0 {
		return 0
	}
	return float64(rep.Finished) / (float64(totalUS) / 1e6)
}

// Print はレポートを出力する
//
// ModeVerbose: 累積パーセンタイル分布とサマリブロック
// ModeQuiet:   1行のRPSのみ
// ModeCSV:     "title","rps" の1行
func (rep *Report) Print(w io.Writer, mode Mode) {
	switch mode {
	case ModeCSV:
		fmt.Fprintf(w, "\"%s\",\"%.2f\"\n", rep.Title, rep.RPS())
		return
	case ModeQuiet:
		fmt.Fprintf(w, "%s: %.2f requests per second\n", rep.Title, rep.RPS())
		return
	}

	fmt.Fprintf(w, "====== %s ======\n", rep.Title)

	sorted := make([]int64, len(rep.Latencies))
	copy(sorted, rep.Latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	maxUS := rep.MaxLatMS * 1000
	var totalUS, beyond int64
	curMS := int64(0)
	n := len(sorted)

	for i, lat := range sorted {
		if lat/1000 != curMS || i == n-1 {
			curMS = lat / 1000
			perc := float64(i+1) * 100 / float64(n)
			fmt.Fprintf(w, "%.2f%% <= %d milliseconds\n", perc, curMS)
		}
		totalUS += lat
		if lat > maxUS {
			beyond++
		}
	}
	fmt.Fprintf(w, "%d requests latency > %d milliseconds\n", beyond, rep.MaxLatMS)

	keepalive := 0
	if rep.Keepalive {
		keepalive = 1
	}

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  %d parallel clients\n", rep.NumClients)
	fmt.Fprintf(w, "  %d bytes payload\n", rep.DataSize)
	fmt.Fprintf(w, "  keep alive: %d\n", keepalive)
	fmt.Fprintf(w, "  %d requests completed in %.2f seconds\n", rep.Finished, float64(totalUS)/1e6)
	fmt.Fprintf(w, "  %.2f requests per second\n", rep.RPS())

	if n > 0 {
		h := hdrhistogram.New(1, histogramMaxUS, 3)
		for _, lat := range sorted {
			v := lat
			if v < 1 {
				v = 1
			}
			if v > histogramMaxUS {
				v = histogramMaxUS
			}
			_ = h.RecordValue(v)
		}
		fmt.Fprintf(w, "  latency (usec): p50=%d p95=%d p99=%d p99.9=%d\n",
			h.ValueAtQuantile(50), h.ValueAtQuantile(95),
			h.ValueAtQuantile(99), h.ValueAtQuantile(99.9))
	}
	fmt.Fprintf(w, "\n")
}
