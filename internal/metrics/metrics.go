package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Recorder は1ワークロード実行分のカウンタとレイテンシ配列を持つ
//
// 配列は起動時に requests 要素で確保され、完了順（発行順ではない）に
// 埋められる。ソートはレポート時にのみ行う。
type Recorder struct {
	requests int64

	issued   atomic.Int64
	finished atomic.Int64

	latencies []int64 // マイクロ秒

	startNS atomic.Int64

	done     chan struct{}
	doneOnce sync.Once
}

// NewRecorder は requests 件分のレコーダを作成する
func NewRecorder(requests int) *Recorder {
	r := &Recorder{
		requests:  int64(requests),
		latencies: make([]int64, requests),
		done:      make(chan struct{}),
	}
	if requests == 0 {
		// 仕事がないので最初から完了扱い
		r.doneOnce.Do(func() { close(r.done) })
	}
	return r
}

// Start は経過時間計測の起点を記録する
func (r *Recorder) Start() {
	r.startNS.Store(time.Now().UnixNano())
}

// IssueRound は新しいラウンドの発行を試みる
//
// 上限に達している場合は false を返し、呼び出し側のクライアントは
// そのまま破棄される。カウントはラウンド単位（パイプライン一式で1）。
func (r *Recorder) IssueRound() bool {
	return r.issued.Add(1) <= r.requests
}

// RecordReply は本文応答1件のレイテンシを記録する
//
// 上限を越えた応答は捨てられる。最後の1件を記録した呼び出しが
// Doneチャネルを閉じる。
func (r *Recorder) RecordReply(latencyUS int64) {
	for {
		cur := r.finished.Load()
		if cur >= r.requests {
			return
		}
		if r.finished.CompareAndSwap(cur, cur+1) {
			r.latencies[cur] = latencyUS
			if cur+1 == r.requests {
				r.doneOnce.Do(func() { close(r.done) })
			}
			return
		}
	}
}

// Done は全リクエスト完了時に閉じられるチャネルを返す
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

// Requests は目標リクエスト数を返す
func (r *Recorder) Requests() int {
	return int(r.requests)
}

// Issued は発行済みラウンド数を返す
func (r *Recorder) Issued() int64 {
	return r.issued.Load()
}

// Finished は記録済み応答数を返す
func (r *Recorder) Finished() int64 {
	return r.finished.Load()
}

// Complete は目標数まで完了したかどうかを返す
func (r *Recorder) Complete() bool {
	return r.finished.Load() >= r.requests
}

// Elapsed は Start からの経過時間を返す
func (r *Recorder) Elapsed() time.Duration {
	start := r.startNS.Load()
	if start == 0 {
		return 0
	}
	return time.Duration(time.Now().UnixNano() - start)
}

// WallRPS は経過実時間ベースの瞬間スループットを返す
//
// 進捗表示専用。最終レポートのRPSはレイテンシ合計から計算される。
func (r *Recorder) WallRPS() float64 {
	sec := r.Elapsed().Seconds()
	if sec <= 0 {
		return 0
	}
	return float64(r.finished.Load()) / sec
}

// Latencies は記録済み分のレイテンシ（マイクロ秒）を返す
func (r *Recorder) Latencies() []int64 {
	n := r.finished.Load()
	return r.latencies[:n]
}
