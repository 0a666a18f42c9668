package bench

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"respbench/internal/client"
	"respbench/internal/config"
	"respbench/internal/events"
	"respbench/internal/logger"
	"respbench/internal/metrics"
)

// tickInterval は進捗表示と生存監視の周期
const tickInterval = 250 * time.Millisecond

// Runner はワークロード列を実行するドライバ
type Runner struct {
	cfg *config.Config
	bus *events.Bus
	out io.Writer

	fatalFn func(error)
}

// New は新しいRunnerを作成する
func New(cfg *config.Config) *Runner {
	return &Runner{
		cfg:     cfg,
		out:     os.Stdout,
		fatalFn: func(error) { os.Exit(1) },
	}
}

// SetEventBus はイベントバスを設定する
func (r *Runner) SetEventBus(bus *events.Bus) {
	r.bus = bus
}

// SetOutput はレポートと進捗の出力先を設定する
func (r *Runner) SetOutput(out io.Writer) {
	r.out = out
}

// SetFatalFunc は致命的エラー時の動作を差し替える（テスト用）
func (r *Runner) SetFatalFunc(fn func(error)) {
	r.fatalFn = fn
}

func (r *Runner) mode() metrics.Mode {
	switch {
	case r.cfg.CSV:
		return metrics.ModeCSV
	case r.cfg.Quiet:
		return metrics.ModeQuiet
	default:
		return metrics.ModeVerbose
	}
}

// RunSuite は既定スイートを実行する
func (r *Runner) RunSuite(ctx context.Context) error {
	for {
		for _, tpl := range Suite(r.cfg) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if _, err := r.Benchmark(ctx, tpl); err != nil {
				return err
			}
		}
		if !r.cfg.CSV {
			fmt.Fprintln(r.out)
		}
		if !r.cfg.Loop || ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// RunCommand はコマンドライン末尾で指定された任意コマンドを実行する
func (r *Runner) RunCommand(ctx context.Context, args []string) error {
	tpl := CommandTemplate(r.cfg, args)
	for {
		if _, err := r.Benchmark(ctx, tpl); err != nil {
			return err
		}
		if !r.cfg.Loop || ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// RunIdle は接続だけ張って何も送らないアイドルモードを実行する
func (r *Runner) RunIdle(ctx context.Context) error {
	fmt.Fprintf(r.out, "Creating %d idle connections and waiting forever (Ctrl+C when done)\n",
		r.cfg.NumClients)

	rec := metrics.NewRecorder(r.cfg.Requests)
	pool := client.NewPool(r.cfg, rec, nil, 0)
	pool.SetFatalFunc(r.fatalFn)
	if r.bus != nil {
		pool.SetEventBus(r.bus)
	}
	if err := pool.Start(ctx); err != nil {
		pool.Stop()
		return err
	}
	defer pool.Stop()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if pool.Live() == 0 {
				logger.Printf("All clients disconnected... aborting.")
				r.fatalFn(fmt.Errorf("all clients disconnected"))
				return nil
			}
			fmt.Fprintf(r.out, "clients: %d\r", pool.Live())
		}
	}
}

// Benchmark は1ワークロードを完走させてレポートを出力する
func (r *Runner) Benchmark(ctx context.Context, tpl Template) (*metrics.Report, error) {
	rec := metrics.NewRecorder(r.cfg.Requests)

	report := &metrics.Report{
		Title:      tpl.Title,
		Requests:   r.cfg.Requests,
		NumClients: r.cfg.NumClients,
		DataSize:   r.cfg.DataSize,
		Keepalive:  r.cfg.Keepalive,
		MaxLatMS:   r.cfg.MaxLatencyMS,
	}

	// 仕事がない場合は空レポートだけ出して即座に戻る
	if r.cfg.Requests == 0 {
		report.Print(r.out, r.mode())
		return report, nil
	}

	if r.bus != nil {
		r.bus.Publish(events.NewRunStartEvent(tpl.Title))
	}

	pool := client.NewPool(r.cfg, rec, tpl.Cmd, tpl.SlotLen)
	pool.SetFatalFunc(r.fatalFn)
	if r.bus != nil {
		pool.SetEventBus(r.bus)
	}

	benchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := pool.Start(benchCtx); err != nil {
		pool.Stop()
		return nil, err
	}
	rec.Start()

	tickerDone := make(chan struct{})
	go r.tick(benchCtx, tpl.Title, rec, pool, tickerDone)

	select {
	case <-rec.Done():
	case <-ctx.Done():
	}

	cancel()
	pool.Stop()
	<-tickerDone

	report.Finished = rec.Finished()
	report.Latencies = rec.Latencies()
	report.Print(r.out, r.mode())

	if r.bus != nil {
		r.bus.Publish(events.NewRunCompleteEvent(tpl.Title, rec.Finished(), report.RPS(), rec.Elapsed()))
	}
	return report, nil
}

// tick は250ms周期で進捗を出し、全クライアント切断を検知する
func (r *Runner) tick(ctx context.Context, title string, rec *metrics.Recorder, pool *client.Pool, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pool.Live() == 0 && !rec.Complete() {
				logger.Printf("All clients disconnected... aborting.")
				r.fatalFn(fmt.Errorf("all clients disconnected"))
				return
			}
			if r.bus != nil {
				r.bus.Publish(events.NewProgressEvent(
					title, rec.Finished(), rec.Issued(), rec.WallRPS(), pool.Live()))
			}
			if r.cfg.CSV {
				continue
			}
			fmt.Fprintf(r.out, "%s: %.2f\r", title, rec.WallRPS())
		}
	}
}
