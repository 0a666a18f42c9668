package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"respbench/internal/config"
	"respbench/internal/events"
	"respbench/internal/logger"
	"respbench/internal/metrics"
	"respbench/internal/resp"
)

// backlogBatch 本接続するごとに一呼吸置く
// OSのlistenバックログはたいてい小さい
const (
	backlogBatch = 64
	backlogPause = 50 * time.Millisecond
)

// Pool は生きているクライアントの集合を管理する
type Pool struct {
	cfg *config.Config
	rec *metrics.Recorder
	bus *events.Bus // 省略可
	out io.Writer   // サーバエラー応答の表示先

	cmd     []byte
	slotLen int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	clients map[*Client]struct{}

	live       atomic.Int64
	stopped    atomic.Bool
	lastErrSec atomic.Int64
	connects   atomic.Int64

	fatalFn func(error)
}

// NewPool は新しいプールを作成する
//
// cmd は1コマンド分のRESPバイト列、slotLen は乱数化スロット長。
func NewPool(cfg *config.Config, rec *metrics.Recorder, cmd []byte, slotLen int) *Pool {
	return &Pool{
		cfg:     cfg,
		rec:     rec,
		cmd:     cmd,
		slotLen: slotLen,
		out:     os.Stdout,
		clients: make(map[*Client]struct{}),
		fatalFn: func(error) { os.Exit(1) },
	}
}

// SetEventBus はイベントバスを設定する
func (p *Pool) SetEventBus(bus *events.Bus) {
	p.bus = bus
}

// SetOutput はサーバエラー表示の出力先を設定する
func (p *Pool) SetOutput(out io.Writer) {
	p.out = out
}

// SetFatalFunc は致命的エラー時の動作を差し替える（テスト用）
func (p *Pool) SetFatalFunc(fn func(error)) {
	p.fatalFn = fn
}

// Start は最初のクライアントを作り、設定数まで補充する
func (p *Pool) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	first, err := p.build(nil)
	if err != nil {
		return err
	}
	p.launch(first)

	if err := p.createMissing(first); err != nil {
		return err
	}
	logger.Debugf("pool ramped to %d connections", p.live.Load())
	return nil
}

// build はテンプレートまたは既存クライアントの複製から1体を構築する
//
// from が nil ならテンプレートから組み立て、センチネルを走査して
// スロットを採取する。複製の場合は本文とスロットを写すだけで再走査しない。
func (p *Pool) build(from *Client) (*Client, error) {
	network, address := p.cfg.Addr()
	conn, err := Dial(network, address)
	if err != nil {
		return nil, err
	}

	c := &Client{
		pool:      p,
		conn:      conn,
		latencyUS: -1,
		slotLen:   p.slotLen,
	}

	// DB選択が要る場合はSELECTを同じバッファの先頭に埋め込む
	// 初回書き込みで一緒に送られ、応答受信後にその場で破棄される
	var obuf []byte
	if p.cfg.DBNum != 0 {
		obuf = resp.AppendCommand(obuf, "SELECT", strconv.Itoa(p.cfg.DBNum))
		c.prefixPending = 1
	}
	c.prefixLen = len(obuf)

	if from != nil {
		obuf = append(obuf, from.obuf[from.prefixLen:]...)
	} else {
		for i := 0; i < p.cfg.Pipeline; i++ {
			obuf = append(obuf, p.cmd...)
		}
	}
	c.obuf = obuf
	c.pending = p.cfg.Pipeline + c.prefixPending

	if p.cfg.RandomKeys {
		if from != nil {
			// オフセットの付け替えのみ。複製は再走査しない
			c.slots = make([]int, len(from.slots))
			for i, off := range from.slots {
				c.slots[i] = off - from.prefixLen + c.prefixLen
			}
		} else {
			c.slots = scanSlots(c.obuf, p.cfg.KeyPrefix, p.slotLen)
			logger.Debugf("template buffer: %d bytes, %d randomization slots", len(c.obuf), len(c.slots))
		}
	}

	return c, nil
}

// scanSlots は本文中のセンチネル出現位置を集める
//
// 発見位置から slotLen 先まで飛ばして走査を続けるため、隣接する
// スロットは見つかるが乱数化領域自体は再走査されない。
func scanSlots(buf []byte, sentinel string, slotLen int) []int {
	slots := make([]int, 0, slotsInitialCap)
	if sentinel == "" {
		return slots
	}
	advance := slotLen
	if advance < len(sentinel) {
		advance = len(sentinel)
	}
	for i := 0; i+len(sentinel) <= len(buf); {
		if string(buf[i:i+len(sentinel)]) == sentinel {
			slots = append(slots, i)
			i += advance
			continue
		}
		i++
	}
	return slots
}

// launch はクライアントを登録して走らせる
func (p *Pool) launch(c *Client) {
	p.mu.Lock()
	p.clients[c] = struct{}{}
	p.mu.Unlock()

	p.live.Add(1)
	if p.bus != nil {
		p.bus.Publish(events.NewClientsChangeEvent("", p.live.Load()))
	}

	p.wg.Add(1)
	go c.run()
}

// remove はクライアントを破棄する
func (p *Pool) remove(c *Client) {
	p.mu.Lock()
	_, ok := p.clients[c]
	if ok {
		delete(p.clients, c)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	_ = c.conn.Close()
	p.live.Add(-1)
	if p.bus != nil {
		p.bus.Publish(events.NewClientsChangeEvent("", p.live.Load()))
	}
}

// createMissing は生存数が設定値に戻るまで新しい接続を開く
func (p *Pool) createMissing(from *Client) error {
	n := 0
	for p.live.Load() < int64(p.cfg.NumClients) {
		// 目標到達後は補充しても即座に破棄されるだけなので打ち切る
		if p.stopping() || (!p.cfg.IdleMode && p.rec.Complete()) {
			return nil
		}
		c, err := p.build(from)
		if err != nil {
			return err
		}
		p.launch(c)

		n++
		if n >= backlogBatch {
			time.Sleep(backlogPause)
			n = 0
		}
	}
	return nil
}

// replaceWith はラウンド完了で引退するクライアントをクローンで置き換える
//
// 先に後継を起動してから元を外すので、生存数が設定値を割り込む瞬間がなく
// 監視tickerの全滅検知を誤発火させない。接続失敗は元実装と同じく
// 致命的に扱う。
func (p *Pool) replaceWith(from *Client) {
	if p.stopping() {
		p.remove(from)
		return
	}

	c, err := p.build(from)
	if err != nil {
		p.remove(from)
		fmt.Fprintf(os.Stderr, "%v\n", err)
		p.fatal(err)
		return
	}
	p.launch(c)
	p.remove(from)

	// 再接続の連打はlistenバックログを食い潰すので時々休む
	if p.connects.Add(1)%backlogBatch == 0 {
		time.Sleep(backlogPause)
	}

	// 書き込みエラー等で他が減っていれば設定数まで埋め戻す
	if err := p.createMissing(c); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		p.fatal(err)
	}
}

// Stop は全クライアントを止めて後始末する
func (p *Pool) Stop() {
	if p.stopped.Swap(true) {
		return
	}
	if p.cancel != nil {
		p.cancel()
	}

	// 応答待ちでブロックしているクライアントは接続を閉じて起こす
	p.mu.Lock()
	for c := range p.clients {
		_ = c.conn.Close()
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// Live は生存クライアント数を返す
func (p *Pool) Live() int64 {
	return p.live.Load()
}

func (p *Pool) stopping() bool {
	return p.stopped.Load()
}

// fatal は計測を続行できないエラーでプロセスを止める
func (p *Pool) fatal(err error) {
	if p.stopped.Load() {
		return
	}
	p.fatalFn(err)
}

// reportServerError はサーバエラー応答を毎秒1件まで表示する
func (p *Pool) reportServerError(msg string) {
	if !p.cfg.ShowErrors {
		return
	}
	now := time.Now().Unix()
	last := p.lastErrSec.Load()
	if now != last && p.lastErrSec.CompareAndSwap(last, now) {
		fmt.Fprintf(p.out, "Error from server: %s\n", msg)
	}
}
