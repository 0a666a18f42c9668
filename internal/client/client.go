package client

import (
	"errors"
	"math/rand"
	"syscall"
	"time"

	"respbench/internal/logger"
)

// randAlphabet は乱数化スロットに書き込む文字集合（70文字）
const randAlphabet = "0123456789!@#$%^&*ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const slotsInitialCap = 8

// Client は1本のConnection上のラウンド状態機械
//
// 出力バッファは [SELECTプレフィクス][本文×pipeline] のレイアウトで
// 構築後に再確保されない。乱数化スロットはバッファ先頭からのオフセットで
// 保持し、プレフィクス破棄時に -prefixLen だけ付け替える。
type Client struct {
	pool *Pool
	conn *Connection

	obuf          []byte
	prefixLen     int // プレフィクス区間のバイト数（破棄後は0）
	prefixPending int // プレフィクスコマンドの未消費応答数

	written int // 今ラウンドで送信済みの本文バイト数
	pending int // 今ラウンドの未消費応答数

	startUS   int64
	latencyUS int64 // 負値は「未計測」

	slots   []int // 乱数化スロットのオフセット列
	slotLen int   // スロット長L
}

func nowUS() int64 {
	return time.Now().UnixMicro()
}

// run はクライアントの全ラウンドを実行する
func (c *Client) run() {
	defer c.pool.wg.Done()

	if c.pool.cfg.IdleMode {
		// アイドルモード: 接続を開いたまま何も書かない
		<-c.pool.ctx.Done()
		c.dispose()
		return
	}

	for {
		if c.writeRound() {
			return
		}
		if c.readRound() {
			return
		}

		// ラウンド終端
		if c.pool.rec.Complete() {
			c.dispose()
			return
		}
		if c.pool.cfg.Keepalive {
			c.reset()
			continue
		}
		// 再接続モード: 生存数を保ったまま自身をクローンで置き換える
		c.pool.replaceWith(c)
		return
	}
}

// writeRound は本文一式を送信する
//
// 破棄まで進んだ場合に true を返す。
func (c *Client) writeRound() (disposed bool) {
	if c.written == 0 {
		// ラウンド初期化。発行上限に達していればこのクライアントの仕事はない
		if !c.pool.rec.IssueRound() {
			c.dispose()
			return true
		}
		if c.pool.cfg.RandomKeys {
			c.randomize()
		}
		c.startUS = nowUS()
		c.latencyUS = -1
	}

	for c.written < len(c.obuf) {
		n, err := c.conn.Write(c.obuf[c.written:])
		c.written += n
		if err != nil {
			if !errors.Is(err, syscall.EPIPE) && !c.pool.stopping() {
				logger.Errorf("writing to socket: %v", err)
			}
			c.dispose()
			return true
		}
	}

	c.conn.BeginRound()
	return false
}

// readRound は pending 件の応答を消費する
//
// 破棄まで進んだ場合に true を返す。
func (c *Client) readRound() (disposed bool) {
	for c.pending > 0 {
		reply, err := c.conn.ReadReply()
		if err != nil {
			if c.pool.stopping() {
				c.dispose()
				return true
			}
			// 読み取り・フレーミングエラーは計測結果を信頼できないため致命的
			logger.Errorf("reading from socket: %v", err)
			c.dispose()
			c.pool.fatal(err)
			return true
		}

		// レイテンシはラウンド初回の読み取りでのみ確定する
		if c.latencyUS < 0 {
			c.latencyUS = c.conn.FirstReadUS() - c.startUS
		}

		if reply.IsError() {
			c.pool.reportServerError(reply.Str)
		}

		if c.prefixPending > 0 {
			// SELECT等のプレフィクス応答。初回応答でバッファから切り落とす
			c.prefixPending--
			c.pending--
			if c.prefixLen > 0 {
				c.obuf = c.obuf[c.prefixLen:]
				for i := range c.slots {
					c.slots[i] -= c.prefixLen
				}
				c.prefixLen = 0
			}
			continue
		}

		c.pool.rec.RecordReply(c.latencyUS)
		c.pending--
	}
	return false
}

// reset はキープアライブ時にクライアントをその場で再武装する
func (c *Client) reset() {
	c.written = 0
	c.pending = c.pool.cfg.Pipeline
}

// randomize は全スロットをアルファベットからの乱数バイトで上書きする
func (c *Client) randomize() {
	for _, off := range c.slots {
		b := c.obuf[off : off+c.slotLen]
		for i := range b {
			b[i] = randAlphabet[rand.Intn(len(randAlphabet))]
		}
	}
}

// dispose は読み書き両方向を止めて接続とバッファを手放す
func (c *Client) dispose() {
	c.pool.remove(c)
}
