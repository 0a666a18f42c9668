package client

import (
	"fmt"
	"net"
	"time"

	"respbench/internal/resp"
)

const dialTimeout = 5 * time.Second

// Connection は1本のソケットと逐次応答リーダを所有する
type Connection struct {
	nc     net.Conn
	reader *resp.Reader

	// ラウンド初回読み取りの時刻ラッチ
	// 同一ゴルーチンからのみ触るため同期は不要
	armed       bool
	firstReadNS int64
}

// Dial は接続を開いて応答リーダを準備する
func Dial(network, address string) (*Connection, error) {
	nc, err := net.DialTimeout(network, address, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", address, err)
	}
	c := &Connection{nc: nc}
	c.reader = resp.NewReader(c)
	return c, nil
}

// Read は下層ソケットから読み取り、ラウンド初回の読み取り時刻を記録する
//
// resp.Reader のバッファ越しに呼ばれるため、ここで取った時刻には
// パース時間が含まれない。
func (c *Connection) Read(p []byte) (int, error) {
	n, err := c.nc.Read(p)
	if n > 0 && c.armed {
		c.firstReadNS = time.Now().UnixNano()
		c.armed = false
	}
	return n, err
}

// Write はバッファをソケットに書き込む
func (c *Connection) Write(p []byte) (int, error) {
	return c.nc.Write(p)
}

// BeginRound は次の読み取りを「ラウンド初回」として武装する
func (c *Connection) BeginRound() {
	c.armed = true
	c.firstReadNS = 0
}

// FirstReadUS はラウンド初回読み取りの時刻（マイクロ秒）を返す
func (c *Connection) FirstReadUS() int64 {
	return c.firstReadNS / 1000
}

// ReadReply は完全な応答を1つ読み取る
func (c *Connection) ReadReply() (*resp.Reply, error) {
	return c.reader.ReadReply()
}

// Close はソケットを閉じる
func (c *Connection) Close() error {
	return c.nc.Close()
}
