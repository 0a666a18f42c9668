package client

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"respbench/internal/config"
	"respbench/internal/metrics"
	"respbench/internal/resp"
	"respbench/internal/respserver"
)

func testConfig(addr string) *config.Config {
	cfg := config.Default()
	host, port, _ := strings.Cut(addr, ":")
	cfg.HostIP = host
	cfg.HostPort, _ = strconv.Atoi(port)
	cfg.NumClients = 1
	cfg.Requests = 10
	return &cfg
}

func TestScanSlots(t *testing.T) {
	sentinel := config.DefaultKeyPrefix
	buf := []byte("GET key:" + sentinel + "\r\nGET key:" + sentinel + "\r\n")

	slots := scanSlots(buf, sentinel, len(sentinel))
	if len(slots) != 2 {
		t.Fatalf("slots = %v, want 2 entries", slots)
	}
	for _, off := range slots {
		if string(buf[off:off+len(sentinel)]) != sentinel {
			t.Errorf("slot at %d does not point at sentinel", off)
		}
	}
}

func TestScanSlotsAdjacent(t *testing.T) {
	sentinel := "__rand_int__"
	// 隣接するスロットも見つかるが、スロット領域内は再走査されない
	buf := []byte(sentinel + sentinel)
	slots := scanSlots(buf, sentinel, len(sentinel))
	if len(slots) != 2 || slots[0] != 0 || slots[1] != len(sentinel) {
		t.Errorf("slots = %v", slots)
	}

	// スロット長がセンチネルより長い場合は後半に掛かった出現を飛ばす
	slots = scanSlots(buf, sentinel, len(sentinel)+6)
	if len(slots) != 1 {
		t.Errorf("slots = %v, want 1 entry", slots)
	}
}

func TestBuildFromTemplate(t *testing.T) {
	srv, err := respserver.Start(respserver.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()

	cfg := testConfig(srv.Addr())
	cfg.Pipeline = 3
	cmd := resp.FormatCommand("GET", "key:__rand_int__")

	rec := metrics.NewRecorder(cfg.Requests)
	p := NewPool(cfg, rec, cmd, len(cfg.KeyPrefix))
	p.ctx, p.cancel = context.WithCancel(context.Background())
	defer p.cancel()

	c, err := p.build(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.conn.Close()

	want := bytes.Repeat(cmd, 3)
	if !bytes.Equal(c.obuf, want) {
		t.Errorf("obuf = %q, want %q", c.obuf, want)
	}
	if c.prefixLen != 0 || c.prefixPending != 0 {
		t.Errorf("prefix = %d/%d, want none", c.prefixLen, c.prefixPending)
	}
	if c.pending != 3 {
		t.Errorf("pending = %d, want 3", c.pending)
	}
	if c.slots != nil {
		t.Error("slots should not be scanned without random keys")
	}
}

func TestBuildWithPrefix(t *testing.T) {
	srv, err := respserver.Start(respserver.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()

	cfg := testConfig(srv.Addr())
	cfg.DBNum = 3
	cfg.RandomKeys = true
	cmd := resp.FormatCommand("GET", "key:__rand_int__")

	rec := metrics.NewRecorder(cfg.Requests)
	p := NewPool(cfg, rec, cmd, len(cfg.KeyPrefix))
	p.ctx, p.cancel = context.WithCancel(context.Background())
	defer p.cancel()

	c, err := p.build(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.conn.Close()

	prefix := resp.FormatCommand("SELECT", "3")
	if c.prefixLen != len(prefix) {
		t.Errorf("prefixLen = %d, want %d", c.prefixLen, len(prefix))
	}
	if c.prefixPending != 1 {
		t.Errorf("prefixPending = %d, want 1", c.prefixPending)
	}
	if !bytes.HasPrefix(c.obuf, prefix) {
		t.Errorf("obuf should start with SELECT prefix: %q", c.obuf)
	}
	if c.pending != cfg.Pipeline+1 {
		t.Errorf("pending = %d, want %d", c.pending, cfg.Pipeline+1)
	}

	// スロットはプレフィクス込みのオフセットでセンチネルを指す
	for _, off := range c.slots {
		got := string(c.obuf[off : off+len(config.DefaultKeyPrefix)])
		if got != config.DefaultKeyPrefix {
			t.Errorf("slot at %d points at %q", off, got)
		}
	}
}

func TestCloneMatchesTemplate(t *testing.T) {
	srv, err := respserver.Start(respserver.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()

	cfg := testConfig(srv.Addr())
	cfg.DBNum = 2
	cfg.RandomKeys = true
	cfg.Pipeline = 2
	cmd := resp.FormatCommand("SET", "key:__rand_int__", "xxx")

	rec := metrics.NewRecorder(cfg.Requests)
	p := NewPool(cfg, rec, cmd, len(cfg.KeyPrefix))
	p.ctx, p.cancel = context.WithCancel(context.Background())
	defer p.cancel()

	orig, err := p.build(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer orig.conn.Close()

	clone, err := p.build(orig)
	if err != nil {
		t.Fatal(err)
	}
	defer clone.conn.Close()

	// プレフィクス長の差を正規化すればバッファはバイト単位で一致する
	if !bytes.Equal(clone.obuf, orig.obuf) {
		t.Errorf("clone buffer differs:\n%q\n%q", clone.obuf, orig.obuf)
	}
	if len(clone.slots) != len(orig.slots) {
		t.Fatalf("slots = %d, want %d", len(clone.slots), len(orig.slots))
	}
	for i := range clone.slots {
		if clone.slots[i] != orig.slots[i] {
			t.Errorf("slot %d = %d, want %d", i, clone.slots[i], orig.slots[i])
		}
	}
}

func TestCloneFromTrimmedSource(t *testing.T) {
	srv, err := respserver.Start(respserver.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()

	cfg := testConfig(srv.Addr())
	cfg.DBNum = 2
	cfg.RandomKeys = true
	cmd := resp.FormatCommand("GET", "key:__rand_int__")

	rec := metrics.NewRecorder(cfg.Requests)
	p := NewPool(cfg, rec, cmd, len(cfg.KeyPrefix))
	p.ctx, p.cancel = context.WithCancel(context.Background())
	defer p.cancel()

	orig, err := p.build(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer orig.conn.Close()

	// プレフィクス応答消費後の状態を再現する
	trimmed := orig.prefixLen
	orig.obuf = orig.obuf[trimmed:]
	for i := range orig.slots {
		orig.slots[i] -= trimmed
	}
	orig.prefixLen = 0
	orig.prefixPending = 0

	clone, err := p.build(orig)
	if err != nil {
		t.Fatal(err)
	}
	defer clone.conn.Close()

	// クローンには新しいプレフィクスが付き直す
	prefix := resp.FormatCommand("SELECT", "2")
	if clone.prefixLen != len(prefix) || clone.prefixPending != 1 {
		t.Errorf("clone prefix = %d/%d", clone.prefixLen, clone.prefixPending)
	}
	for _, off := range clone.slots {
		got := string(clone.obuf[off : off+len(config.DefaultKeyPrefix)])
		if got != config.DefaultKeyPrefix {
			t.Errorf("slot at %d points at %q", off, got)
		}
	}
}

func TestRandomizeOverwritesExactlySlots(t *testing.T) {
	srv, err := respserver.Start(respserver.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()

	cfg := testConfig(srv.Addr())
	cfg.RandomKeys = true
	cfg.Pipeline = 4
	cmd := resp.FormatCommand("GET", "key:__rand_int__")

	rec := metrics.NewRecorder(cfg.Requests)
	p := NewPool(cfg, rec, cmd, len(cfg.KeyPrefix))
	p.ctx, p.cancel = context.WithCancel(context.Background())
	defer p.cancel()

	c, err := p.build(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.conn.Close()

	if len(c.slots) != 4 {
		t.Fatalf("slots = %d, want 4", len(c.slots))
	}

	before := make([]byte, len(c.obuf))
	copy(before, c.obuf)

	c.randomize()

	inSlot := func(i int) bool {
		for _, off := range c.slots {
			if i >= off && i < off+c.slotLen {
				return true
			}
		}
		return false
	}
	for i := range c.obuf {
		if inSlot(i) {
			if !strings.ContainsRune(randAlphabet, rune(c.obuf[i])) {
				t.Fatalf("byte %d not from alphabet: %q", i, c.obuf[i])
			}
		} else if c.obuf[i] != before[i] {
			t.Fatalf("byte %d outside slots was modified", i)
		}
	}
}

func TestPoolRunToCompletion(t *testing.T) {
	srv, err := respserver.Start(respserver.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()

	cfg := testConfig(srv.Addr())
	cfg.NumClients = 2
	cfg.Requests = 50
	cmd := resp.FormatCommand("PING")

	rec := metrics.NewRecorder(cfg.Requests)
	p := NewPool(cfg, rec, cmd, 0)
	p.SetFatalFunc(func(error) { t.Error("fatal should not fire") })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec.Start()
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case <-rec.Done():
	case <-ctx.Done():
		t.Fatal("benchmark did not finish")
	}
	p.Stop()

	if rec.Finished() != 50 {
		t.Errorf("finished = %d, want 50", rec.Finished())
	}
	if got := len(rec.Latencies()); got != 50 {
		t.Errorf("samples = %d, want 50", got)
	}
	if p.Live() != 0 {
		t.Errorf("live = %d after stop", p.Live())
	}
}

func TestFramingErrorIsFatal(t *testing.T) {
	// 不正な型バイトを返すサーバ
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				if _, err := c.Read(buf); err != nil {
					return
				}
				_, _ = c.Write([]byte("?bogus\r\n"))
			}(conn)
		}
	}()

	cfg := testConfig(ln.Addr().String())
	cfg.Requests = 5

	rec := metrics.NewRecorder(cfg.Requests)
	p := NewPool(cfg, rec, resp.FormatCommand("PING"), 0)

	fatalCh := make(chan error, 1)
	p.SetFatalFunc(func(err error) {
		select {
		case fatalCh <- err:
		default:
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fatalCh:
	case <-ctx.Done():
		t.Fatal("expected fatal on framing error")
	}
	p.Stop()
}

func TestServerErrorRateLimited(t *testing.T) {
	srv, err := respserver.Start(respserver.Options{ErrorEvery: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()

	cfg := testConfig(srv.Addr())
	cfg.Requests = 20
	cfg.ShowErrors = true

	rec := metrics.NewRecorder(cfg.Requests)
	p := NewPool(cfg, rec, resp.FormatCommand("PING"), 0)
	out := &bytes.Buffer{}
	p.SetOutput(out)
	p.SetFatalFunc(func(error) { t.Error("fatal should not fire") })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec.Start()
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case <-rec.Done():
	case <-ctx.Done():
		t.Fatal("benchmark did not finish")
	}
	p.Stop()

	// エラー応答もpendingを進めるので完走する
	if rec.Finished() != 20 {
		t.Errorf("finished = %d, want 20", rec.Finished())
	}
	// 表示は毎秒1件まで
	lines := strings.Count(out.String(), "Error from server:")
	if lines < 1 || lines > 2 {
		t.Errorf("error lines = %d, want 1 (rate limited)", lines)
	}
}
