package bench

import (
	"strconv"
	"strings"

	"respbench/internal/config"
	"respbench/internal/resp"
)

// Template は1ワークロード分のコマンド雛形
//
// Cmd はRESPエンコード済みの1コマンド。クライアント構築時に
// pipeline回だけ出力バッファへ複写される。SlotLen は乱数化スロット長。
type Template struct {
	Title   string
	Cmd     []byte
	SlotLen int
}

// packKey は乱数化対象のキーを組み立て、スロット長を返す
//
// --kp でセンチネルが差し替えられている場合はそれ自体をキーにする。
// -r 指定時は keyspacelen 個の 'z' を後置し、スロットはセンチネル領域と
// 'z' 領域の両方にまたがる。
func packKey(cfg *config.Config, literal string) (key string, slotLen int) {
	if cfg.KeyPrefix != config.DefaultKeyPrefix {
		key = cfg.KeyPrefix
		slotLen = len(cfg.KeyPrefix)
	} else {
		key = literal
		slotLen = len(config.DefaultKeyPrefix)
	}
	if cfg.KeyspaceLen > 0 {
		key += strings.Repeat("z", cfg.KeyspaceLen)
		slotLen += cfg.KeyspaceLen
	}
	return key, slotLen
}

// literalTemplate はpackKeyを通さないワークロードの雛形を作る
//
// センチネルは文字列に埋まっているものがそのまま使われ、
// スロット長はセンチネル長に等しい。
func literalTemplate(cfg *config.Config, title string, args ...string) Template {
	return Template{
		Title:   title,
		Cmd:     resp.FormatCommand(args...),
		SlotLen: len(cfg.KeyPrefix),
	}
}

func packedTemplate(cfg *config.Config, title, literal string, build func(key string) []string) Template {
	key, slotLen := packKey(cfg, literal)
	return Template{
		Title:   title,
		Cmd:     resp.FormatCommand(build(key)...),
		SlotLen: slotLen,
	}
}

// PingInline はRESPを介さない生のPINGを返す
func PingInline() Template {
	return Template{Title: "PING_INLINE", Cmd: []byte("PING\r\n")}
}

// CommandTemplate は任意のコマンド行から雛形を作る
func CommandTemplate(cfg *config.Config, args []string) Template {
	return literalTemplate(cfg, strings.Join(args, " "), args...)
}

// Suite は選択されたワークロードの雛形を元実装と同じ順序で返す
func Suite(cfg *config.Config) []Template {
	payload := strings.Repeat("x", cfg.DataSize)
	incv := strconv.Itoa(cfg.IncValue)

	var out []Template
	add := func(t Template) { out = append(out, t) }

	if cfg.TestSelected("ping_inline") || cfg.TestSelected("ping") {
		add(PingInline())
	}
	if cfg.TestSelected("ping_mbulk") || cfg.TestSelected("ping") {
		add(literalTemplate(cfg, "PING_BULK", "PING"))
	}
	if cfg.TestSelected("set") {
		add(packedTemplate(cfg, "SET", "key:__rand_int__", func(key string) []string {
			return []string{"SET", key, payload}
		}))
	}
	if cfg.TestSelected("get") {
		add(literalTemplate(cfg, "GET", "GET", "key:__rand_int__"))
	}
	if cfg.TestSelected("incr") {
		add(packedTemplate(cfg, "INCR", "counter:__rand_int__", func(key string) []string {
			return []string{"INCR", key}
		}))
	}
	// DECRは元実装同様、明示選択時のみ
	if cfg.Tests != "" && cfg.TestSelected("decr") {
		add(packedTemplate(cfg, "DECR", "counter:__rand_int__", func(key string) []string {
			return []string{"DECR", key}
		}))
	}
	if cfg.TestSelected("incrby") {
		add(packedTemplate(cfg, "INCRBY", "counter:__rand_int__", func(key string) []string {
			return []string{"INCRBY", key, incv}
		}))
	}
	if cfg.TestSelected("lpush") {
		add(literalTemplate(cfg, "LPUSH", "LPUSH", "mylist", payload))
	}
	if cfg.TestSelected("rpush") {
		add(literalTemplate(cfg, "RPUSH", "RPUSH", "mylist", payload))
	}
	if cfg.TestSelected("lpop") {
		add(literalTemplate(cfg, "LPOP", "LPOP", "mylist"))
	}
	if cfg.TestSelected("rpop") {
		add(literalTemplate(cfg, "RPOP", "RPOP", "mylist"))
	}
	if cfg.TestSelected("sadd") {
		add(literalTemplate(cfg, "SADD", "SADD", "myset", "element:__rand_int__"))
	}
	if cfg.TestSelected("zadd") {
		add(packedTemplate(cfg, "ZADD", "myzset:__rand_int__", func(key string) []string {
			args := []string{"ZADD", key}
			for i := 0; i < cfg.SubKeys; i++ {
				args = append(args, strconv.Itoa(i), "element:__rand_field__"+strconv.Itoa(i))
			}
			return args
		}))
	}
	if cfg.TestSelected("zrange") {
		add(packedTemplate(cfg, "ZRANGE", "myzset:__rand_int__", func(key string) []string {
			return []string{"ZRANGE", key, "0", "-1", "withscores"}
		}))
	}
	if cfg.TestSelected("zrangebyscore") {
		add(packedTemplate(cfg, "ZRANGEBYSCORE", "myzset:__rand_int__", func(key string) []string {
			return []string{"ZRANGEBYSCORE", key, "-inf", "+inf", "withscores", "limit", "0", incv}
		}))
	}
	if cfg.TestSelected("zrank") {
		add(packedTemplate(cfg, "ZRANK", "myzset:__rand_int__", func(key string) []string {
			return []string{"ZRANK", key, "element:__rand_field__0"}
		}))
	}
	if cfg.TestSelected("hset") {
		add(packedTemplate(cfg, "HSET", "myset:__rand_int__", func(key string) []string {
			return []string{"HSET", key, "element:__rand_field__", payload}
		}))
	}
	if cfg.TestSelected("hget") {
		add(packedTemplate(cfg, "HGET", "myset:__rand_int__", func(key string) []string {
			return []string{"HGET", key, "element:__rand_field__"}
		}))
	}
	if cfg.TestSelected("hmset") {
		add(packedTemplate(cfg, "HMSET", "myset:__rand_int__", func(key string) []string {
			args := []string{"HMSET", key}
			for i := 0; i < cfg.SubKeys; i++ {
				args = append(args, "element:__rand_field__"+strconv.Itoa(i), payload)
			}
			return args
		}))
	}
	if cfg.TestSelected("hmget") {
		add(packedTemplate(cfg, "HMGET", "myset:__rand_int__", func(key string) []string {
			args := []string{"HMGET", key}
			for i := 0; i < cfg.SubKeys; i++ {
				args = append(args, "element:__rand_field__"+strconv.Itoa(i))
			}
			return args
		}))
	}
	if cfg.TestSelected("hkeys") {
		add(packedTemplate(cfg, "HKEYS", "myset:__rand_int__", func(key string) []string {
			return []string{"HKEYS", key}
		}))
	}
	if cfg.TestSelected("hincrby") {
		add(packedTemplate(cfg, "HINCRBY", "myset:__rand_int__", func(key string) []string {
			return []string{"HINCRBY", key, "element:__rand_field__", incv}
		}))
	}
	if cfg.TestSelected("spop") {
		add(literalTemplate(cfg, "SPOP", "SPOP", "myset"))
	}

	anyLRange := cfg.TestSelected("lrange") ||
		cfg.TestSelected("lrange_100") || cfg.TestSelected("lrange_300") ||
		cfg.TestSelected("lrange_500") || cfg.TestSelected("lrange_600")
	if anyLRange {
		add(literalTemplate(cfg, "LPUSH (needed to benchmark LRANGE)", "LPUSH", "mylist", payload))
	}
	if cfg.TestSelected("lrange") || cfg.TestSelected("lrange_100") {
		add(literalTemplate(cfg, "LRANGE_100 (first 100 elements)", "LRANGE", "mylist", "0", "99"))
	}
	if cfg.TestSelected("lrange") || cfg.TestSelected("lrange_300") {
		add(literalTemplate(cfg, "LRANGE_300 (first 300 elements)", "LRANGE", "mylist", "0", "299"))
	}
	if cfg.TestSelected("lrange") || cfg.TestSelected("lrange_500") {
		add(literalTemplate(cfg, "LRANGE_500 (first 450 elements)", "LRANGE", "mylist", "0", "449"))
	}
	if cfg.TestSelected("lrange") || cfg.TestSelected("lrange_600") {
		add(literalTemplate(cfg, "LRANGE_600 (first 600 elements)", "LRANGE", "mylist", "0", "599"))
	}
	if cfg.TestSelected("mset") {
		args := []string{"MSET"}
		for i := 0; i < 10; i++ {
			args = append(args, "key:__rand_int__", payload)
		}
		add(literalTemplate(cfg, "MSET (10 keys)", args...))
	}

	return out
}
