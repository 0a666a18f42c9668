package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultKeyPrefix は乱数化スロットを示す既定のセンチネル文字列
const DefaultKeyPrefix = "__rand_int__"

// Config はベンチマーク全体の設定
//
// オプション解析の間だけ書き換えられ、以降は読み取り専用として
// プールとクライアントに渡される。
type Config struct {
	HostIP     string // 接続先ホスト
	HostPort   int    // 接続先ポート
	HostSocket string // UNIXソケットパス（指定時はhost/portより優先）

	NumClients int  // 並列クライアント数
	Requests   int  // 総リクエスト数
	Keepalive  bool // falseならラウンドごとに再接続
	DataSize   int  // SET系ペイロードのバイト数
	Pipeline   int  // パイプライン段数

	RandomKeys  bool // キー乱数化を有効化
	KeyspaceLen int  // 乱数化領域に追加されるバイト数
	KeyPrefix   string

	Quiet      bool
	CSV        bool
	Loop       bool
	IdleMode   bool
	ShowErrors bool

	IncValue     int   // INCRBY/HINCRBYの増分
	MaxLatencyMS int64 // 外れ値集計のしきい値（ミリ秒）
	SubKeys      int   // ZADD/HMSET/HMGETのサブフィールド数
	DBNum        int   // SELECTするDB番号（0なら送らない）

	Tests string // カンマ区切りのワークロード選択（空なら全て）

	MonitorAddr string // ライブモニタのlistenアドレス（空なら無効）
}

// Default は既定値を返す
func Default() Config {
	return Config{
		HostIP:       "127.0.0.1",
		HostPort:     6379,
		NumClients:   50,
		Requests:     100000,
		Keepalive:    true,
		DataSize:     3,
		Pipeline:     1,
		KeyPrefix:    DefaultKeyPrefix,
		IncValue:     1,
		MaxLatencyMS: 10,
		SubKeys:      10,
	}
}

// Normalize は範囲外の値を元実装と同じ規則で丸める
func (c *Config) Normalize() {
	if c.DataSize < 1 {
		c.DataSize = 1
	}
	if c.DataSize > 1024*1024*1024 {
		c.DataSize = 1024 * 1024 * 1024
	}
	if c.Pipeline < 1 {
		c.Pipeline = 1
	}
	if c.KeyspaceLen < 0 {
		c.KeyspaceLen = 0
	}
	if c.SubKeys < 1 {
		c.SubKeys = 10
	}
}

// Validate は設定を検証する
func (c *Config) Validate() error {
	if c.KeyPrefix == "" {
		return fmt.Errorf("key prefix must not be empty")
	}
	if c.NumClients < 1 {
		return fmt.Errorf("clients must be at least 1")
	}
	if c.Requests < 0 {
		return fmt.Errorf("requests must be non-negative")
	}
	return nil
}

// Addr は接続先を (network, address) の組で返す
func (c *Config) Addr() (network, address string) {
	if c.HostSocket != "" {
		return "unix", c.HostSocket
	}
	return "tcp", fmt.Sprintf("%s:%d", c.HostIP, c.HostPort)
}

// TestSelected は -t で指定されたワークロードかどうかを返す
//
// 選択リストが空の場合は全ワークロードが選択されたとみなす。
func (c *Config) TestSelected(name string) bool {
	if c.Tests == "" {
		return true
	}
	list := "," + strings.ToLower(c.Tests) + ","
	return strings.Contains(list, ","+strings.ToLower(name)+",")
}

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Host        string   `yaml:"host" json:"host"`
	Port        int      `yaml:"port" json:"port"`
	Socket      string   `yaml:"socket" json:"socket"`
	Clients     int      `yaml:"clients" json:"clients"`
	Requests    int      `yaml:"requests" json:"requests"`
	Keepalive   *bool    `yaml:"keepalive" json:"keepalive"`
	DataSize    int      `yaml:"data_size" json:"data_size"`
	Pipeline    int      `yaml:"pipeline" json:"pipeline"`
	RandomKeys  *int     `yaml:"random_keys" json:"random_keys"`
	KeyPrefix   string   `yaml:"key_prefix" json:"key_prefix"`
	Quiet       *bool    `yaml:"quiet" json:"quiet"`
	CSV         *bool    `yaml:"csv" json:"csv"`
	Loop        *bool    `yaml:"loop" json:"loop"`
	Idle        *bool    `yaml:"idle" json:"idle"`
	ShowErrors  *bool    `yaml:"show_errors" json:"show_errors"`
	IncValue    int      `yaml:"inc_value" json:"inc_value"`
	MaxLatency  int64    `yaml:"max_latency_ms" json:"max_latency_ms"`
	SubKeys     int      `yaml:"sub_keys" json:"sub_keys"`
	DBNum       int      `yaml:"db_num" json:"db_num"`
	Tests       []string `yaml:"tests" json:"tests"`
	MonitorAddr string   `yaml:"monitor_addr" json:"monitor_addr"`
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &fc, nil
}

// Apply はファイルの値を設定に反映する
//
// ゼロ値（ポインタ型はnil）のフィールドは既存値を保持する。
// フラグによる上書きは呼び出し側（cmd）が行う。
func (fc *FileConfig) Apply(c *Config) {
	if fc.Host != "" {
		c.HostIP = fc.Host
	}
	if fc.Port > 0 {
		c.HostPort = fc.Port
	}
	if fc.Socket != "" {
		c.HostSocket = fc.Socket
	}
	if fc.Clients > 0 {
		c.NumClients = fc.Clients
	}
	if fc.Requests > 0 {
		c.Requests = fc.Requests
	}
	if fc.Keepalive != nil {
		c.Keepalive = *fc.Keepalive
	}
	if fc.DataSize > 0 {
		c.DataSize = fc.DataSize
	}
	if fc.Pipeline > 0 {
		c.Pipeline = fc.Pipeline
	}
	if fc.RandomKeys != nil {
		c.RandomKeys = true
		c.KeyspaceLen = *fc.RandomKeys
	}
	if fc.KeyPrefix != "" {
		c.KeyPrefix = fc.KeyPrefix
	}
	if fc.Quiet != nil {
		c.Quiet = *fc.Quiet
	}
	if fc.CSV != nil {
		c.CSV = *fc.CSV
	}
	if fc.Loop != nil {
		c.Loop = *fc.Loop
	}
	if fc.Idle != nil {
		c.IdleMode = *fc.Idle
	}
	if fc.ShowErrors != nil {
		c.ShowErrors = *fc.ShowErrors
	}
	if fc.IncValue != 0 {
		c.IncValue = fc.IncValue
	}
	if fc.MaxLatency > 0 {
		c.MaxLatencyMS = fc.MaxLatency
	}
	if fc.SubKeys > 0 {
		c.SubKeys = fc.SubKeys
	}
	if fc.DBNum > 0 {
		c.DBNum = fc.DBNum
	}
	if len(fc.Tests) > 0 {
		c.Tests = strings.Join(fc.Tests, ",")
	}
	if fc.MonitorAddr != "" {
		c.MonitorAddr = fc.MonitorAddr
	}
}
