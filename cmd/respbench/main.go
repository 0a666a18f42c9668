// Package main is the entry point for respbench.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"respbench/internal/api"
	"respbench/internal/bench"
	"respbench/internal/config"
	"respbench/internal/events"
	"respbench/internal/logger"
)

var (
	version = "dev"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("respbench", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	def := config.Default()

	var (
		host        = fs.String("h", def.HostIP, "server hostname")
		port        = fs.Int("p", def.HostPort, "server port")
		socket      = fs.String("s", "", "server socket (overrides host and port)")
		clients     = fs.Int("c", def.NumClients, "number of parallel connections")
		requests    = fs.Int("n", def.Requests, "total number of requests")
		keepalive   = fs.Int("k", 1, "1=keep alive 0=reconnect")
		datasize    = fs.Int("d", def.DataSize, "data size of SET/GET value in bytes")
		pipeline    = fs.Int("P", def.Pipeline, "pipeline <numreq> requests")
		randomKeys  = fs.Int("r", 0, "use random keys, expanding the key by <keyspacelen> bytes")
		quiet       = fs.Bool("q", false, "quiet, just show query/sec values")
		csv         = fs.Bool("csv", false, "output in CSV format")
		loop        = fs.Bool("l", false, "loop, run the tests forever")
		idle        = fs.Bool("I", false, "idle mode, just open N idle connections and wait")
		showErrors  = fs.Bool("e", false, "if server replies with errors, show them on stdout")
		incValue    = fs.Int("v", def.IncValue, "value of INCRBY/HINCRBY")
		maxLatency  = fs.Int64("m", def.MaxLatencyMS, "max latency in milliseconds")
		tests       = fs.String("t", "", "only run the comma separated list of tests")
		dbnum       = fs.Int("dbnum", 0, "SELECT the specified db number")
		keyPrefix   = fs.String("kp", def.KeyPrefix, "key prefix")
		subKeys     = fs.Int("sk", def.SubKeys, "number of sub fields for ZADD/HMSET/HMGET")
		configFile  = fs.String("config", "", "config file path (YAML/JSON)")
		monitorAddr = fs.String("monitor", "", "serve a live monitor on this address")
		showVersion = fs.Bool("version", false, "print version and exit")
	)

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), `Usage: respbench [options] [command args...]

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(fs.Output(), `
Examples:

  Run the benchmark with the default configuration against 127.0.0.1:6379:
    $ respbench

  Use 20 parallel clients, for a total of 100k requests:
    $ respbench -h 192.168.1.1 -p 6379 -n 100000 -c 20

  Fill the server with about 1 million keys only using the SET test:
    $ respbench -t set -n 1000000 -r 4

  Benchmark producing CSV output:
    $ respbench -t ping,set,get -n 100000 -csv

  Benchmark a specific command line:
    $ respbench -r 10000 -n 10000 lpush mylist __rand_int__
`)
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	cfg := config.Default()
	if *configFile != "" {
		fc, err := config.LoadFile(*configFile)
		if err != nil {
			logger.Errorf("config error: %v", err)
			return 1
		}
		fc.Apply(&cfg)
	}

	// 明示的に渡されたフラグだけが設定ファイルの値を上書きする
	appliers := map[string]func(){
		"h":       func() { cfg.HostIP = *host },
		"p":       func() { cfg.HostPort = *port },
		"s":       func() { cfg.HostSocket = *socket },
		"c":       func() { cfg.NumClients = *clients },
		"n":       func() { cfg.Requests = *requests },
		"k":       func() { cfg.Keepalive = *keepalive != 0 },
		"d":       func() { cfg.DataSize = *datasize },
		"P":       func() { cfg.Pipeline = *pipeline },
		"r":       func() { cfg.RandomKeys = true; cfg.KeyspaceLen = *randomKeys },
		"q":       func() { cfg.Quiet = *quiet },
		"csv":     func() { cfg.CSV = *csv },
		"l":       func() { cfg.Loop = *loop },
		"I":       func() { cfg.IdleMode = *idle },
		"e":       func() { cfg.ShowErrors = *showErrors },
		"v":       func() { cfg.IncValue = *incValue },
		"m":       func() { cfg.MaxLatencyMS = *maxLatency },
		"t":       func() { cfg.Tests = *tests },
		"dbnum":   func() { cfg.DBNum = *dbnum },
		"kp":      func() { cfg.KeyPrefix = *keyPrefix },
		"sk":      func() { cfg.SubKeys = *subKeys },
		"monitor": func() { cfg.MonitorAddr = *monitorAddr },
	}
	fs.Visit(func(f *flag.Flag) {
		if apply, ok := appliers[f.Name]; ok {
			apply()
		}
	})

	if *showVersion {
		fmt.Printf("respbench version %s\n", version)
		return 0
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid option: %v\n\n", err)
		fs.Usage()
		return 1
	}

	if os.Getenv("RESPBENCH_DEBUG") != "" {
		logger.Default.SetVerbose(true)
	}

	// 相手が接続を切った時はシグナルではなくEPIPEとして観測したい
	signal.Ignore(syscall.SIGHUP, syscall.SIGPIPE)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := bench.New(&cfg)

	if cfg.MonitorAddr != "" {
		bus := events.NewBus()
		runner.SetEventBus(bus)
		srv := api.NewServer(cfg.MonitorAddr, bus)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Errorf("monitor server error: %v", err)
			}
		}()
	}

	if !cfg.Keepalive {
		fmt.Println("WARNING: keepalive disabled, you probably need " +
			"'echo 1 > /proc/sys/net/ipv4/tcp_tw_reuse' for Linux " +
			"and 'sudo sysctl -w net.inet.tcp.msl=1000' for Mac OS X " +
			"in order to use a lot of clients/requests")
	}

	var err error
	switch {
	case cfg.IdleMode:
		err = runner.RunIdle(ctx)
	case fs.NArg() > 0:
		err = runner.RunCommand(ctx, fs.Args())
	default:
		err = runner.RunSuite(ctx)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return 0
}
