// Package api exposes a live monitor for a benchmark run: JSON status
// endpoints, a websocket stream of progress events and a Prometheus metrics
// endpoint.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"respbench/internal/events"
	"respbench/internal/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"
)

var (
	promFinished = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "respbench_requests_finished",
		Help: "Replies recorded in the current run",
	})
	promIssued = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "respbench_rounds_issued",
		Help: "Rounds issued in the current run",
	})
	promRPS = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "respbench_requests_per_second",
		Help: "Wall-clock throughput of the current run",
	})
	promLiveClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "respbench_live_clients",
		Help: "Live client connections",
	})
	promRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "respbench_runs_completed_total",
		Help: "Workload runs completed",
	})
)

func init() {
	prometheus.MustRegister(promFinished, promIssued, promRPS, promLiveClients, promRunsTotal)
}

// Status は現在の実行状態
type Status struct {
	Running     bool    `json:"running"`
	Title       string  `json:"title,omitempty"`
	Finished    int64   `json:"finished"`
	Issued      int64   `json:"issued"`
	RPS         float64 `json:"rps"`
	LiveClients int64   `json:"live_clients"`
}

// Server はモニタAPIサーバ
type Server struct {
	addr string
	bus  *events.Bus

	mu        sync.RWMutex
	status    Status
	wsClients map[*websocket.Conn]bool

	server *http.Server
}

// NewServer は新しいモニタサーバを作成する
func NewServer(addr string, bus *events.Bus) *Server {
	return &Server{
		addr:      addr,
		bus:       bus,
		wsClients: make(map[*websocket.Conn]bool),
	}
}

// Start はサーバを開始する
//
// ctx が閉じられるまでブロックする。ベンチマーク本体を止めないよう、
// 呼び出し側はゴルーチンで起動する。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.Handle("/ws", websocket.Handler(s.handleWebSocket))
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	// バックグラウンドでイベントを集約・配信
	go s.consumeLoop(ctx)

	logger.Printf("monitor listening on http://%s", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// consumeLoop はイベントバスから状態を組み立ててwsへ流す
func (s *Server) consumeLoop(ctx context.Context) {
	sub := s.bus.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			s.apply(ev)
			s.broadcast(ev)
		}
	}
}

func (s *Server) apply(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Type {
	case events.EventRunStart:
		s.status = Status{Running: true, Title: ev.Title}
		promFinished.Set(0)
		promIssued.Set(0)
		promRPS.Set(0)
	case events.EventProgress:
		s.status.Running = true
		s.status.Finished = ev.Data.Finished
		s.status.Issued = ev.Data.Issued
		s.status.RPS = ev.Data.RPS
		s.status.LiveClients = ev.Data.LiveClients
		promFinished.Set(float64(ev.Data.Finished))
		promIssued.Set(float64(ev.Data.Issued))
		promRPS.Set(ev.Data.RPS)
		promLiveClients.Set(float64(ev.Data.LiveClients))
	case events.EventClientsChange:
		s.status.LiveClients = ev.Data.LiveClients
		promLiveClients.Set(float64(ev.Data.LiveClients))
	case events.EventRunComplete:
		s.status.Running = false
		s.status.Finished = ev.Data.Finished
		s.status.RPS = ev.Data.RPS
		promFinished.Set(float64(ev.Data.Finished))
		promRPS.Set(ev.Data.RPS)
		promRunsTotal.Inc()
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	status := s.status
	s.mu.RUnlock()

	s.writeJSON(w, status)
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// Keep connection alive
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

func (s *Server) broadcast(ev events.Event) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	jsonData, err := json.Marshal(ev)
	if err != nil {
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("failed to encode monitor JSON: %v", err)
	}
}
