package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"respbench/internal/events"
)

func TestApplyProgress(t *testing.T) {
	s := NewServer(":0", events.NewBus())

	s.apply(events.NewRunStartEvent("SET"))
	s.apply(events.NewProgressEvent("SET", 100, 120, 5000, 50))

	s.mu.RLock()
	st := s.status
	s.mu.RUnlock()

	if !st.Running || st.Title != "SET" {
		t.Errorf("status = %+v", st)
	}
	if st.Finished != 100 || st.Issued != 120 || st.RPS != 5000 || st.LiveClients != 50 {
		t.Errorf("status = %+v", st)
	}
}

func TestApplyRunComplete(t *testing.T) {
	s := NewServer(":0", events.NewBus())

	s.apply(events.NewRunStartEvent("GET"))
	s.apply(events.NewRunCompleteEvent("GET", 1000, 8000, time.Second))

	s.mu.RLock()
	st := s.status
	s.mu.RUnlock()

	if st.Running {
		t.Error("run should not be running after completion")
	}
	if st.Finished != 1000 || st.RPS != 8000 {
		t.Errorf("status = %+v", st)
	}
}

func TestHandleStatus(t *testing.T) {
	s := NewServer(":0", events.NewBus())
	s.apply(events.NewRunStartEvent("PING_INLINE"))

	req := httptest.NewRequest("GET", "/api/status", nil)
	w := httptest.NewRecorder()
	s.handleStatus(w, req)

	if w.Code != 200 {
		t.Fatalf("status code = %d", w.Code)
	}
	var st Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if !st.Running || st.Title != "PING_INLINE" {
		t.Errorf("status = %+v", st)
	}
}

func TestHandleStatusMethodNotAllowed(t *testing.T) {
	s := NewServer(":0", events.NewBus())

	req := httptest.NewRequest("POST", "/api/status", nil)
	w := httptest.NewRecorder()
	s.handleStatus(w, req)

	if w.Code != 405 {
		t.Errorf("status code = %d, want 405", w.Code)
	}
}
