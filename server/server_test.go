package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"spectrum-notifier/pkg/notifier"
	"spectrum-notifier/poll"
)

type fakePoller struct {
	checkErr  error
	postErr   error
	postMsg   *notifier.RenderedThread
	running   bool
	postedIDs []string
	checks    int
}

func (f *fakePoller) CheckAll(context.Context) error {
	f.checks++
	return f.checkErr
}

func (f *fakePoller) PostLatest(_ context.Context, id string) (*notifier.RenderedThread, error) {
	f.postedIDs = append(f.postedIDs, id)
	return f.postMsg, f.postErr
}

func (f *fakePoller) Running() bool { return f.running }

func testServer(p *fakePoller) http.Handler {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(p, logger).Routes()
}

func do(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(testServer(&fakePoller{running: true}), http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" || body["cycle_running"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestPollz(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "completed", wantStatus: http.StatusOK},
		{name: "overlapping", err: poll.ErrCycleInProgress, wantStatus: http.StatusConflict},
		{name: "failed", err: errors.New("list subscribers: boom"), wantStatus: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePoller{checkErr: tt.err}
			rec := do(testServer(p), http.MethodPost, "/pollz")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if p.checks != 1 {
				t.Errorf("checks = %d, want 1", p.checks)
			}
		})
	}

	if rec := do(testServer(&fakePoller{}), http.MethodGet, "/pollz"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /pollz status = %d, want 405", rec.Code)
	}
}

func TestPostLatest(t *testing.T) {
	msg := &notifier.RenderedThread{Title: "Alpha 4.0", URL: "https://example.test/thread/alpha"}
	tests := []struct {
		name       string
		msg        *notifier.RenderedThread
		err        error
		wantStatus int
		wantBody   string
	}{
		{name: "posted", msg: msg, wantStatus: http.StatusOK, wantBody: `"title":"Alpha 4.0"`},
		{name: "posted but cursor failed", msg: msg, err: errors.New("advance cursor: db down"), wantStatus: http.StatusOK, wantBody: `"warning"`},
		{name: "unknown", err: fmt.Errorf("subscriber x: %w", poll.ErrUnknownSubscriber), wantStatus: http.StatusNotFound},
		{name: "busy", err: poll.ErrCycleInProgress, wantStatus: http.StatusConflict},
		{name: "no threads", err: poll.ErrNoThreads, wantStatus: http.StatusUnprocessableEntity},
		{name: "no session", err: poll.ErrSessionUnavailable, wantStatus: http.StatusServiceUnavailable},
		{name: "send failed", err: errors.New("send announcement: 403"), wantStatus: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePoller{postMsg: tt.msg, postErr: tt.err}
			rec := do(testServer(p), http.MethodPost, "/subscribers/guild-1/post-latest")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body %s does not contain %s", rec.Body.String(), tt.wantBody)
			}
			if len(p.postedIDs) != 1 || p.postedIDs[0] != "guild-1" {
				t.Errorf("posted ids = %v", p.postedIDs)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := do(testServer(&fakePoller{}), http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
