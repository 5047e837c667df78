package spectrum

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"spectrum-notifier/session"
)

type fixedSessions struct {
	sess  *session.Session
	calls atomic.Int32
}

func (f *fixedSessions) Acquire(_ context.Context, forumID string) *session.Session {
	f.calls.Add(1)
	if f.sess == nil {
		return nil
	}
	s := *f.sess
	s.ForumID = forumID
	return &s
}

func testSession() *session.Session {
	return &session.Session{
		Credentials: session.Credentials{Token: "tok", Mark: "mark", ExpiresAt: time.Now().Add(time.Hour)},
		Referer:     "https://example.test/spectrum/community/SC/forum/1",
		Cookie:      "Rsi-Token=tok",
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(srv *httptest.Server, sessions SessionSource) *Client {
	c := New(srv.Client(), sessions, srv.URL, testLogger())
	c.delay = time.Millisecond
	return c
}

func TestListThreads(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != threadsPath {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("x-rsi-token") != "tok" || r.Header.Get("x-tavern-id") != "mark" {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		if r.Header.Get("Cookie") != "Rsi-Token=tok" {
			t.Errorf("cookie = %q", r.Header.Get("Cookie"))
		}
		if r.Header.Get("Referer") == "" {
			t.Error("missing referer")
		}
		b, _ := io.ReadAll(r.Body) //nolint:errcheck // test
		_ = json.Unmarshal(b, &gotBody) //nolint:errcheck // test
		_, _ = w.Write([]byte(`{"success":1,"code":"OK","data":{"threads":[
			{"id":"101","slug":"patch-notes","subject":"Patch Notes","time_created":1700000000},
			{"id":123456789012345678901234,"slug":"big","subject":"Big"},
			{"thread_id":"abc","slug":"opaque"},
			{"slug":"no-id"}
		]}}`)) //nolint:errcheck // test
	}))
	defer srv.Close()

	c := newTestClient(srv, &fixedSessions{sess: testSession()})
	threads, sess := c.ListThreads(context.Background(), "1")
	if sess == nil {
		t.Fatal("session should be returned")
	}
	if gotBody["channel_id"] != "1" || gotBody["sort"] != "newest" {
		t.Errorf("request body = %v", gotBody)
	}
	if len(threads) != 4 {
		t.Fatalf("got %d threads, want 4", len(threads))
	}
	if threads[0].ID.String() != "101" || threads[0].Slug != "patch-notes" || threads[0].Subject != "Patch Notes" {
		t.Errorf("thread[0] = %+v", threads[0])
	}
	if threads[0].CreatedAt.Unix() != 1700000000 {
		t.Errorf("created = %v", threads[0].CreatedAt)
	}
	if threads[1].ID.String() != "123456789012345678901234" || threads[1].ID.Numeric() == nil {
		t.Errorf("large numeric id lost precision: %q", threads[1].ID)
	}
	if threads[2].ID.String() != "abc" {
		t.Errorf("thread_id rule not applied: %q", threads[2].ID)
	}
	if threads[3].ID != nil {
		t.Errorf("thread without id should have nil ID, got %q", threads[3].ID)
	}
}

func TestListThreadsWithoutSession(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := newTestClient(srv, &fixedSessions{})
	threads, sess := c.ListThreads(context.Background(), "1")
	if threads != nil || sess != nil {
		t.Errorf("ListThreads = %v, %v; want nil, nil", threads, sess)
	}
	if hits.Load() != 0 {
		t.Errorf("no request should be made without a session, got %d", hits.Load())
	}

	if d := c.ThreadDetail(context.Background(), nil, "slug"); d != nil {
		t.Errorf("ThreadDetail(nil session) = %+v, want nil", d)
	}
	if hits.Load() != 0 {
		t.Errorf("no detail request should be made without a session, got %d", hits.Load())
	}
}

func TestListThreadsUnavailable(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantHits int32
	}{
		{name: "success flag false", status: http.StatusOK, body: `{"success":0,"code":"ErrNoChannel","msg":"nope"}`, wantHits: 1},
		{name: "unparsable body", status: http.StatusOK, body: `<html>maintenance</html>`, wantHits: 1},
		{name: "not found is not retried", status: http.StatusNotFound, body: `{}`, wantHits: 1},
		{name: "server error is retried", status: http.StatusBadGateway, body: ``, wantHits: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body)) //nolint:errcheck // test
			}))
			defer srv.Close()

			c := newTestClient(srv, &fixedSessions{sess: testSession()})
			threads, sess := c.ListThreads(context.Background(), "1")
			if len(threads) != 0 {
				t.Errorf("threads = %v, want none", threads)
			}
			if sess == nil {
				t.Error("session should still be returned")
			}
			if hits.Load() != tt.wantHits {
				t.Errorf("hits = %d, want %d", hits.Load(), tt.wantHits)
			}
		})
	}
}

func TestListThreadsRecoversAfterRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"threads":[{"id":"5","slug":"s"}]}}`)) //nolint:errcheck // test
	}))
	defer srv.Close()

	c := newTestClient(srv, &fixedSessions{sess: testSession()})
	threads, _ := c.ListThreads(context.Background(), "1")
	if len(threads) != 1 || threads[0].ID.String() != "5" {
		t.Fatalf("threads = %+v, want one thread with id 5", threads)
	}
}

func TestThreadDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != detailPath {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"success":1,"data":{
			"id":"777","slug":"alpha-4-0","subject":"Alpha 4.0","time_created":1700000100,
			"member":{"displayname":"Zyloh","nickname":"Zyloh-CIG","avatar":"https://cdn.test/a.png"},
			"content_blocks":[
				{"type":"text","data":{"blocks":[{"text":"Hello","type":"unstyled","depth":0},{"text":"Item","type":"unordered-list-item","depth":1}]}},
				{"type":"image","data":[{"data":{"url":"https://cdn.test/direct.jpg","sizes":{"small":{"url":"https://cdn.test/s.jpg","width":100,"height":50},"large":{"url":"https://cdn.test/l.jpg","width":1000,"height":500}}}}]},
				{"type":"video","data":{}}
			]}}`)) //nolint:errcheck // test
	}))
	defer srv.Close()

	c := newTestClient(srv, &fixedSessions{sess: testSession()})
	sess := testSession()
	sess.ForumID = "1"
	d := c.ThreadDetail(context.Background(), sess, "alpha-4-0")
	if d == nil {
		t.Fatal("ThreadDetail returned nil")
	}
	if d.ID.String() != "777" || d.Slug != "alpha-4-0" || d.Subject != "Alpha 4.0" || d.ForumID != "1" {
		t.Errorf("detail header = %+v", d)
	}
	if d.Author.Name != "Zyloh" || d.Author.AvatarURL != "https://cdn.test/a.png" {
		t.Errorf("author = %+v", d.Author)
	}
	if len(d.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2 (unknown block dropped)", len(d.Blocks))
	}
	if got := d.Blocks[0].Paragraphs[1]; got.Text != "Item" || got.Depth != 1 || !got.Style.IsListItem() {
		t.Errorf("paragraph = %+v", got)
	}
	img := d.Blocks[1].Images
	if len(img) != 1 || img[0].URL != "https://cdn.test/direct.jpg" || len(img[0].Sizes) != 2 {
		t.Errorf("images = %+v", img)
	}
}

func TestThreadDetailRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":0,"code":"ErrThreadNotFound"}`)) //nolint:errcheck // test
	}))
	defer srv.Close()

	c := newTestClient(srv, &fixedSessions{sess: testSession()})
	if d := c.ThreadDetail(context.Background(), testSession(), "gone"); d != nil {
		t.Errorf("ThreadDetail = %+v, want nil", d)
	}
}

func TestDecodeListVariants(t *testing.T) {
	if _, ok := DecodeList(http.StatusInternalServerError, nil).(ErrorResponse); !ok {
		t.Error("bad status should decode to ErrorResponse")
	}
	if _, ok := DecodeList(http.StatusOK, []byte(`{"success":1,"data":null}`)).(ErrorResponse); !ok {
		t.Error("missing data should decode to ErrorResponse")
	}
	resp, ok := DecodeList(http.StatusOK, []byte(`{"success":1,"data":{"threads":[{"thread":{"id":9},"slug":"nested"}]}}`)).(ListResponse)
	if !ok {
		t.Fatal("expected ListResponse")
	}
	if len(resp.Threads) != 1 || resp.Threads[0].ID.String() != "9" {
		t.Errorf("thread.id rule not applied: %+v", resp.Threads)
	}
}
