package client

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkleshare/sparkleshare-go/internal/store"
	"github.com/sparkleshare/sparkleshare-go/pkg/protocol"
)

type outcome struct {
	res *Result
	err error
}

// recorder collects callback invocations and fails the test on a second one.
type recorder struct {
	t     *testing.T
	calls atomic.Int32
	ch    chan outcome
}

func newRecorder(t *testing.T) *recorder {
	return &recorder{t: t, ch: make(chan outcome, 4)}
}

func (r *recorder) success(res *Result) {
	if r.calls.Add(1) > 1 {
		r.t.Errorf("callback invoked more than once")
	}
	r.ch <- outcome{res: res}
}

func (r *recorder) failure(res *Result, err error) {
	if r.calls.Add(1) > 1 {
		r.t.Errorf("callback invoked more than once")
	}
	r.ch <- outcome{res: res, err: err}
}

func (r *recorder) wait() outcome {
	r.t.Helper()
	select {
	case o := <-r.ch:
		return o
	case <-time.After(5 * time.Second):
		r.t.Fatal("timed out waiting for callback")
		return outcome{}
	}
}

func linkedStore(t *testing.T, address string) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore()
	require.NoError(t, saveCredentials(st, Credentials{
		Address:   address,
		IdentCode: "dev-17",
		AuthCode:  "tok-99",
	}))
	return st
}

func testConn(t *testing.T, handler http.Handler, cfg Config) (*Connection, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 2 * time.Second
	}
	c := NewFromStore(cfg, linkedStore(t, ts.URL))
	t.Cleanup(func() {
		c.Close()
		ts.Close()
	})
	return c, ts
}

func TestSendRequest_SignsAndParsesJSON(t *testing.T) {
	var gotPath, gotQuery, gotIdent, gotAuth, gotRequestID string
	c, _ := testConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotIdent = r.Header.Get(protocol.HeaderIdent)
		gotAuth = r.Header.Get(protocol.HeaderAuth)
		gotRequestID = r.Header.Get("X-Request-ID")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]protocol.FolderEntry{{Name: "a.md", ID: "f1", Type: "file"}})
	}), Config{})

	rec := newRecorder(t)
	c.SendRequest("getFolderContent/p1?path=docs", rec.success, rec.failure)
	o := rec.wait()

	require.NoError(t, o.err)
	assert.Equal(t, "/api/getFolderContent/p1", gotPath)
	assert.Equal(t, "path=docs", gotQuery)
	assert.Equal(t, "dev-17", gotIdent)
	assert.Equal(t, "tok-99", gotAuth)
	assert.NotEmpty(t, gotRequestID)

	list, ok := o.res.JSON.([]any)
	require.True(t, ok, "expected JSON array, got %T", o.res.JSON)
	assert.Len(t, list, 1)

	var entries []protocol.FolderEntry
	require.NoError(t, o.res.Decode(&entries))
	assert.Equal(t, "f1", entries[0].ID)
	assert.Equal(t, http.StatusOK, o.res.Response.StatusCode)
}

func TestSendRequest_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
		msg    string
	}{
		{"malformed json", http.StatusOK, "<html>", IsMalformedResponse, ""},
		{"server error", http.StatusInternalServerError, `{"error":"disk full"}`, IsServer, "disk full"},
		{"forbidden", http.StatusForbidden, `{"error":"bad auth"}`, IsAuth, "bad auth"},
		{"unauthorized", http.StatusUnauthorized, "", IsAuth, "Unauthorized"},
		{"plain text error", http.StatusBadGateway, "upstream down", IsServer, "upstream down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := testConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}), Config{})

			rec := newRecorder(t)
			c.SendRequest("ping", rec.success, rec.failure)
			o := rec.wait()

			require.Error(t, o.err)
			assert.True(t, tt.check(o.err), "unexpected kind for %v", o.err)

			var ce *Error
			require.True(t, errors.As(o.err, &ce))
			assert.Equal(t, tt.status, ce.Status)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, ce.Message)
			}
			require.NotNil(t, o.res)
			assert.Equal(t, tt.body, string(o.res.Body))
		})
	}
}

func TestSendRequest_NetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := ts.URL
	ts.Close()

	c := NewFromStore(Config{RequestTimeout: time.Second}, linkedStore(t, addr))
	defer c.Close()

	rec := newRecorder(t)
	c.SendRequest("ping", rec.success, rec.failure)
	o := rec.wait()

	assert.True(t, IsNetwork(o.err), "expected network error, got %v", o.err)
	require.NotNil(t, o.res)
	assert.Nil(t, o.res.Response)
}

func TestSendRequest_Timeout(t *testing.T) {
	c, _ := testConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == protocol.APIPrefix+"slow" {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
			return
		}
		io.WriteString(w, `"pong"`)
	}), Config{RequestTimeout: 50 * time.Millisecond, MaxConcurrent: 1})

	start := time.Now()
	slow := newRecorder(t)
	c.SendRequest("slow", slow.success, slow.failure)
	o := slow.wait()
	assert.True(t, IsNetwork(o.err), "expected network error, got %v", o.err)
	assert.Less(t, time.Since(start), 2*time.Second)

	// The single slot is free again.
	next := newRecorder(t)
	c.SendRequest("ping", next.success, next.failure)
	o = next.wait()
	require.NoError(t, o.err)
	assert.Equal(t, "pong", o.res.JSON)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), slow.calls.Load())
}

func TestSendRequest_NotLinked(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer ts.Close()

	c := New(Config{}, nil)
	defer c.Close()

	rec := newRecorder(t)
	c.SendRequest("ping", rec.success, rec.failure)
	o := rec.wait()

	assert.True(t, IsAuth(o.err))
	assert.ErrorIs(t, o.err, ErrNotLinked)
	assert.Equal(t, int32(0), hits.Load())
}

func TestSendPostRequest_RawBody(t *testing.T) {
	var gotBody, gotMethod, gotType string
	c, _ := testConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		json.NewEncoder(w).Encode(protocol.PutFileResponse{OK: true, Size: int64(len(data))})
	}), Config{})

	rec := newRecorder(t)
	c.SendPostRequest("putFile/f42", "# Title v2\n", rec.success, rec.failure)
	o := rec.wait()

	require.NoError(t, o.err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "# Title v2\n", gotBody)
	assert.Contains(t, gotType, "text/plain")
}

func TestSendRawRequest_NonJSONBody(t *testing.T) {
	c, _ := testConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "# Title")
	}), Config{})

	rec := newRecorder(t)
	c.SendRawRequest("getFile/f42", rec.success, rec.failure)
	o := rec.wait()

	require.NoError(t, o.err)
	assert.Equal(t, "# Title", string(o.res.Body))
	assert.Nil(t, o.res.JSON)
}

func TestSendRequest_BodyLimit(t *testing.T) {
	c, _ := testConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `"0123456789"`)
	}), Config{MaxBodySize: 4})

	rec := newRecorder(t)
	c.SendRequest("ping", rec.success, rec.failure)
	o := rec.wait()
	assert.True(t, IsMalformedResponse(o.err))
}

func TestQueue_BoundsConcurrency(t *testing.T) {
	var current, peak atomic.Int32
	c, _ := testConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		io.WriteString(w, `"pong"`)
	}), Config{MaxConcurrent: 2})

	const total = 10
	var wg sync.WaitGroup
	var ok atomic.Int32
	wg.Add(total)
	for i := 0; i < total; i++ {
		c.SendRequest("ping",
			func(*Result) { ok.Add(1); wg.Done() },
			func(_ *Result, err error) { t.Errorf("unexpected failure: %v", err); wg.Done() })
	}
	wg.Wait()

	assert.Equal(t, int32(total), ok.Load())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestClose_ResolvesPendingExactlyOnce(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	c := NewFromStore(Config{MaxConcurrent: 1, RequestTimeout: 5 * time.Second}, linkedStore(t, ts.URL))

	recs := []*recorder{newRecorder(t), newRecorder(t), newRecorder(t)}
	for _, rec := range recs {
		c.SendRequest("ping", rec.success, rec.failure)
	}

	c.Close()

	for _, rec := range recs {
		o := rec.wait()
		assert.True(t, IsNetwork(o.err), "expected network error, got %v", o.err)
	}

	late := newRecorder(t)
	c.SendRequest("ping", late.success, late.failure)
	o := late.wait()
	assert.ErrorIs(t, o.err, ErrClosed)

	// Close is idempotent.
	c.Close()
}

func TestEstablishConnection(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	c, _ := testConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ping" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(int(status.Load()))
		io.WriteString(w, `"pong"`)
	}), Config{})

	established := make(chan struct{}, 1)
	failed := make(chan error, 1)
	c.SetDelegate(DelegateFuncs{
		OnEstablished: func(*Connection) { established <- struct{}{} },
		OnFailed:      func(_ *Connection, err error) { failed <- err },
	})
	before := c.Credentials()

	c.EstablishConnection()
	select {
	case <-established:
	case err := <-failed:
		t.Fatalf("unexpected failure: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}

	status.Store(http.StatusForbidden)
	c.EstablishConnection()
	select {
	case err := <-failed:
		assert.True(t, IsAuth(err))
	case <-established:
		t.Fatal("expected failure")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}

	assert.Equal(t, before, c.Credentials())
}

func TestNewFromStore_Missing(t *testing.T) {
	c := NewFromStore(Config{}, store.NewMemoryStore())
	defer c.Close()
	assert.False(t, c.IsLinked())
	assert.Equal(t, "", c.Address())
}
