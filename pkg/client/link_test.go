package client

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sparkleshare/sparkleshare-go/internal/logging"
	"github.com/sparkleshare/sparkleshare-go/internal/store"
	"github.com/sparkleshare/sparkleshare-go/pkg/protocol"
)

// handlerTransport serves requests in-process so tests can use real
// looking addresses.
type handlerTransport struct {
	h http.Handler
}

func (t handlerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	rec := httptest.NewRecorder()
	t.h.ServeHTTP(rec, r)
	resp := rec.Result()
	resp.Request = r
	return resp, nil
}

// linkServer hands out credentials for single-use codes.
type linkServer struct {
	mu     sync.Mutex
	codes  map[string]protocol.LinkResponse
	used   map[string]bool
	names  []string
	status int // forced status when non-zero
}

func (s *linkServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.URL.Path != "/api/getAuthCode" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if s.status != 0 {
		w.WriteHeader(s.status)
		return
	}
	code := r.URL.Query().Get("code")
	s.names = append(s.names, r.URL.Query().Get("name"))
	lr, ok := s.codes[code]
	if !ok || s.used[code] {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: "invalid or used link code"})
		return
	}
	s.used[code] = true
	json.NewEncoder(w).Encode(lr)
}

func newLinkServer() *linkServer {
	return &linkServer{
		codes: map[string]protocol.LinkResponse{
			"ABC123": {Ident: "dev-17", AuthCode: "tok-99"},
			"XYZ789": {Ident: "dev-18", AuthCode: "tok-100"},
		},
		used: make(map[string]bool),
	}
}

type linkOutcome struct {
	ok  bool
	err error
}

func linkAndWait(t *testing.T, c *Connection, address, code string) linkOutcome {
	t.Helper()
	ch := make(chan linkOutcome, 2)
	c.SetDelegate(DelegateFuncs{
		OnLinked:     func(*Connection) { ch <- linkOutcome{ok: true} },
		OnLinkFailed: func(_ *Connection, err error) { ch <- linkOutcome{err: err} },
	})
	c.LinkDeviceWithAddress(address, code)
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for link outcome")
		return linkOutcome{}
	}
}

func TestLink_SuccessPersistsCredentials(t *testing.T) {
	srv := newLinkServer()
	st := store.NewMemoryStore()
	cfg := Config{DeviceName: "pixel-7", HTTPClient: &http.Client{Transport: handlerTransport{srv}}}

	c := NewFromStore(cfg, st)
	defer c.Close()
	require.False(t, c.IsLinked())

	o := linkAndWait(t, c, "https://sync.example.org/", "ABC123")
	require.True(t, o.ok, "link failed: %v", o.err)

	creds := c.Credentials()
	assert.Equal(t, "https://sync.example.org", creds.Address)
	assert.Equal(t, "dev-17", creds.IdentCode)
	assert.Equal(t, "tok-99", creds.AuthCode)
	assert.Equal(t, []string{"pixel-7"}, srv.names)

	// A fresh connection restores the same triple.
	restored := NewFromStore(cfg, st)
	defer restored.Close()
	got := restored.Credentials()
	assert.Equal(t, "https://sync.example.org", got.Address)
	assert.Equal(t, "dev-17", got.IdentCode)
	assert.Equal(t, "tok-99", got.AuthCode)
}

func TestLink_ReusedCodeFailsAndKeepsCredentials(t *testing.T) {
	srv := newLinkServer()
	st := store.NewMemoryStore()
	c := NewFromStore(Config{HTTPClient: &http.Client{Transport: handlerTransport{srv}}}, st)
	defer c.Close()

	require.True(t, linkAndWait(t, c, "https://sync.example.org", "ABC123").ok)
	before := c.Credentials()
	stored, err := st.Get(store.KeyCredentials)
	require.NoError(t, err)

	o := linkAndWait(t, c, "https://sync.example.org", "ABC123")
	require.False(t, o.ok)
	assert.True(t, IsAuth(o.err), "expected auth error, got %v", o.err)

	assert.Equal(t, before, c.Credentials())
	after, err := st.Get(store.KeyCredentials)
	require.NoError(t, err)
	assert.Equal(t, stored, after)
}

func TestLink_UnknownCodeStatuses(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound} {
		srv := newLinkServer()
		srv.status = status
		c := New(Config{HTTPClient: &http.Client{Transport: handlerTransport{srv}}}, nil)

		o := linkAndWait(t, c, "https://sync.example.org", "NOPE")
		assert.True(t, IsAuth(o.err), "status %d: expected auth error, got %v", status, o.err)
		assert.False(t, c.IsLinked())
		c.Close()
	}
}

func TestLink_ServerErrorIsNotAuth(t *testing.T) {
	srv := newLinkServer()
	srv.status = http.StatusInternalServerError
	c := New(Config{HTTPClient: &http.Client{Transport: handlerTransport{srv}}}, nil)
	defer c.Close()

	o := linkAndWait(t, c, "https://sync.example.org", "ABC123")
	assert.True(t, IsServer(o.err))
}

func TestLink_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer ts.Close()

	st := linkedStore(t, "https://old.example.org")
	c := NewFromStore(Config{RequestTimeout: 50 * time.Millisecond}, st)
	defer c.Close()
	before := c.Credentials()

	start := time.Now()
	o := linkAndWait(t, c, ts.URL, "ABC123")
	require.False(t, o.ok)
	assert.True(t, IsNetwork(o.err), "expected network error, got %v", o.err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, before, c.Credentials())
}

func TestLink_InvalidInput(t *testing.T) {
	c := New(Config{HTTPClient: &http.Client{Transport: handlerTransport{newLinkServer()}}}, nil)
	defer c.Close()

	o := linkAndWait(t, c, "ftp://sync.example.org", "ABC123")
	assert.False(t, o.ok)

	o = linkAndWait(t, c, "https://sync.example.org", "   ")
	assert.True(t, IsAuth(o.err))
	assert.False(t, c.IsLinked())
}

type failingStore struct {
	*store.MemoryStore
}

func (failingStore) Put(string, []byte) error {
	return errors.New("disk full")
}

func TestLink_PersistenceFailureLeavesStateUntouched(t *testing.T) {
	st := failingStore{store.NewMemoryStore()}
	c := NewFromStore(Config{HTTPClient: &http.Client{Transport: handlerTransport{newLinkServer()}}}, st)
	defer c.Close()

	o := linkAndWait(t, c, "https://sync.example.org", "ABC123")
	require.False(t, o.ok)
	assert.True(t, IsPersistence(o.err), "expected persistence error, got %v", o.err)
	assert.False(t, c.IsLinked())
}

func TestNewFromStore_CorruptDegradesAndLogs(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	restore := logging.Replace(zap.New(core))
	defer restore()

	st := store.NewMemoryStore()
	require.NoError(t, st.Put(store.KeyCredentials, []byte("{not json")))

	c := NewFromStore(Config{}, st)
	defer c.Close()

	assert.False(t, c.IsLinked())
	assert.Equal(t, 1, logs.FilterMessageSnippet("credentials").Len())
}

func TestUnlink(t *testing.T) {
	st := linkedStore(t, "https://sync.example.org")
	c := NewFromStore(Config{}, st)
	defer c.Close()
	require.True(t, c.IsLinked())

	require.NoError(t, c.Unlink())
	assert.False(t, c.IsLinked())
	_, err := st.Get(store.KeyCredentials)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
