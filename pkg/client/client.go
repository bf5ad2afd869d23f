// Package client owns the link to a SparkleShare dashboard: device
// credentials, the link handshake, and a bounded queue that executes every
// signed request on behalf of the tree items.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sparkleshare/sparkleshare-go/internal/logging"
	"github.com/sparkleshare/sparkleshare-go/internal/metrics"
	"github.com/sparkleshare/sparkleshare-go/internal/store"
	"github.com/sparkleshare/sparkleshare-go/pkg/protocol"
)

// Defaults applied by New when the Config leaves a field zero.
const (
	DefaultMaxConcurrent  = 4
	DefaultRequestTimeout = 30 * time.Second
	DefaultDeviceName     = "sparkleshare-go"
	DefaultMaxBodySize    = 64 << 20
)

// Result is the outcome of one dashboard request. Response is nil when no
// response was received. JSON holds the parsed body for JSON requests.
type Result struct {
	Request  *http.Request
	Response *http.Response
	Body     []byte
	JSON     any
}

// Decode unmarshals the response body into v.
func (r *Result) Decode(v any) error {
	if r == nil {
		return errors.New("nil result")
	}
	return json.Unmarshal(r.Body, v)
}

// SuccessFunc receives a successful result.
type SuccessFunc func(res *Result)

// FailureFunc receives the partial result (possibly without a response)
// and the structured error.
type FailureFunc func(res *Result, err error)

// Delegate receives connection-level outcomes. Methods are called on a
// queue worker goroutine.
type Delegate interface {
	ConnectionEstablished(c *Connection)
	ConnectionFailed(c *Connection, err error)
	LinkSucceeded(c *Connection)
	LinkFailed(c *Connection, err error)
}

// Config holds connection configuration.
type Config struct {
	DeviceName     string
	MaxConcurrent  int
	RequestTimeout time.Duration
	MaxBodySize    int64
	UserAgent      string
	HTTPClient     *http.Client
}

// Connection executes signed requests against a dashboard.
type Connection struct {
	cfg        Config
	httpClient *http.Client
	store      store.Store
	queue      *workQueue

	mu       sync.RWMutex
	creds    Credentials
	delegate Delegate
}

// New creates an unlinked connection. st may be nil, in which case
// credentials obtained by linking live only in memory.
func New(cfg Config, st store.Store) *Connection {
	if cfg.DeviceName == "" {
		cfg.DeviceName = DefaultDeviceName
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultDeviceName
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxConnsPerHost:     cfg.MaxConcurrent,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	return &Connection{
		cfg:        cfg,
		httpClient: httpClient,
		store:      st,
		queue:      newWorkQueue(cfg.MaxConcurrent),
	}
}

// NewFromStore restores previously persisted credentials from st. Missing
// or unreadable credentials produce an unlinked connection.
func NewFromStore(cfg Config, st store.Store) *Connection {
	c := New(cfg, st)
	c.creds = loadCredentials(st)
	if c.creds.IsComplete() {
		logging.Info("restored device link",
			logging.String("address", c.creds.Address),
			logging.String("ident", c.creds.IdentCode))
	}
	return c
}

// Close stops the request queue. Requests still queued resolve through
// their failure callback with a network error. Close must not be called
// from a callback.
func (c *Connection) Close() {
	c.queue.close()
}

// SetDelegate sets the receiver of connection-level outcomes.
func (c *Connection) SetDelegate(d Delegate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delegate = d
}

func (c *Connection) getDelegate() Delegate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.delegate
}

// Credentials returns a copy of the current credentials.
func (c *Connection) Credentials() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

// IsLinked reports whether the connection holds a complete credential triple.
func (c *Connection) IsLinked() bool {
	return c.Credentials().IsComplete()
}

// Address returns the linked server address, or "" when unlinked.
func (c *Connection) Address() string {
	return c.Credentials().Address
}

// DeviceName returns the name sent during linking.
func (c *Connection) DeviceName() string {
	return c.cfg.DeviceName
}

// EstablishConnection checks the held credentials against the server. It
// never issues a new link code and never changes credentials.
func (c *Connection) EstablishConnection() {
	c.SendRequest(protocol.MethodPing,
		func(res *Result) {
			logging.Info("connection established", logging.String("address", c.Address()))
			if d := c.getDelegate(); d != nil {
				d.ConnectionEstablished(c)
			}
		},
		func(res *Result, err error) {
			logging.Warn("connection failed", logging.Err(err))
			if d := c.getDelegate(); d != nil {
				d.ConnectionFailed(c, err)
			}
		})
}

// SendRequest issues a signed GET for {address}/api/{path} and parses the
// body as JSON. Exactly one of success or failure is called, once.
func (c *Connection) SendRequest(path string, success SuccessFunc, failure FailureFunc) {
	c.enqueue(http.MethodGet, path, nil, true, success, failure)
}

// SendPostRequest POSTs data as a raw text body to {address}/api/{path}
// and parses the reply as JSON. Same single-resolution contract.
func (c *Connection) SendPostRequest(path, data string, success SuccessFunc, failure FailureFunc) {
	c.enqueue(http.MethodPost, path, []byte(data), true, success, failure)
}

// SendRawRequest issues a signed GET whose body is delivered as-is.
func (c *Connection) SendRawRequest(path string, success SuccessFunc, failure FailureFunc) {
	c.enqueue(http.MethodGet, path, nil, false, success, failure)
}

func (c *Connection) enqueue(method, path string, body []byte, expectJSON bool, success SuccessFunc, failure FailureFunc) {
	err := c.queue.submit(func(ctx context.Context) {
		res, err := c.execute(ctx, method, path, body, expectJSON)
		resolve(res, err, success, failure)
	})
	if err != nil {
		resolve(nil, &Error{Kind: KindNetwork, Op: method + " " + path, Err: err}, success, failure)
	}
}

func resolve(res *Result, err error, success SuccessFunc, failure FailureFunc) {
	if err != nil {
		if failure != nil {
			failure(res, err)
		}
		return
	}
	if success != nil {
		success(res)
	}
}

func (c *Connection) apiURL(address, path string) string {
	return address + protocol.APIPrefix + strings.TrimPrefix(path, "/")
}

func (c *Connection) execute(ctx context.Context, method, path string, body []byte, expectJSON bool) (*Result, error) {
	op := method + " " + path
	creds := c.Credentials()
	if !creds.IsComplete() {
		return nil, &Error{Kind: KindAuth, Op: op, Err: ErrNotLinked}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL(creds.Address, path), reader)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	}
	req.Header.Set(protocol.HeaderIdent, creds.IdentCode)
	req.Header.Set(protocol.HeaderAuth, creds.AuthCode)

	return c.do(req, op, expectJSON)
}

// do performs req and classifies the outcome.
func (c *Connection) do(req *http.Request, op string, expectJSON bool) (*Result, error) {
	requestID := logging.NewRequestID()
	req.Header.Set(logging.RequestIDHeader, requestID)
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if expectJSON {
		req.Header.Set("Accept", "application/json")
	}
	log := logging.With(logging.String("request_id", requestID))

	start := time.Now()
	metrics.IncInFlight()
	defer metrics.DecInFlight()

	res := &Result{Request: req}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordRequest(req.Method, KindNetwork.String(), time.Since(start))
		log.Debug("request failed", logging.String("op", op), logging.Err(err))
		return res, &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()
	res.Response = resp

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodySize+1))
	if err != nil {
		metrics.RecordRequest(req.Method, KindNetwork.String(), time.Since(start))
		return res, &Error{Kind: KindNetwork, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(data)) > c.cfg.MaxBodySize {
		metrics.RecordRequest(req.Method, KindMalformedResponse.String(), time.Since(start))
		return res, &Error{Kind: KindMalformedResponse, Op: op, Status: resp.StatusCode,
			Message: fmt.Sprintf("body exceeds %d bytes", c.cfg.MaxBodySize)}
	}
	res.Body = data

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := statusError(op, resp.StatusCode, data)
		metrics.RecordRequest(req.Method, serr.Kind.String(), time.Since(start))
		log.Debug("request rejected",
			logging.String("op", op), logging.Int("status", resp.StatusCode))
		return res, serr
	}

	if expectJSON {
		if err := json.Unmarshal(data, &res.JSON); err != nil {
			metrics.RecordRequest(req.Method, KindMalformedResponse.String(), time.Since(start))
			return res, &Error{Kind: KindMalformedResponse, Op: op, Status: resp.StatusCode, Err: err}
		}
	}

	metrics.RecordRequest(req.Method, "ok", time.Since(start))
	log.Debug("request completed",
		logging.String("op", op),
		logging.Int("status", resp.StatusCode),
		logging.Duration("duration", time.Since(start)))
	return res, nil
}

// LinkDeviceWithAddress exchanges a one-time link code for durable
// credentials. On success the credentials are persisted before they replace
// the current ones; on any failure the current credentials are untouched.
func (c *Connection) LinkDeviceWithAddress(address, code string) {
	err := c.queue.submit(func(ctx context.Context) {
		creds, err := c.link(ctx, address, code)
		metrics.RecordLinkAttempt(err == nil)
		d := c.getDelegate()
		if err != nil {
			logging.Warn("device link failed", logging.String("address", address), logging.Err(err))
			if d != nil {
				d.LinkFailed(c, err)
			}
			return
		}
		logging.Info("device linked",
			logging.String("address", creds.Address),
			logging.String("ident", creds.IdentCode))
		if d != nil {
			d.LinkSucceeded(c)
		}
	})
	if err != nil {
		metrics.RecordLinkAttempt(false)
		if d := c.getDelegate(); d != nil {
			d.LinkFailed(c, &Error{Kind: KindNetwork, Op: "link", Err: err})
		}
	}
}

func (c *Connection) link(ctx context.Context, address, code string) (Credentials, error) {
	const op = "GET " + protocol.MethodGetAuthCode
	addr, err := normalizeAddress(address)
	if err != nil {
		return Credentials{}, &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return Credentials{}, &Error{Kind: KindAuth, Op: op, Message: "link code is empty"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	q := url.Values{"code": {code}, "name": {c.cfg.DeviceName}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.apiURL(addr, protocol.MethodGetAuthCode)+"?"+q.Encode(), nil)
	if err != nil {
		return Credentials{}, &Error{Kind: KindNetwork, Op: op, Err: err}
	}

	res, err := c.do(req, op, true)
	if err != nil {
		var ce *Error
		// A rejected code is an auth failure whatever status the server picks.
		if errors.As(err, &ce) && ce.Kind == KindServer && ce.Status == http.StatusNotFound {
			ce.Kind = KindAuth
		}
		return Credentials{}, err
	}

	var lr protocol.LinkResponse
	if err := res.Decode(&lr); err != nil || lr.Ident == "" || lr.AuthCode == "" {
		return Credentials{}, &Error{Kind: KindMalformedResponse, Op: op,
			Status: res.Response.StatusCode, Message: "missing ident or authCode", Err: err}
	}

	creds := Credentials{
		Address:   addr,
		IdentCode: lr.Ident,
		AuthCode:  lr.AuthCode,
		LinkedAt:  time.Now().UTC(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := saveCredentials(c.store, creds); err != nil {
		return Credentials{}, err
	}
	c.creds = creds
	return creds, nil
}

// Unlink forgets the credentials in memory and in the store.
func (c *Connection) Unlink() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store != nil {
		if err := c.store.Delete(store.KeyCredentials); err != nil {
			return &Error{Kind: KindPersistence, Op: "delete credentials", Err: err}
		}
	}
	c.creds = Credentials{}
	return nil
}
