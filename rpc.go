package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	rpcRetryDelay = 100 * time.Millisecond
	rpcMaxRetries = 4
)

var rpcRetryMaxDelay = 5 * time.Second
var rpcRetryJitterFrac = 0.2

var (
	errDaemonUnauthorized = errors.New("unauthorized RPC access - invalid RPC username or password")
	errNoDaemons          = errors.New("no daemons configured")
)

type rpcRequest struct {
	Jsonrpc string `json:"jsonrpc,omitempty"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     int64           `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type httpStatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *httpStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("rpc http status %s: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("rpc http status %s", e.Status)
}

// rpcBatchCall is one entry of a batched request.
type rpcBatchCall struct {
	Method string
	Params []any
}

// RPCClient talks JSON-RPC over HTTP to a single daemon instance.
type RPCClient struct {
	index  int
	url    string
	user   string
	pass   string
	client *http.Client

	idMu   sync.Mutex
	nextID int64

	connected   atomic.Bool
	unhealthy   atomic.Bool
	disconnects atomic.Uint64
	reconnects  atomic.Uint64

	lastErrMu sync.RWMutex
	lastErr   error
}

func newRPCTransport() *http.Transport {
	// A shared Transport lets every daemon client reuse connections.
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		IdleConnTimeout:       60 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func NewRPCClient(d DaemonConfig, index int, transport http.RoundTripper) *RPCClient {
	host := d.Host
	if host == "" {
		host = "127.0.0.1"
	}
	scheme := "http"
	if d.TLS {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: net.JoinHostPort(host, strconv.Itoa(d.Port)), Path: "/"}
	if transport == nil {
		transport = newRPCTransport()
	}
	return &RPCClient{
		index:  index,
		url:    u.String(),
		user:   d.User,
		pass:   d.Password,
		nextID: time.Now().UnixMilli(),
		client: &http.Client{
			Timeout:   60 * time.Second,
			Transport: transport,
		},
	}
}

func (c *RPCClient) Index() int { return c.index }

func (c *RPCClient) callCtx(ctx context.Context, method string, params any, out any) error {
	if params == nil {
		params = []any{}
	}
	retryCount := 0
	for {
		if ctx.Err() != nil {
			c.recordLastError(ctx.Err())
			return ctx.Err()
		}
		err := c.performCall(ctx, method, params, out)
		if err == nil {
			if c.unhealthy.Swap(false) {
				c.reconnects.Add(1)
				daemonLog.Info("daemon reachable again", "instance", c.index, "endpoint", c.endpointLabel())
			}
			c.connected.Store(true)
			c.recordLastError(nil)
			return nil
		}
		c.recordLastError(err)
		if isRPCConnectivityError(err) && !c.unhealthy.Swap(true) {
			c.disconnects.Add(1)
		}
		if retryCount < rpcMaxRetries && shouldRetryRPC(err) {
			retryCount++
			if err := sleepContext(ctx, rpcRetryDelayWithBackoff(retryCount)); err != nil {
				return err
			}
			continue
		}
		return err
	}
}

func (c *RPCClient) nextRequestID() int64 {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	c.nextID++
	return c.nextID
}

func (c *RPCClient) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if c.user != "" || c.pass != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		daemonLog.Error("Unauthorized RPC access - invalid RPC username or password", "instance", c.index)
		return nil, errDaemonUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		// Daemons answer RPC errors with 500 and a JSON body; let the caller
		// decode it when it parses.
		var probe rpcResponse
		if decodeDaemonJSON(data, &probe) == nil && probe.Error != nil {
			return data, nil
		}
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(bytes.TrimSpace(data))}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("rpc empty response body")
	}
	return data, nil
}

func (c *RPCClient) performCall(ctx context.Context, method string, params any, out any) error {
	body, err := fastJSONMarshal(rpcRequest{
		ID:     c.nextRequestID(),
		Method: method,
		Params: params,
	})
	if err != nil {
		return err
	}
	data, err := c.post(ctx, body)
	if err != nil {
		return err
	}
	var rpcResp rpcResponse
	if err := decodeDaemonJSON(data, &rpcResp); err != nil {
		daemonLog.Error("could not parse rpc data from daemon", "instance", c.index, "method", method, "error", err)
		return fmt.Errorf("decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], rpcResp.Result...)
		return nil
	}
	return fastJSONUnmarshal(rpcResp.Result, out)
}

// batchCall sends every call in a single JSON array and returns the
// replies in call order.
func (c *RPCClient) batchCall(ctx context.Context, calls []rpcBatchCall) ([]rpcResponse, error) {
	reqs := make([]rpcRequest, len(calls))
	for i, call := range calls {
		params := call.Params
		if params == nil {
			params = []any{}
		}
		reqs[i] = rpcRequest{ID: c.nextRequestID(), Method: call.Method, Params: params}
	}
	body, err := fastJSONMarshal(reqs)
	if err != nil {
		return nil, err
	}
	data, err := c.post(ctx, body)
	if err != nil {
		c.recordLastError(err)
		return nil, err
	}
	var replies []rpcResponse
	if err := decodeDaemonJSON(data, &replies); err != nil {
		return nil, fmt.Errorf("decode rpc batch response: %w", err)
	}
	byID := make(map[int64]rpcResponse, len(replies))
	for _, r := range replies {
		byID[r.ID] = r
	}
	out := make([]rpcResponse, len(reqs))
	for i, req := range reqs {
		r, ok := byID[req.ID]
		if !ok {
			return nil, fmt.Errorf("rpc batch: no reply for %s", req.Method)
		}
		out[i] = r
	}
	return out, nil
}

var (
	nanToken         = []byte(":-nan,")
	nanReplacedToken = []byte(":0,")
)

// decodeDaemonJSON tolerates the ":-nan," values some daemons emit for
// undefined floats.
func decodeDaemonJSON(data []byte, out any) error {
	err := fastJSONUnmarshal(data, out)
	if err == nil || !bytes.Contains(data, nanToken) {
		return err
	}
	return fastJSONUnmarshal(bytes.ReplaceAll(data, nanToken, nanReplacedToken), out)
}

func (c *RPCClient) endpointLabel() string {
	u, err := url.Parse(c.url)
	if err == nil && u.Host != "" {
		return u.Host
	}
	return "(unknown)"
}

func (c *RPCClient) Healthy() bool {
	if c == nil {
		return false
	}
	return c.connected.Load() && !c.unhealthy.Load()
}

func isRPCConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}
	return false
}

func shouldRetryRPC(err error) bool {
	if err == nil || errors.Is(err, errDaemonUnauthorized) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}
	return false
}

func (c *RPCClient) recordLastError(err error) {
	c.lastErrMu.Lock()
	c.lastErr = err
	c.lastErrMu.Unlock()
}

func (c *RPCClient) LastError() error {
	c.lastErrMu.RLock()
	defer c.lastErrMu.RUnlock()
	return c.lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func rpcRetryDelayWithBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return rpcRetryDelay
	}
	delay := rpcRetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if rpcRetryMaxDelay > 0 && delay >= rpcRetryMaxDelay {
			delay = rpcRetryMaxDelay
			break
		}
	}
	if rpcRetryJitterFrac > 0 {
		low := 1 - rpcRetryJitterFrac
		high := 1 + rpcRetryJitterFrac
		jitter := low + (high-low)*rand.Float64()
		delay = time.Duration(float64(delay) * jitter)
		if delay <= 0 {
			delay = time.Millisecond
		}
	}
	return delay
}
