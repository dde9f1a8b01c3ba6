package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// daemonResult is one instance's answer to a fanned-out command.
type daemonResult struct {
	Instance int
	Response json.RawMessage
	Error    error
}

// decode unmarshals the raw result into out.
func (r daemonResult) decode(out any) error {
	if r.Error != nil {
		return r.Error
	}
	if len(r.Response) == 0 {
		return fmt.Errorf("daemon %d: empty result", r.Instance)
	}
	return fastJSONUnmarshal(r.Response, out)
}

// rpcErrorCode extracts the daemon error code, or 0.
func rpcErrorCode(err error) int {
	var re *rpcError
	if errors.As(err, &re) {
		return re.Code
	}
	return 0
}

// DaemonInterface sends every command to all configured daemons.
type DaemonInterface struct {
	clients []*RPCClient
}

func NewDaemonInterface(daemons []DaemonConfig) (*DaemonInterface, error) {
	if len(daemons) == 0 {
		return nil, errNoDaemons
	}
	transport := newRPCTransport()
	di := &DaemonInterface{}
	for i, d := range daemons {
		di.clients = append(di.clients, NewRPCClient(d, i, transport))
	}
	return di, nil
}

// daemonStatus describes one daemon connection for the CLI.
type daemonStatus struct {
	Instance  int    `json:"instance"`
	Endpoint  string `json:"endpoint"`
	Healthy   bool   `json:"healthy"`
	LastError string `json:"last_error,omitempty"`
}

func (d *DaemonInterface) Status() []daemonStatus {
	out := make([]daemonStatus, 0, len(d.clients))
	for _, c := range d.clients {
		st := daemonStatus{
			Instance: c.Index(),
			Endpoint: c.endpointLabel(),
			Healthy:  c.Healthy(),
		}
		if err := c.LastError(); err != nil {
			st.LastError = err.Error()
		}
		out = append(out, st)
	}
	return out
}

func (d *DaemonInterface) Len() int {
	return len(d.clients)
}

// Cmd runs method on every daemon concurrently and returns the results in
// instance order.
func (d *DaemonInterface) Cmd(ctx context.Context, method string, params []any) []daemonResult {
	results := make([]daemonResult, len(d.clients))
	var wg sync.WaitGroup
	for i, c := range d.clients {
		wg.Add(1)
		go func(i int, c *RPCClient) {
			defer wg.Done()
			results[i] = d.call(ctx, c, method, params)
		}(i, c)
	}
	wg.Wait()
	return results
}

// CmdStream delivers each daemon's result as soon as it arrives. fn is
// never called concurrently.
func (d *DaemonInterface) CmdStream(ctx context.Context, method string, params []any, fn func(daemonResult)) {
	ch := make(chan daemonResult, len(d.clients))
	for _, c := range d.clients {
		go func(c *RPCClient) {
			ch <- d.call(ctx, c, method, params)
		}(c)
	}
	for range d.clients {
		fn(<-ch)
	}
}

func (d *DaemonInterface) call(ctx context.Context, c *RPCClient, method string, params []any) daemonResult {
	if params == nil {
		params = []any{}
	}
	var raw json.RawMessage
	err := c.callCtx(ctx, method, params, &raw)
	return daemonResult{Instance: c.index, Response: raw, Error: err}
}

// BatchCmd sends calls as one batch to the first daemon only.
func (d *DaemonInterface) BatchCmd(ctx context.Context, calls []rpcBatchCall) ([]rpcResponse, error) {
	if len(d.clients) == 0 {
		return nil, errNoDaemons
	}
	return d.clients[0].batchCall(ctx, calls)
}

// IsOnline reports whether every daemon answers getinfo.
func (d *DaemonInterface) IsOnline(ctx context.Context) bool {
	online := true
	for _, r := range d.Cmd(ctx, "getinfo", nil) {
		if r.Error != nil {
			online = false
			daemonLog.Error("daemon connection failed", "instance", r.Instance, "error", r.Error)
		}
	}
	return online
}
