package main

import (
	"bufio"
	"context"
	"math/big"
	"net"
	"sync"
	"time"
)

type StratumRequest struct {
	ID     any    `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type StratumResponse struct {
	ID     any `json:"id"`
	Result any `json:"result"`
	Error  any `json:"error"`
}

// StratumNotification is a server initiated call (set_target, notify).
type StratumNotification struct {
	ID     any    `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

func newStratumError(code int, msg string) []any {
	return []any{code, msg, nil}
}

// authorizeResult is what the pool decides for a mining.authorize call.
type authorizeResult struct {
	Error      any
	Authorized bool
	Disconnect bool
}

// submitRequest carries the positional mining.submit parameters.
type submitRequest struct {
	Worker      string
	JobID       string
	NTime       string
	ExtraNonce2 string
	Solution    string
}

// stratumHandler is the pool side of a miner connection. Calls arrive on
// the connection goroutine, except submit which runs on the submission
// worker pool.
type stratumHandler interface {
	subscribe(mc *MinerConn) (string, error)
	subscribed(mc *MinerConn)
	authorize(mc *MinerConn, worker, password string) authorizeResult
	submit(mc *MinerConn, req submitRequest) shareResult
	difficultyChanged(mc *MinerConn, diff float64)
	disconnected(mc *MinerConn)
}

// minerConnOptions are the per-listener settings a connection inherits.
type minerConnOptions struct {
	SubscriptionID    string
	Port              int
	ConnectionTimeout time.Duration
	Diff1             *big.Int
}

// MinerConn is one Stratum client.
type MinerConn struct {
	id             string
	subscriptionID string
	ctx            context.Context
	conn           net.Conn
	reader         *bufio.Reader
	writeMu        sync.Mutex
	handler        stratumHandler
	port           int
	timeout        time.Duration
	diff1          *big.Int
	now            func() time.Time

	stateMu            sync.Mutex
	remoteIP           string
	extraNonce1        string
	authorized         bool
	workerName         string
	workerPass         string
	difficulty         float64
	previousDifficulty float64
	pendingDifficulty  float64
	hasPending         bool
	diffChangedAt      time.Time
	connectedAt        time.Time
	lastActivity       time.Time
	sharesValid        int64
	sharesInvalid      int64
	vardiff            *vardiffState

	cleanupOnce sync.Once
}

// minerSnapshot is a consistent copy of the fields the share path needs.
type minerSnapshot struct {
	RemoteIP           string
	Port               int
	ExtraNonce1        string
	WorkerName         string
	Difficulty         float64
	PreviousDifficulty float64
	DiffChangedAt      time.Time
}
