package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	proxyproto "github.com/pires/go-proxyproto"
)

func newMinerConn(ctx context.Context, c net.Conn, handler stratumHandler, opts minerConnOptions) *MinerConn {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.ConnectionTimeout <= 0 {
		opts.ConnectionTimeout = defaultConnectionTimeout
	}
	now := time.Now()
	return &MinerConn{
		subscriptionID: opts.SubscriptionID,
		ctx:            ctx,
		conn:           c,
		reader:         bufio.NewReaderSize(c, maxStratumMessageSize),
		handler:        handler,
		port:           opts.Port,
		timeout:        opts.ConnectionTimeout,
		diff1:          opts.Diff1,
		now:            time.Now,
		connectedAt:    now,
		lastActivity:   now,
	}
}

func (mc *MinerConn) cleanup() {
	mc.cleanupOnce.Do(func() {
		if mc.conn != nil {
			_ = mc.conn.Close()
		}
		if mc.handler != nil {
			mc.handler.disconnected(mc)
		}
	})
}

func (mc *MinerConn) Close(reason string) {
	if reason == "" {
		reason = "shutdown"
	}
	stratumLog.Debug("closing miner", "client", mc.Label(), "reason", reason)
	mc.cleanup()
}

// Label renders the client as worker [ip] for log lines.
func (mc *MinerConn) Label() string {
	mc.stateMu.Lock()
	defer mc.stateMu.Unlock()
	name := mc.workerName
	if name == "" {
		name = "(unauthorized)"
	}
	ip := mc.remoteIP
	if ip == "" {
		ip = mc.id
	}
	return name + " [" + ip + "]"
}

func (mc *MinerConn) SubscriptionID() string { return mc.subscriptionID }
func (mc *MinerConn) Port() int              { return mc.port }

func (mc *MinerConn) RemoteIP() string {
	mc.stateMu.Lock()
	defer mc.stateMu.Unlock()
	return mc.remoteIP
}

func (mc *MinerConn) WorkerName() string {
	mc.stateMu.Lock()
	defer mc.stateMu.Unlock()
	return mc.workerName
}

func (mc *MinerConn) Authorized() bool {
	mc.stateMu.Lock()
	defer mc.stateMu.Unlock()
	return mc.authorized
}

func (mc *MinerConn) ExtraNonce1() string {
	mc.stateMu.Lock()
	defer mc.stateMu.Unlock()
	return mc.extraNonce1
}

func (mc *MinerConn) Difficulty() float64 {
	mc.stateMu.Lock()
	defer mc.stateMu.Unlock()
	return mc.difficulty
}

func (mc *MinerConn) snapshot() minerSnapshot {
	mc.stateMu.Lock()
	defer mc.stateMu.Unlock()
	return minerSnapshot{
		RemoteIP:           mc.remoteIP,
		Port:               mc.port,
		ExtraNonce1:        mc.extraNonce1,
		WorkerName:         mc.workerName,
		Difficulty:         mc.difficulty,
		PreviousDifficulty: mc.previousDifficulty,
		DiffChangedAt:      mc.diffChangedAt,
	}
}

func (mc *MinerConn) setVarDiff(state *vardiffState) {
	mc.stateMu.Lock()
	mc.vardiff = state
	mc.stateMu.Unlock()
}

func (mc *MinerConn) varDiff() *vardiffState {
	mc.stateMu.Lock()
	defer mc.stateMu.Unlock()
	return mc.vardiff
}

func (mc *MinerConn) recordShare(valid bool) {
	mc.stateMu.Lock()
	if valid {
		mc.sharesValid++
	} else {
		mc.sharesInvalid++
	}
	mc.stateMu.Unlock()
}

func (mc *MinerConn) shareCounts() (valid, invalid int64) {
	mc.stateMu.Lock()
	defer mc.stateMu.Unlock()
	return mc.sharesValid, mc.sharesInvalid
}

func (mc *MinerConn) touch(now time.Time) {
	mc.stateMu.Lock()
	mc.lastActivity = now
	mc.stateMu.Unlock()
}

func (mc *MinerConn) idleFor(now time.Time) time.Duration {
	mc.stateMu.Lock()
	defer mc.stateMu.Unlock()
	return now.Sub(mc.lastActivity)
}

// resolveRemote reads the peer address. Behind a PROXY protocol listener
// this consumes the header, so it runs on the connection goroutine.
func (mc *MinerConn) resolveRemote() {
	addr := mc.conn.RemoteAddr()
	remote := ""
	if addr != nil {
		remote = addr.String()
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	mc.stateMu.Lock()
	mc.id = remote
	mc.remoteIP = host
	mc.stateMu.Unlock()
}

// isProxyProtocolError matches header failures from the PROXY listener.
func isProxyProtocolError(err error) bool {
	if errors.Is(err, proxyproto.ErrNoProxyProtocol) {
		return true
	}
	return strings.HasPrefix(err.Error(), "proxyproto:")
}

func (mc *MinerConn) handle() {
	defer mc.cleanup()
	mc.resolveRemote()
	stratumLog.Debug("miner connected", "client", mc.Label(), "subscription", mc.subscriptionID)

	var partial []byte
	for {
		if mc.ctx.Err() != nil {
			return
		}
		if err := mc.conn.SetReadDeadline(mc.now().Add(stratumReadPoll)); err != nil {
			if mc.ctx.Err() == nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
				stratumLog.Error("set read deadline failed", "client", mc.Label(), "error", err)
			}
			return
		}

		chunk, err := mc.reader.ReadSlice('\n')
		if len(partial)+len(chunk) > maxStratumMessageSize || errors.Is(err, bufio.ErrBufferFull) {
			stratumLog.Warn("detected socket flooding", "client", mc.Label(), "limit_bytes", maxStratumMessageSize)
			return
		}
		if err != nil {
			var nErr net.Error
			switch {
			case errors.As(err, &nErr) && nErr.Timeout():
				partial = append(partial, chunk...)
				if idle := mc.idleFor(mc.now()); idle > mc.timeout {
					stratumLog.Debug("closing idle miner", "client", mc.Label(), "idle", idle)
					return
				}
				continue
			case isProxyProtocolError(err):
				stratumLog.Error("client IP detection failed, tcp proxy protocol is enabled yet did not receive proxy protocol message",
					"client", mc.Label(), "error", err)
				return
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
				return
			default:
				stratumLog.Warn("socket error", "client", mc.Label(), "error", err)
				return
			}
		}

		line := append(partial, chunk...)
		partial = nil
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var req StratumRequest
		if err := fastJSONUnmarshal(line, &req); err != nil {
			stratumLog.Warn("malformed message", "client", mc.Label(), "message", truncateForLog(line, 256))
			return
		}
		if !mc.dispatch(&req) {
			return
		}
	}
}

// dispatch runs one request and reports whether the connection stays open.
func (mc *MinerConn) dispatch(req *StratumRequest) bool {
	switch req.Method {
	case "mining.subscribe":
		mc.handleSubscribe(req)
	case "mining.authorize":
		return mc.handleAuthorize(req)
	case "mining.submit":
		mc.touch(mc.now())
		return mc.handleSubmit(req)
	case "mining.get_transactions":
		mc.writeResponse(StratumResponse{ID: nil, Result: []any{}, Error: true})
	case "mining.extranonce.subscribe":
		mc.writeResponse(StratumResponse{ID: req.ID, Result: false, Error: newStratumError(errCodeOther, "Not supported.")})
	default:
		stratumLog.Debug("unknown stratum method", "client", mc.Label(), "method", req.Method)
	}
	return true
}

func truncateForLog(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "...(" + strconv.Itoa(len(b)) + " bytes)"
}

func paramString(params []any, idx int) (string, bool) {
	if idx >= len(params) {
		return "", false
	}
	s, ok := params[idx].(string)
	return s, ok
}
