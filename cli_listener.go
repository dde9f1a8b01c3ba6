package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/martinhoefling/goxkcdpwgen/xkcdpwgen"
)

const (
	cliMaxMessageSize = 64 * 1024
	cliIOTimeout      = 10 * time.Second
	cliTokenTTL       = time.Minute
	cliTokenSubject   = "cli"
)

var errCLIUnauthorized = errors.New("cli token rejected")

// cliMessage is one newline-terminated request on the control socket.
type cliMessage struct {
	Command string         `json:"command"`
	Params  []string       `json:"params"`
	Options map[string]any `json:"options"`
}

// generateCLISecret returns a fresh passphrase for signing CLI tokens.
func generateCLISecret() string {
	g := xkcdpwgen.NewGenerator()
	g.SetNumWords(6)
	g.SetCapitalize(false)
	g.SetDelimiter("-")
	return strings.TrimSpace(g.GeneratePasswordString())
}

func signCLIToken(secret string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   cliTokenSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(cliTokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func verifyCLIToken(secret, token string) error {
	if secret == "" || token == "" {
		return errCLIUnauthorized
	}
	claims := &jwt.RegisteredClaims{}
	keyFunc := func(*jwt.Token) (any, error) { return []byte(secret), nil }
	tok, err := jwt.ParseWithClaims(token, claims, keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(cliTokenSubject),
		jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("%w: %v", errCLIUnauthorized, err)
	}
	if !tok.Valid {
		return errCLIUnauthorized
	}
	return nil
}

// cliCommandHandler runs a verified command and returns the reply text.
type cliCommandHandler func(ctx context.Context, msg cliMessage) string

// cliListener serves the local control socket.
type cliListener struct {
	addr    string
	secret  string
	handler cliCommandHandler

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

func newCLIListener(addr, secret string, handler cliCommandHandler) *cliListener {
	return &cliListener{addr: addr, secret: secret, handler: handler}
}

func (l *cliListener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("cli listen %s: %w", l.addr, err)
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()
	cliLog.Info("CLI listening on " + ln.Addr().String())

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		<-ctx.Done()
		_ = ln.Close()
	}()
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				cliLog.Warn("cli accept failed", "error", err)
				continue
			}
			l.wg.Add(1)
			go func() {
				defer l.wg.Done()
				l.serve(ctx, conn)
			}()
		}
	}()
	return nil
}

func (l *cliListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

func (l *cliListener) Wait() {
	l.wg.Wait()
}

func (l *cliListener) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(cliIOTimeout))

	reader := bufio.NewReaderSize(io.LimitReader(conn, cliMaxMessageSize), 4096)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		cliLog.Warn("CLI listener failed to read message", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}
	var msg cliMessage
	if err := fastJSONUnmarshal(line, &msg); err != nil {
		cliLog.Warn("CLI listener failed to parse message " + truncateForLog(line, 128))
		return
	}
	token, _ := msg.Options["token"].(string)
	if err := verifyCLIToken(l.secret, token); err != nil {
		cliLog.Warn("CLI command rejected", "command", msg.Command, "error", err)
		_, _ = io.WriteString(conn, "unauthorized")
		return
	}
	reply := l.handler(ctx, msg)
	_, _ = io.WriteString(conn, reply)
}

// handleCLICommand dispatches the commands the pool understands.
func (p *Pool) handleCLICommand(ctx context.Context, msg cliMessage) string {
	switch msg.Command {
	case "blocknotify":
		// Params are [coin, hash] as sent by the daemon hook; a bare hash
		// is accepted too.
		if len(msg.Params) == 0 {
			return "blocknotify requires a block hash"
		}
		hash := msg.Params[len(msg.Params)-1]
		p.goTask(func() { p.processBlockNotify(p.ctx, hash, "cli") })
		return "Workers notified"
	case "stats":
		return cliJSON(p.metrics.Snapshot())
	case "workers":
		return cliJSON(p.connectedWorkers())
	case "daemons":
		return cliJSON(p.daemon.Status())
	case "kick":
		if len(msg.Params) == 0 {
			return "kick requires a worker name"
		}
		return p.kickWorker(msg.Params[0])
	case "shares":
		if len(msg.Params) == 0 {
			return "shares requires a worker name"
		}
		return p.workerShares(msg.Params[0])
	case "block":
		if len(msg.Params) == 0 {
			return "block requires a height"
		}
		return p.blockStatus(msg.Params[0])
	default:
		return fmt.Sprintf("unrecognized command %q", msg.Command)
	}
}

func cliJSON(v any) string {
	data, err := fastJSONMarshal(v)
	if err != nil {
		return "encode reply: " + err.Error()
	}
	return string(data)
}

type cliWorker struct {
	Worker        string  `json:"worker"`
	IP            string  `json:"ip"`
	Port          int     `json:"port"`
	Difficulty    float64 `json:"difficulty"`
	ValidShares   int64   `json:"valid_shares"`
	InvalidShares int64   `json:"invalid_shares"`
}

func (p *Pool) connectedWorkers() []cliWorker {
	if p.stratum == nil {
		return nil
	}
	clients := p.stratum.Clients()
	out := make([]cliWorker, 0, len(clients))
	for _, mc := range clients {
		if !mc.Authorized() {
			continue
		}
		valid, invalid := mc.shareCounts()
		out = append(out, cliWorker{
			Worker:        mc.WorkerName(),
			IP:            mc.RemoteIP(),
			Port:          mc.Port(),
			Difficulty:    mc.Difficulty(),
			ValidShares:   valid,
			InvalidShares: invalid,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Worker < out[j].Worker })
	return out
}

// kickWorker drops every connection authorized as worker.
func (p *Pool) kickWorker(worker string) string {
	if p.stratum == nil {
		return "stratum server not running"
	}
	clients := p.stratum.WorkerClients(worker)
	for _, mc := range clients {
		p.stratum.RemoveClient(mc.SubscriptionID())
	}
	cliLog.Info("kicked worker", "worker", worker, "connections", len(clients))
	return fmt.Sprintf("Disconnected %d connection(s) for %s", len(clients), worker)
}

// workerShares reports the flushed share counters of one worker.
func (p *Pool) workerShares(worker string) string {
	if p.state == nil {
		return "state db not attached"
	}
	row, ok, err := p.state.WorkerShares(worker)
	if err != nil {
		return "query worker shares: " + err.Error()
	}
	if !ok {
		return fmt.Sprintf("no shares recorded for %s", worker)
	}
	return cliJSON(row)
}

func (p *Pool) blockStatus(heightText string) string {
	if p.state == nil {
		return "state db not attached"
	}
	height, err := strconv.ParseInt(strings.TrimSpace(heightText), 10, 64)
	if err != nil {
		return fmt.Sprintf("invalid height %q", heightText)
	}
	status, ok, err := p.state.BlockStatus(height)
	if err != nil {
		return "query block status: " + err.Error()
	}
	if !ok {
		return fmt.Sprintf("no block found by the pool at height %d", height)
	}
	return fmt.Sprintf("block %d: %s", height, status)
}

// sendCLICommand signs a token with secret and runs command against the
// control socket at addr, returning the reply.
func sendCLICommand(ctx context.Context, addr, secret, command string, params []string) (string, error) {
	token, err := signCLIToken(secret, time.Now())
	if err != nil {
		return "", err
	}
	payload, err := fastJSONMarshal(cliMessage{
		Command: command,
		Params:  params,
		Options: map[string]any{"token": token},
	})
	if err != nil {
		return "", err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("could not connect to pool instance at %s: %w", addr, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(cliIOTimeout))
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return "", err
	}
	reply, err := io.ReadAll(io.LimitReader(conn, cliMaxMessageSize))
	if err != nil {
		return "", err
	}
	return string(reply), nil
}
