package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hako/durafmt"
	proxyproto "github.com/pires/go-proxyproto"
	"github.com/remeh/sizedwaitgroup"
	hex "github.com/tmthrgd/go-hex"
)

type StratumServerConfig struct {
	Host                  string
	Ports                 []int
	ConnectionTimeout     time.Duration
	JobRebroadcastTimeout time.Duration
	TCPProxyProtocol      bool
	BroadcastConcurrency  int
	Diff1                 *big.Int
}

// StratumServer accepts miners on every configured port and fans jobs out
// to them.
type StratumServer struct {
	cfg     StratumServerConfig
	handler stratumHandler

	// onBroadcastTimeout fires when no job was broadcast for
	// JobRebroadcastTimeout.
	onBroadcastTimeout func()

	registry   *clientRegistry
	subCounter atomic.Int64

	listenersMu sync.Mutex
	listeners   []net.Listener

	timerMu     sync.Mutex
	rebroadcast *time.Timer

	connWg sync.WaitGroup
}

func NewStratumServer(cfg StratumServerConfig, handler stratumHandler, onBroadcastTimeout func()) *StratumServer {
	if cfg.BroadcastConcurrency <= 0 {
		cfg.BroadcastConcurrency = defaultBroadcastConcurrency
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = defaultConnectionTimeout
	}
	return &StratumServer{
		cfg:                cfg,
		handler:            handler,
		onBroadcastTimeout: onBroadcastTimeout,
		registry:           newClientRegistry(),
	}
}

// nextSubscriptionID renders the fixed prefix plus a little-endian counter.
func (s *StratumServer) nextSubscriptionID() string {
	n := s.subCounter.Add(1)
	return subscriptionIDPrefix + hex.EncodeToString(packInt64LE(n))
}

// Start opens one listener per port and returns once all are accepting.
func (s *StratumServer) Start(ctx context.Context) error {
	ports := append([]int(nil), s.cfg.Ports...)
	sort.Ints(ports)
	for _, port := range ports {
		addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			s.closeListeners()
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		var l net.Listener = ln
		if s.cfg.TCPProxyProtocol {
			l = &proxyproto.Listener{
				Listener:          ln,
				ReadHeaderTimeout: proxyHeaderTimeout,
				Policy: func(net.Addr) (proxyproto.Policy, error) {
					return proxyproto.REQUIRE, nil
				},
			}
		}
		s.listenersMu.Lock()
		s.listeners = append(s.listeners, l)
		s.listenersMu.Unlock()
		go s.serve(ctx, port, l)
	}
	go func() {
		<-ctx.Done()
		s.closeListeners()
	}()
	stratumLog.Debug("stratum server started", "ports", ports, "proxy_protocol", s.cfg.TCPProxyProtocol)
	return nil
}

func (s *StratumServer) serve(ctx context.Context, port int, l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			stratumLog.Error("accept error", "port", port, "error", err)
			continue
		}
		disableTCPNagle(conn)
		if tcp := findTCPConn(conn); tcp != nil {
			_ = tcp.SetKeepAlive(true)
		}
		s.serveConn(ctx, conn, port)
	}
}

// serveConn registers conn as a new client and runs it on its own
// goroutine.
func (s *StratumServer) serveConn(ctx context.Context, conn net.Conn, port int) *MinerConn {
	mc := newMinerConn(ctx, conn, s.handler, minerConnOptions{
		SubscriptionID:    s.nextSubscriptionID(),
		Port:              port,
		ConnectionTimeout: s.cfg.ConnectionTimeout,
		Diff1:             s.cfg.Diff1,
	})
	s.registry.add(mc)
	s.connWg.Add(1)
	go func() {
		defer s.connWg.Done()
		defer s.registry.remove(mc)
		mc.handle()
	}()
	return mc
}

// BroadcastMiningJobs sends params to every client and re-arms the
// rebroadcast timer.
func (s *StratumServer) BroadcastMiningJobs(params []any) {
	clients := s.registry.snapshot()
	swg := sizedwaitgroup.New(s.cfg.BroadcastConcurrency)
	for _, mc := range clients {
		swg.Add()
		go func(mc *MinerConn) {
			defer swg.Done()
			mc.sendMiningJob(params)
		}(mc)
	}
	swg.Wait()
	s.armRebroadcast()
}

func (s *StratumServer) armRebroadcast() {
	if s.cfg.JobRebroadcastTimeout <= 0 || s.onBroadcastTimeout == nil {
		return
	}
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.rebroadcast != nil {
		s.rebroadcast.Stop()
	}
	s.rebroadcast = time.AfterFunc(s.cfg.JobRebroadcastTimeout, func() {
		stratumLog.Debug("no new job broadcast, requesting template refresh",
			"after", durafmt.Parse(s.cfg.JobRebroadcastTimeout).LimitFirstN(2).String())
		s.onBroadcastTimeout()
	})
}

func (s *StratumServer) Clients() []*MinerConn {
	return s.registry.snapshot()
}

func (s *StratumServer) ClientCount() int {
	return s.registry.count()
}

func (s *StratumServer) WorkerCount() int {
	return s.registry.workerCount()
}

func (s *StratumServer) BindWorker(worker string, mc *MinerConn) {
	s.registry.bindWorker(worker, mc)
}

// WorkerClients returns the live connections authorized as worker.
func (s *StratumServer) WorkerClients(worker string) []*MinerConn {
	return s.registry.byWorkerName(worker)
}

func (s *StratumServer) RemoveClient(subscriptionID string) {
	if mc := s.registry.get(subscriptionID); mc != nil {
		mc.Close("removed")
	}
}

func (s *StratumServer) closeListeners() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	for _, l := range s.listeners {
		_ = l.Close()
	}
	s.listeners = nil
}

// Stop closes the listeners and every client, waiting up to timeout for
// their goroutines to exit.
func (s *StratumServer) Stop(timeout time.Duration) {
	s.closeListeners()
	s.timerMu.Lock()
	if s.rebroadcast != nil {
		s.rebroadcast.Stop()
	}
	s.timerMu.Unlock()

	start := time.Now()
	for _, mc := range s.registry.snapshot() {
		mc.Close("shutdown")
	}
	done := make(chan struct{})
	go func() {
		s.connWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		stratumLog.Warn("timed out waiting for miners to drain", "waited", time.Since(start))
	}
}

func disableTCPNagle(conn net.Conn) {
	if tcp := findTCPConn(conn); tcp != nil {
		_ = tcp.SetNoDelay(true)
	}
}

func findTCPConn(conn net.Conn) *net.TCPConn {
	type netConnGetter interface {
		NetConn() net.Conn
	}

	for i := 0; i < 4 && conn != nil; i++ {
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			return tcpConn
		}
		if pc, ok := conn.(*proxyproto.Conn); ok {
			conn = pc.Raw()
			continue
		}
		getter, ok := conn.(netConnGetter)
		if !ok {
			return nil
		}
		next := getter.NetConn()
		if next == nil || next == conn {
			return nil
		}
		conn = next
	}
	return nil
}
