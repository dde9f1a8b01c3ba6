package main

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestStratumServer(t *testing.T, h stratumHandler, onTimeout func(), rebroadcast time.Duration) *StratumServer {
	t.Helper()
	return NewStratumServer(StratumServerConfig{
		Host:                  "127.0.0.1",
		Ports:                 []int{0},
		ConnectionTimeout:     time.Minute,
		JobRebroadcastTimeout: rebroadcast,
		Diff1:                 testAlgorithm(t).Diff1(),
	}, h, onTimeout)
}

func TestStratumServerSubscriptionIDs(t *testing.T) {
	s := newTestStratumServer(t, &fakeStratumHandler{}, nil, 0)
	if got := s.nextSubscriptionID(); got != "deadbeefcafebabe0100000000000000" {
		t.Fatalf("first subscription id = %s", got)
	}
	if got := s.nextSubscriptionID(); got != "deadbeefcafebabe0200000000000000" {
		t.Fatalf("second subscription id = %s", got)
	}
}

func TestStratumServerRegistersAndRemovesClients(t *testing.T) {
	h := &fakeStratumHandler{}
	s := newTestStratumServer(t, h, nil, 0)
	server, client := net.Pipe()
	mc := s.serveConn(context.Background(), server, 3032)

	if s.ClientCount() != 1 || mc.Port() != 3032 {
		t.Fatalf("client count %d port %d", s.ClientCount(), mc.Port())
	}
	s.BindWorker("RWorker.rig1", mc)
	if s.WorkerCount() != 1 || len(s.WorkerClients("RWorker.rig1")) != 1 {
		t.Fatalf("worker index not updated")
	}
	_ = client.Close()
	waitFor(t, "client removal", func() bool { return s.ClientCount() == 0 })
	if s.WorkerCount() != 0 {
		t.Fatalf("worker index should drop closed clients")
	}
	if h.disconnects() != 1 {
		t.Fatalf("disconnected calls = %d", h.disconnects())
	}
}

func TestStratumServerBroadcastAndRebroadcastTimer(t *testing.T) {
	var timeouts atomic.Int32
	s := newTestStratumServer(t, &fakeStratumHandler{}, func() { timeouts.Add(1) }, 50*time.Millisecond)
	server, client := net.Pipe()
	defer client.Close()
	s.serveConn(context.Background(), server, 3032)

	lines := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(client).ReadString('\n')
		lines <- line
	}()
	s.BroadcastMiningJobs([]any{"cccd", "04000000", "", "", "", "", "", true})
	select {
	case line := <-lines:
		if !strings.Contains(line, `"method":"mining.notify"`) || !strings.Contains(line, `"cccd"`) {
			t.Fatalf("unexpected broadcast %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("client never received the job")
	}
	waitFor(t, "rebroadcast timeout", func() bool { return timeouts.Load() >= 1 })
	s.Stop(time.Second)
}

func TestStratumServerAcceptsTCP(t *testing.T) {
	h := &fakeStratumHandler{extraNonce1: "08000000"}
	s := newTestStratumServer(t, h, nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.listenersMu.Lock()
	addr := s.listeners[0].Addr().String()
	s.listenersMu.Unlock()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte(`{"id":1,"method":"mining.subscribe","params":["test/1.0"]}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(line, `"result":[null,"08000000"]`) {
		t.Fatalf("subscribe reply = %q", line)
	}
	clients := s.Clients()
	if len(clients) != 1 || clients[0].RemoteIP() != "127.0.0.1" {
		t.Fatalf("clients = %d", len(clients))
	}
	s.Stop(time.Second)
	if s.ClientCount() != 0 {
		t.Fatalf("stop should drain clients, %d left", s.ClientCount())
	}
}

func TestClientRegistryBindWorkerMoves(t *testing.T) {
	r := newClientRegistry()
	a := &MinerConn{subscriptionID: "a"}
	b := &MinerConn{subscriptionID: "b"}
	r.add(a)
	r.add(b)
	r.add(&MinerConn{})
	if r.count() != 2 {
		t.Fatalf("count = %d", r.count())
	}
	r.bindWorker("w1", a)
	r.bindWorker("w1", b)
	r.bindWorker("w2", a)
	if got := len(r.byWorkerName("w1")); got != 1 {
		t.Fatalf("w1 connections = %d", got)
	}
	if r.workerCount() != 2 {
		t.Fatalf("worker count = %d", r.workerCount())
	}
	r.remove(a)
	if r.get("a") != nil || r.workerCount() != 1 {
		t.Fatalf("remove should clear client and index")
	}
	r.bindWorker("", b)
	if len(r.byWorkerName("")) != 0 {
		t.Fatalf("empty worker names must not be indexed")
	}
}
