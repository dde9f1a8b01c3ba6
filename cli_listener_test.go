package main

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCLITokenRoundTrip(t *testing.T) {
	now := time.Now()
	token, err := signCLIToken("correct-horse", now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := verifyCLIToken("correct-horse", token); err != nil {
		t.Fatalf("verify: %v", err)
	}

	tests := []struct {
		name   string
		secret string
		token  string
	}{
		{"wrong secret", "battery-staple", token},
		{"empty secret", "", token},
		{"empty token", "correct-horse", ""},
		{"garbage token", "correct-horse", "not.a.jwt"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := verifyCLIToken(tc.secret, tc.token); err == nil {
				t.Fatalf("expected rejection")
			}
		})
	}

	expired, err := signCLIToken("correct-horse", now.Add(-2*cliTokenTTL))
	if err != nil {
		t.Fatalf("sign expired: %v", err)
	}
	if err := verifyCLIToken("correct-horse", expired); err == nil {
		t.Fatalf("expired token accepted")
	}
}

func TestGenerateCLISecret(t *testing.T) {
	a := generateCLISecret()
	b := generateCLISecret()
	if a == "" || a == b {
		t.Fatalf("secrets should be non-empty and distinct: %q %q", a, b)
	}
	if n := len(strings.Split(a, "-")); n != 6 {
		t.Fatalf("expected 6 words, got %d in %q", n, a)
	}
}

func TestCLIListenerRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []cliMessage
	handler := func(_ context.Context, msg cliMessage) string {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
		return "ok:" + msg.Command
	}
	l := newCLIListener("127.0.0.1:0", "s3cret", handler)
	if err := l.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	addr := l.Addr().String()

	reply, err := sendCLICommand(ctx, addr, "s3cret", "blocknotify", []string{"KMD", "00ab"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply != "ok:blocknotify" {
		t.Fatalf("reply = %q", reply)
	}
	mu.Lock()
	if len(got) != 1 || len(got[0].Params) != 2 || got[0].Params[1] != "00ab" {
		t.Fatalf("handler saw %+v", got)
	}
	mu.Unlock()

	reply, err = sendCLICommand(ctx, addr, "wrong", "stats", nil)
	if err != nil {
		t.Fatalf("send with wrong secret: %v", err)
	}
	if reply != "unauthorized" {
		t.Fatalf("reply = %q, want unauthorized", reply)
	}
	mu.Lock()
	if len(got) != 1 {
		t.Fatalf("unauthorized command reached the handler")
	}
	mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		l.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("listener did not stop")
	}
}

func TestSendCLICommandNoListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = sendCLICommand(ctx, addr, "s3cret", "stats", nil)
	if err == nil || !strings.Contains(err.Error(), "could not connect") {
		t.Fatalf("expected connect error, got %v", err)
	}
}
