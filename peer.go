package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/wire"
	hex "github.com/tmthrgd/go-hex"
)

const (
	peerUserAgent      = "equipool"
	peerDialTimeout    = 10 * time.Second
	peerReconnectDelay = 5 * time.Second
)

type PeerConfig struct {
	Host                string
	Port                int
	Magic               string
	ProtocolVersion     uint32
	DisableTransactions bool
}

// parsePeerMagic reads the configured 4 byte network magic the way it
// appears on the wire.
func parsePeerMagic(s string) (wire.BitcoinNet, error) {
	var b [4]byte
	if err := decodeHexToFixedBytes(b[:], s); err != nil {
		return 0, fmt.Errorf("peer magic %q: %w", s, err)
	}
	return wire.BitcoinNet(binary.LittleEndian.Uint32(b[:])), nil
}

// Peer is a minimal P2P client that only listens for block inventory
// announcements.
type Peer struct {
	cfg     PeerConfig
	net     wire.BitcoinNet
	onBlock func(hash string)

	writeMu     sync.Mutex
	conn        net.Conn
	verack      atomic.Bool
	validConfig atomic.Bool
}

func NewPeer(cfg PeerConfig, onBlock func(hash string)) (*Peer, error) {
	magic, err := parsePeerMagic(cfg.Magic)
	if err != nil {
		return nil, err
	}
	p := &Peer{cfg: cfg, net: magic, onBlock: onBlock}
	p.validConfig.Store(true)
	return p, nil
}

// Run keeps a session open until ctx ends, the peer refuses the
// connection or a session ends before the handshake completed.
func (p *Peer) Run(ctx context.Context) {
	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	p2pLog.Debug("p2p connecting", "addr", addr, "magic", p.magicHex(), "protocol", p.cfg.ProtocolVersion)
	for ctx.Err() == nil {
		var d net.Dialer
		dialCtx, cancel := context.WithTimeout(ctx, peerDialTimeout)
		conn, err := d.DialContext(dialCtx, "tcp", addr)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, syscall.ECONNREFUSED) {
				p2pLog.Error("p2p connection refused, check p2p host and port", "addr", addr)
				p.validConfig.Store(false)
				return
			}
			p2pLog.Error("p2p socket error", "addr", addr, "error", err)
			if sleepContext(ctx, peerReconnectDelay) != nil {
				return
			}
			continue
		}

		err = p.session(ctx, conn)
		handshook := p.verack.Swap(false)
		if ctx.Err() != nil {
			return
		}
		if !handshook {
			p2pLog.Error("p2p connection rejected", "addr", addr, "error", err)
			return
		}
		p2pLog.Error("p2p peer disconnected, reconnecting", "addr", addr, "error", err)
		if sleepContext(ctx, peerReconnectDelay) != nil {
			return
		}
	}
}

func (p *Peer) ValidConfig() bool {
	return p.validConfig.Load()
}

func (p *Peer) Connected() bool {
	return p.verack.Load()
}

func (p *Peer) session(ctx context.Context, conn net.Conn) error {
	p.writeMu.Lock()
	p.conn = conn
	p.writeMu.Unlock()
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := p.sendVersion(); err != nil {
		return err
	}
	for {
		_, msg, _, err := wire.ReadMessageWithEncodingN(conn, p.cfg.ProtocolVersion, p.net, wire.BaseEncoding)
		if err != nil {
			var msgErr *wire.MessageError
			if errors.As(err, &msgErr) {
				// Unknown commands, bad magic or bad checksums are skipped.
				if debugLogging {
					p2pLog.Debug("p2p message skipped", "error", err)
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return err
		}
		p.handleMessage(msg)
	}
}

func (p *Peer) handleMessage(msg wire.Message) {
	switch m := msg.(type) {
	case *wire.MsgInv:
		for _, iv := range m.InvList {
			if iv.Type == wire.InvTypeBlock && p.onBlock != nil {
				p.onBlock(iv.Hash.String())
			}
		}
	case *wire.MsgVerAck:
		if !p.verack.Swap(true) {
			p2pLog.Info("p2p connected")
		}
	case *wire.MsgPing:
		if err := p.send(wire.NewMsgPong(m.Nonce)); err != nil {
			p2pLog.Warn("p2p pong failed", "error", err)
		}
	case *wire.MsgVersion:
		if err := p.send(wire.NewMsgVerAck()); err != nil {
			p2pLog.Warn("p2p verack failed", "error", err)
		}
	}
}

func (p *Peer) sendVersion() error {
	empty := wire.NewNetAddressIPPort(net.IPv4zero, 0, wire.SFNodeNetwork)
	nonce, err := wire.RandomUint64()
	if err != nil {
		return err
	}
	msg := wire.NewMsgVersion(empty, empty, nonce, 0)
	msg.ProtocolVersion = int32(p.cfg.ProtocolVersion)
	msg.Services = wire.SFNodeNetwork
	msg.UserAgent = "/" + peerUserAgent + "/"
	msg.DisableRelayTx = p.cfg.DisableTransactions
	return p.send(msg)
}

func (p *Peer) send(msg wire.Message) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.conn == nil {
		return net.ErrClosed
	}
	_, err := wire.WriteMessageWithEncodingN(p.conn, msg, p.cfg.ProtocolVersion, p.net, wire.BaseEncoding)
	if err == nil && debugLogging {
		p2pLog.Debug("p2p message sent", "command", msg.Command())
	}
	return err
}

// magicHex renders the network magic in configured byte order.
func (p *Peer) magicHex() string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(p.net))
	return hex.EncodeToString(b[:])
}
