package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	discordSendInterval     = 10 * time.Second
	discordMaxQueued        = 16
	discordMaxMessageLength = 1000
)

// discordSender is the part of *discordgo.Session the notifier uses.
type discordSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// discordNotifier posts block events to one channel. Messages are queued
// and sent at most once per interval, oldest first.
type discordNotifier struct {
	sender    discordSender
	channelID string
	prefix    string

	mu      sync.Mutex
	queue   []string
	dropped int
}

func newDiscordNotifier(cfg Config) (*discordNotifier, error) {
	token := strings.TrimSpace(cfg.DiscordBotToken)
	if token == "" {
		return nil, nil
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	return &discordNotifier{
		sender:    dg,
		channelID: strings.TrimSpace(cfg.DiscordNotifyChannelID),
		prefix:    "[" + strings.ToUpper(cfg.CoinSymbol) + "] ",
	}, nil
}

func (n *discordNotifier) enqueue(msg string) {
	if n == nil {
		return
	}
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}
	msg = n.prefix + msg
	if len(msg) > discordMaxMessageLength {
		msg = msg[:discordMaxMessageLength]
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.queue) >= discordMaxQueued {
		n.dropped++
		return
	}
	n.queue = append(n.queue, msg)
}

func (n *discordNotifier) NotifyBlockFound(evt shareEvent) {
	n.enqueue(fmt.Sprintf("Block %d found by %s. Hash: %s", evt.Height, evt.Worker, evt.BlockHash))
}

func (n *discordNotifier) NotifyBlockOrphaned(evt shareEvent) {
	n.enqueue(fmt.Sprintf("Block %d (%s) was not accepted by the network", evt.Height, shortHash(evt.BlockHash)))
}

func (n *discordNotifier) run(ctx context.Context) {
	ticker := time.NewTicker(discordSendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.sendNext()
		}
	}
}

// sendNext sends the oldest queued message. It stays queued after a
// transient failure.
func (n *discordNotifier) sendNext() {
	n.mu.Lock()
	if len(n.queue) == 0 {
		n.mu.Unlock()
		return
	}
	msg := n.queue[0]
	n.mu.Unlock()

	_, err := n.sender.ChannelMessageSendComplex(n.channelID, &discordgo.MessageSend{
		Content:         msg,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	})
	if err != nil {
		discordLog.Warn("discord notify send failed", "error", err)
		if !isDiscordPermanentError(err) {
			return
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.queue) > 0 {
		n.queue = n.queue[1:]
	}
	if n.dropped > 0 && len(n.queue) < discordMaxQueued {
		n.queue = append(n.queue, n.prefix+fmt.Sprintf("Notification backlog full; dropped %d updates.", n.dropped))
		n.dropped = 0
	}
}

func isDiscordPermanentError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, discordgo.ErrUnauthorized) {
		return true
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return true
		}
	}
	return false
}
