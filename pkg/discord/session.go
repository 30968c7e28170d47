// Package discord is the Discord side of the bridge: a bot session that
// tracks readiness, a manager for the channel's incoming webhook and a
// dispatcher that posts relayed messages to it.
package discord

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/tinyland-inc/linecord/pkg/logger"
	"github.com/tinyland-inc/linecord/pkg/store"
)

const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsGuildWebhooks |
	discordgo.IntentsMessageContent

type Config struct {
	Token string
	EndpointConfig
}

// conn is the websocket half of *discordgo.Session.
type conn interface {
	Open() error
	Close() error
}

type Session struct {
	conn      conn
	endpoints *EndpointManager
	// events holds at most the latest undelivered readiness state.
	events   chan bool
	notifyMu sync.Mutex
	running  atomic.Bool
	ready    atomic.Bool
}

// New builds a bot session for cfg.Token. The webhook endpoint manager
// shares the session's REST client.
func New(cfg Config, st store.Store) (*Session, error) {
	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	dg.Identify.Intents = Intents

	s := newSession(dg, NewEndpointManager(dg, st, cfg.EndpointConfig))
	dg.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		logger.InfoCF("discord", "Bot ready", map[string]any{
			"user": r.User.Username,
		})
		s.notify(true)
	})
	dg.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		s.notify(false)
	})
	return s, nil
}

func newSession(c conn, endpoints *EndpointManager) *Session {
	return &Session{
		conn:      c,
		endpoints: endpoints,
		events:    make(chan bool, 1),
	}
}

func (s *Session) Endpoints() *EndpointManager { return s.endpoints }

func (s *Session) IsReady() bool { return s.ready.Load() }

func (s *Session) IsRunning() bool { return s.running.Load() }

// notify is called from discordgo's event goroutines; the Run loop does
// the actual work. A state the loop has not picked up yet is replaced, so
// the most recent transition always lands.
func (s *Session) notify(ready bool) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	select {
	case <-s.events:
	default:
	}
	s.events <- ready
}

// Run opens the gateway connection and processes readiness transitions
// until ctx is done. Every Ready makes sure the webhook exists.
func (s *Session) Run(ctx context.Context) error {
	if err := s.conn.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	s.running.Store(true)
	logger.InfoC("discord", "Gateway connection opened")

	defer func() {
		s.running.Store(false)
		s.ready.Store(false)
		if err := s.conn.Close(); err != nil {
			logger.WarnCF("discord", "Close failed", map[string]any{"error": err.Error()})
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ready := <-s.events:
			if !ready {
				s.ready.Store(false)
				logger.WarnC("discord", "Gateway disconnected")
				continue
			}
			s.ready.Store(true)
			if _, err := s.endpoints.Ensure(ctx); err != nil {
				logger.ErrorCF("discord", "Webhook unavailable, delivery disabled", map[string]any{
					"error": err.Error(),
				})
			}
		}
	}
}

// CanDeliver reports whether the bot is connected and the webhook is known.
// It never creates the webhook.
func (s *Session) CanDeliver() bool {
	if !s.ready.Load() {
		return false
	}
	_, ok := s.endpoints.Current()
	return ok
}
