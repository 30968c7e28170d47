package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/tinyland-inc/linecord/pkg/logger"
	"github.com/tinyland-inc/linecord/pkg/metrics"
	"github.com/tinyland-inc/linecord/pkg/store"
)

const DefaultWebhookName = "Linecord - Webhook"

// ErrChannelUnavailable means the configured channel could not be looked up
// or is not a guild text channel, so no webhook can be attached to it.
var ErrChannelUnavailable = errors.New("discord: channel unavailable for webhooks")

// ChannelAPI is the part of the Discord REST API the endpoint manager
// needs. *discordgo.Session implements it.
type ChannelAPI interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	WebhookCreate(channelID, name, avatar string, options ...discordgo.RequestOption) (*discordgo.Webhook, error)
}

// Endpoint is an incoming-webhook URL messages are posted to.
type Endpoint struct {
	ChannelID string
	URL       string
}

type EndpointConfig struct {
	GuildID     string
	ChannelID   string
	WebhookName string
}

// EndpointManager owns the single webhook of the configured channel.
type EndpointManager struct {
	api   ChannelAPI
	store store.Store
	cfg   EndpointConfig

	ensureMu sync.Mutex

	mu      sync.RWMutex
	current *Endpoint
}

func NewEndpointManager(api ChannelAPI, st store.Store, cfg EndpointConfig) *EndpointManager {
	if cfg.WebhookName == "" {
		cfg.WebhookName = DefaultWebhookName
	}
	return &EndpointManager{api: api, store: st, cfg: cfg}
}

// Current returns the cached endpoint. It never calls Discord.
func (m *EndpointManager) Current() (Endpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return Endpoint{}, false
	}
	return *m.current, true
}

// Ensure returns the channel's webhook, creating it if neither memory nor
// the store has one. Concurrent callers share one creation.
func (m *EndpointManager) Ensure(ctx context.Context) (Endpoint, error) {
	m.ensureMu.Lock()
	defer m.ensureMu.Unlock()

	if ep, ok := m.Current(); ok {
		return ep, nil
	}

	stored, ok, err := m.store.Get(ctx, store.KeyDiscordWebhook)
	if err != nil {
		return Endpoint{}, fmt.Errorf("discord: read stored webhook: %w", err)
	}
	if ok && stored != "" {
		logger.DebugC("discord", "Using stored webhook")
		return m.remember(stored), nil
	}

	ch, err := m.api.Channel(m.cfg.ChannelID, discordgo.WithContext(ctx))
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: lookup %s: %w", ErrChannelUnavailable, m.cfg.ChannelID, err)
	}
	if ch.Type != discordgo.ChannelTypeGuildText {
		return Endpoint{}, fmt.Errorf("%w: channel %s has type %d", ErrChannelUnavailable, ch.ID, ch.Type)
	}
	if m.cfg.GuildID != "" && ch.GuildID != m.cfg.GuildID {
		return Endpoint{}, fmt.Errorf("%w: channel %s belongs to guild %s", ErrChannelUnavailable, ch.ID, ch.GuildID)
	}

	wh, err := m.api.WebhookCreate(ch.ID, m.cfg.WebhookName, "", discordgo.WithContext(ctx))
	if err != nil {
		return Endpoint{}, fmt.Errorf("discord: create webhook: %w", err)
	}
	metrics.WebhookCreations.Inc()

	url := discordgo.EndpointWebhookToken(wh.ID, wh.Token)
	if err := m.store.Set(ctx, store.KeyDiscordWebhook, url); err != nil {
		// Still cached below, so this process will not create another.
		logger.ErrorCF("discord", "Failed to persist webhook", map[string]any{
			"error": err.Error(),
		})
	}

	logger.InfoCF("discord", "Created webhook", map[string]any{
		"channel_id": ch.ID,
		"webhook_id": wh.ID,
	})
	return m.remember(url), nil
}

func (m *EndpointManager) remember(url string) Endpoint {
	ep := Endpoint{ChannelID: m.cfg.ChannelID, URL: url}
	m.mu.Lock()
	m.current = &ep
	m.mu.Unlock()
	return ep
}
