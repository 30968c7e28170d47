// Package relay decides, for every LINE message, whether and what to post
// to Discord.
package relay

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tinyland-inc/linecord/pkg/bus"
	"github.com/tinyland-inc/linecord/pkg/logger"
	"github.com/tinyland-inc/linecord/pkg/metrics"
)

// Gate reports whether the Discord side can accept a message right now.
type Gate interface {
	CanDeliver() bool
}

type GateFunc func() bool

func (f GateFunc) CanDeliver() bool { return f() }

// Resolver turns attachment-bearing messages into URLs.
type Resolver interface {
	Sticker(msg bus.InboundMessage) (string, bool)
	Resolve(ctx context.Context, msg bus.InboundMessage) (string, error)
}

type Config struct {
	SquareChatMID string
}

type Engine struct {
	cfg      Config
	bus      *bus.MessageBus
	gate     Gate
	resolver Resolver

	wg sync.WaitGroup
}

func NewEngine(cfg Config, mb *bus.MessageBus, gate Gate, resolver Resolver) *Engine {
	return &Engine{cfg: cfg, bus: mb, gate: gate, resolver: resolver}
}

// Run consumes inbound messages until ctx is done or the bus closes, then
// waits for in-flight messages to finish.
func (e *Engine) Run(ctx context.Context) error {
	defer e.wg.Wait()

	for {
		msg, ok := e.bus.ConsumeInbound(ctx)
		if !ok {
			return nil
		}
		metrics.MessagesReceived.Inc()

		if msg.ChatID != e.cfg.SquareChatMID {
			metrics.MessagesDropped.WithLabelValues(metrics.DropOtherChat).Inc()
			metrics.MessagesHandled.Inc()
			continue
		}
		if !e.gate.CanDeliver() {
			metrics.MessagesDropped.WithLabelValues(metrics.DropNotReady).Inc()
			logger.DebugCF("relay", "Discord not ready, message dropped", map[string]any{
				"message_id": msg.MessageID,
			})
			metrics.MessagesHandled.Inc()
			continue
		}

		e.wg.Add(1)
		go func(msg bus.InboundMessage) {
			defer e.wg.Done()
			defer metrics.MessagesHandled.Inc()
			e.process(ctx, msg, uuid.NewString())
		}(msg)
	}
}

func (e *Engine) process(ctx context.Context, msg bus.InboundMessage, traceID string) {
	content, ok := e.render(ctx, msg, traceID)
	if !ok {
		return
	}

	out := bus.OutboundMessage{
		Content:   content,
		Username:  msg.Author.DisplayName,
		AvatarURL: msg.Author.IconURL,
		TraceID:   traceID,
	}
	if err := e.bus.PublishOutbound(ctx, out); err != nil {
		metrics.MessagesDropped.WithLabelValues(metrics.DropUndelivered).Inc()
		logger.WarnCF("relay", "Could not queue message", map[string]any{
			"trace_id": traceID,
			"error":    err.Error(),
		})
		return
	}

	logger.DebugCF("relay", "Relayed message", map[string]any{
		"trace_id":     traceID,
		"message_id":   msg.MessageID,
		"content_type": msg.ContentType.String(),
		"author":       msg.Author.DisplayName,
	})
}

// render returns the Discord content for msg, or false if nothing should
// be posted.
func (e *Engine) render(ctx context.Context, msg bus.InboundMessage, traceID string) (string, bool) {
	switch msg.ContentType {
	case bus.ContentSticker:
		if url, ok := e.resolver.Sticker(msg); ok {
			return url, true
		}
	case bus.ContentImage, bus.ContentVideo, bus.ContentFile:
		if msg.HasData {
			url, err := e.resolver.Resolve(ctx, msg)
			if err != nil {
				metrics.MessagesDropped.WithLabelValues(metrics.DropUnresolved).Inc()
				logger.WarnCF("relay", "Attachment not relayed", map[string]any{
					"trace_id":   traceID,
					"message_id": msg.MessageID,
					"error":      err.Error(),
				})
				return "", false
			}
			return url, true
		}
	case bus.ContentText, bus.ContentOther:
	}

	if msg.Text == "" {
		metrics.MessagesDropped.WithLabelValues(metrics.DropEmpty).Inc()
		return "", false
	}
	return SanitizeMentions(msg.Text), true
}

var mentionReplacer = strings.NewReplacer(
	"@everyone", "@ everyone",
	"@here", "@ here",
)

// SanitizeMentions breaks every @everyone and @here so Discord does not
// ping the channel.
func SanitizeMentions(text string) string {
	return mentionReplacer.Replace(text)
}
