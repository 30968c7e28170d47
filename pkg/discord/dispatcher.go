package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"github.com/tinyland-inc/linecord/pkg/bus"
	"github.com/tinyland-inc/linecord/pkg/logger"
	"github.com/tinyland-inc/linecord/pkg/metrics"
)

// DeliveryError is a webhook POST that failed in transport or was answered
// with a non-2xx status.
type DeliveryError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return "discord: webhook delivery failed: " + e.Err.Error()
	}
	return fmt.Sprintf("discord: webhook returned %d: %s", e.StatusCode, e.Body)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type EndpointSource interface {
	Current() (Endpoint, bool)
}

// MaxInFlight bounds concurrent webhook POSTs.
const MaxInFlight = 16

// Dispatcher posts outbound messages to the current webhook endpoint.
// Each message is delivered on its own goroutine, so a hung POST holds up
// only that message. Failed deliveries are logged and dropped.
type Dispatcher struct {
	bus       *bus.MessageBus
	endpoints EndpointSource
	http      *resty.Client
}

func NewDispatcher(mb *bus.MessageBus, endpoints EndpointSource, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		bus:       mb,
		endpoints: endpoints,
		http:      resty.New().SetTimeout(timeout),
	}
}

// Run delivers outbound messages until ctx is done or the bus closes, then
// waits for in-flight deliveries.
func (d *Dispatcher) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(MaxInFlight)
	defer g.Wait()

	for {
		msg, ok := d.bus.SubscribeOutbound(ctx)
		if !ok {
			return nil
		}
		g.Go(func() error {
			if err := d.Deliver(ctx, msg); err != nil {
				logger.ErrorCF("discord", "Delivery failed", map[string]any{
					"trace_id": msg.TraceID,
					"error":    err.Error(),
				})
			}
			return nil
		})
	}
}

func (d *Dispatcher) Deliver(ctx context.Context, msg bus.OutboundMessage) error {
	ep, ok := d.endpoints.Current()
	if !ok {
		metrics.Deliveries.WithLabelValues("no_endpoint").Inc()
		return &DeliveryError{Err: ErrChannelUnavailable}
	}

	start := time.Now()
	resp, err := d.http.R().
		SetContext(ctx).
		SetBody(&discordgo.WebhookParams{
			Content:   msg.Content,
			Username:  msg.Username,
			AvatarURL: msg.AvatarURL,
		}).
		Post(ep.URL)
	metrics.DeliveryDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.Deliveries.WithLabelValues("error").Inc()
		return &DeliveryError{Err: err}
	}
	if !resp.IsSuccess() {
		metrics.Deliveries.WithLabelValues("rejected").Inc()
		return &DeliveryError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	metrics.Deliveries.WithLabelValues("ok").Inc()

	logger.DebugCF("discord", "Delivered", map[string]any{
		"trace_id": msg.TraceID,
		"status":   resp.StatusCode(),
	})
	return nil
}
