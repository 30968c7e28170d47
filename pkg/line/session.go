// Package line maintains the LINE side of the bridge: a durable login
// against a LINE gateway sidecar and a stream of square chat messages.
//
// The gateway hosts the actual LINE client library and speaks JSON frames
// over a websocket. Session owns the login/reconnect lifecycle, persists
// every refreshed auth token before handling the next event, and publishes
// square messages to the bus without looking at which chat they belong to.
package line

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tinyland-inc/linecord/pkg/bus"
	"github.com/tinyland-inc/linecord/pkg/logger"
	"github.com/tinyland-inc/linecord/pkg/ratelimit"
	"github.com/tinyland-inc/linecord/pkg/store"
)

// ErrMissingCredentials is wrapped by the AuthenticationError returned when
// email or password is empty.
var ErrMissingCredentials = errors.New("line: email and password are required")

// ErrNotConnected is returned by requests issued while no gateway
// connection is up.
var ErrNotConnected = errors.New("line: not connected")

// AuthenticationError means the LINE login could not complete. It ends the
// session; a pin code challenge may be pending on the account's device.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return "line authentication failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "line authentication failed: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

type Credentials struct {
	Email     string
	Password  string
	AuthToken string
}

// Profile is the logged-in account as reported by the ready event.
type Profile struct {
	MID         string `json:"mid"`
	DisplayName string `json:"display_name"`
}

const DefaultProfileBaseURL = "https://profile.line-scdn.net/"

type Config struct {
	GatewayURL     string
	ProfileBaseURL string
	// MinBackoff is the first reconnect delay after a healthy connection
	// drops; MaxBackoff caps it.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

type Dialer func(ctx context.Context, url string) (*Gateway, error)

type Session struct {
	cfg     Config
	store   store.Store
	limiter ratelimit.Limiter
	bus     *bus.MessageBus
	dial    Dialer

	gw    atomic.Pointer[Gateway]
	ready atomic.Bool

	mu      sync.RWMutex
	self    Profile
	onReady []func(Profile)
}

func NewSession(cfg Config, st store.Store, limiter ratelimit.Limiter, mb *bus.MessageBus) *Session {
	if cfg.ProfileBaseURL == "" {
		cfg.ProfileBaseURL = DefaultProfileBaseURL
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	return &Session{
		cfg:     cfg,
		store:   st,
		limiter: limiter,
		bus:     mb,
		dial: func(ctx context.Context, url string) (*Gateway, error) {
			return DialGateway(ctx, url, nil)
		},
	}
}

// OnReady registers fn to run each time the ready event fires, including
// after reconnects.
func (s *Session) OnReady(fn func(Profile)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReady = append(s.onReady, fn)
}

func (s *Session) IsReady() bool { return s.ready.Load() }

func (s *Session) Self() Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self
}

// Run logs in and keeps the session alive until ctx is done. A rejected
// login ends Run with an *AuthenticationError; dropped connections are
// redialed with exponential backoff.
func (s *Session) Run(ctx context.Context, creds Credentials) error {
	if creds.Email == "" || creds.Password == "" {
		return &AuthenticationError{Reason: "credentials not configured", Err: ErrMissingCredentials}
	}

	// Reset on each successful login so one drop after a long healthy
	// session redials after MinBackoff, not MaxBackoff.
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.MinBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = s.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	for {
		err := s.connectOnce(ctx, creds, b.Reset)
		if ctx.Err() != nil {
			return nil
		}
		var authErr *AuthenticationError
		if errors.As(err, &authErr) {
			return err
		}

		delay := b.NextBackOff()
		logger.WarnCF("line", "Gateway connection lost, reconnecting", map[string]any{
			"error":   errString(err),
			"backoff": delay.String(),
		})
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// connectOnce dials, logs in and handles events until the connection drops.
// Events that arrive while login is in flight are held back and handled
// only after the login result, including any refreshed token, is stored.
func (s *Session) connectOnce(ctx context.Context, creds Credentials, onLogin func()) error {
	gw, err := s.dial(ctx, s.cfg.GatewayURL)
	if err != nil {
		return err
	}
	s.gw.Store(gw)
	defer func() {
		s.ready.Store(false)
		s.gw.CompareAndSwap(gw, nil)
		gw.Close()
	}()

	loggedIn := make(chan struct{})
	loopErr := make(chan error, 1)
	go func() { loopErr <- s.handleEvents(ctx, gw, loggedIn) }()

	if err := s.login(ctx, gw, creds); err != nil {
		return err
	}
	close(loggedIn)
	if onLogin != nil {
		onLogin()
	}

	select {
	case err := <-loopErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type loginParams struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	AuthToken string `json:"auth_token,omitempty"`
}

type loginResult struct {
	AuthToken string `json:"auth_token"`
}

func (s *Session) login(ctx context.Context, gw *Gateway, creds Credentials) error {
	token := s.currentToken(ctx, creds)
	logger.InfoCF("line", "Logging in", map[string]any{
		"email":      creds.Email,
		"with_token": token != "",
	})

	var res loginResult
	err := gw.Call(ctx, methodLogin, loginParams{
		Email:     creds.Email,
		Password:  creds.Password,
		AuthToken: token,
	}, &res)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return &AuthenticationError{Reason: "login rejected", Err: rpcErr}
		}
		return fmt.Errorf("login: %w", err)
	}

	if res.AuthToken != "" && res.AuthToken != token {
		s.persistToken(ctx, res.AuthToken)
	}
	return nil
}

// currentToken prefers the persisted token, which is refreshed on every
// login, over the one from configuration.
func (s *Session) currentToken(ctx context.Context, creds Credentials) string {
	if s.store != nil {
		if tok, ok, err := s.store.Get(ctx, store.KeyAuthToken); err == nil && ok && tok != "" {
			return tok
		}
	}
	return creds.AuthToken
}

// handleEvents processes gateway events one at a time, in order. An event
// is fully handled before the next is read. Until loggedIn is closed,
// events are only queued; the gateway keeps reading frames meanwhile so the
// login response is never stuck behind a full event channel.
func (s *Session) handleEvents(ctx context.Context, gw *Gateway, loggedIn <-chan struct{}) error {
	var held []Event
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-loggedIn:
			for _, evt := range held {
				s.handleEvent(ctx, evt)
			}
			held = nil
			loggedIn = nil
		case evt, ok := <-gw.Events():
			if !ok {
				if err := gw.Err(); err != nil {
					return err
				}
				return ErrGatewayClosed
			}
			if loggedIn != nil {
				held = append(held, evt)
				continue
			}
			s.handleEvent(ctx, evt)
		}
	}
}

type readyData struct {
	MID         string `json:"mid"`
	DisplayName string `json:"display_name"`
}

type pincallData struct {
	Pincode string `json:"pincode"`
}

type authTokenData struct {
	AuthToken string `json:"auth_token"`
}

type squareMessageData struct {
	SquareChatMID string `json:"square_chat_mid"`
	MessageID     string `json:"message_id"`
	Author        struct {
		MID         string `json:"mid"`
		DisplayName string `json:"display_name"`
		IconImage   string `json:"icon_image"`
	} `json:"author"`
	ContentType     string            `json:"content_type"`
	Content         *string           `json:"content"`
	ContentMetadata map[string]string `json:"content_metadata"`
	HasData         bool              `json:"has_data"`
}

func (s *Session) handleEvent(ctx context.Context, evt Event) {
	switch evt.Name {
	case EventReady:
		var d readyData
		if err := json.Unmarshal(evt.Data, &d); err != nil {
			logger.WarnCF("line", "Malformed ready event", map[string]any{"error": err.Error()})
			return
		}
		p := Profile(d)
		s.mu.Lock()
		s.self = p
		hooks := append([]func(Profile){}, s.onReady...)
		s.mu.Unlock()
		s.ready.Store(true)
		logger.InfoCF("line", "Ready", map[string]any{
			"display_name": p.DisplayName,
			"mid":          p.MID,
		})
		for _, fn := range hooks {
			fn(p)
		}

	case EventPincall:
		var d pincallData
		if err := json.Unmarshal(evt.Data, &d); err != nil {
			logger.WarnCF("line", "Malformed pincall event", map[string]any{"error": err.Error()})
			return
		}
		logger.InfoCF("line", "Pincode", map[string]any{"pincode": d.Pincode})

	case EventAuthTokenUpdate:
		var d authTokenData
		if err := json.Unmarshal(evt.Data, &d); err != nil || d.AuthToken == "" {
			logger.WarnCF("line", "Malformed auth token event", map[string]any{"error": errString(err)})
			return
		}
		s.persistToken(ctx, d.AuthToken)

	case EventSquareMessage:
		var d squareMessageData
		if err := json.Unmarshal(evt.Data, &d); err != nil {
			logger.WarnCF("line", "Malformed square message", map[string]any{"error": err.Error()})
			return
		}
		msg := s.toInbound(d)
		if err := s.bus.PublishInbound(ctx, msg); err != nil {
			logger.DebugCF("line", "Inbound message not published", map[string]any{
				"message_id": msg.MessageID,
				"error":      err.Error(),
			})
		}

	default:
		logger.DebugCF("line", "Unhandled gateway event", map[string]any{"event": evt.Name})
	}
}

func (s *Session) persistToken(ctx context.Context, token string) {
	logger.InfoC("line", "Auth token updated")
	if s.store == nil {
		return
	}
	if err := s.store.Set(ctx, store.KeyAuthToken, token); err != nil {
		logger.ErrorCF("line", "Failed to persist auth token", map[string]any{"error": err.Error()})
	}
}

func (s *Session) toInbound(d squareMessageData) bus.InboundMessage {
	msg := bus.InboundMessage{
		ChatID:    d.SquareChatMID,
		MessageID: d.MessageID,
		Author: bus.Author{
			MID:         d.Author.MID,
			DisplayName: d.Author.DisplayName,
			IconURL:     s.iconURL(d.Author.IconImage),
		},
		ContentType: bus.ParseContentType(d.ContentType),
		Metadata:    d.ContentMetadata,
		HasData:     d.HasData,
	}
	if d.Content != nil {
		msg.Text = *d.Content
	}
	if msg.Metadata == nil {
		msg.Metadata = map[string]string{}
	}
	return msg
}

// iconURL expands a profile image path into an absolute CDN URL.
func (s *Session) iconURL(ref string) string {
	if ref == "" || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return strings.TrimSuffix(s.cfg.ProfileBaseURL, "/") + "/" + strings.TrimPrefix(ref, "/")
}

type messageDataParams struct {
	MessageID string `json:"message_id"`
}

// FetchObject downloads the binary object attached to a square message.
// Every call takes a permit from the rate limiter first.
func (s *Session) FetchObject(ctx context.Context, messageID string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	gw := s.gw.Load()
	if gw == nil {
		return nil, ErrNotConnected
	}
	var data []byte
	if err := gw.Call(ctx, methodGetMessageData, messageDataParams{MessageID: messageID}, &data); err != nil {
		return nil, fmt.Errorf("fetching message %s data: %w", messageID, err)
	}
	return data, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
