// Package store persists the small amount of state linecord needs across
// restarts: the LINE auth token and the Discord webhook URL.
//
// Values are strings keyed by stable string keys. Every Set overwrites the
// previous value and is durable before it returns.
package store

import (
	"context"
	"errors"
)

const (
	KeyAuthToken      = "auth_token"
	KeyDiscordWebhook = "discord_webhook"
)

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("store closed")

type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Snapshot(ctx context.Context) (map[string]string, error)
	Close() error
}
