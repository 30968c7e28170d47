// Package media turns LINE message attachments into URLs Discord can embed.
//
// Stickers map to a fixed CDN template. Images, videos and files are
// downloaded from LINE and re-uploaded to a public storage service; the
// resulting download link is what gets relayed.
package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/tinyland-inc/linecord/pkg/bus"
	"github.com/tinyland-inc/linecord/pkg/logger"
	"github.com/tinyland-inc/linecord/pkg/metrics"
)

const DefaultStorageBaseURL = "https://storage.evex.land"

// ErrNoDownloadKey means the storage service accepted the upload but
// returned no key to download it by.
var ErrNoDownloadKey = errors.New("media: upload response has no download key")

// ResolutionError means the message lacks what is needed to build a URL.
type ResolutionError struct {
	MessageID string
	Reason    string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("media: cannot resolve message %s: %s", e.MessageID, e.Reason)
}

// DeliveryError is a failed or rejected upload to the storage service.
type DeliveryError struct {
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return "media: upload failed: " + e.Err.Error()
	}
	return fmt.Sprintf("media: upload rejected with status %d", e.StatusCode)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ObjectFetcher downloads the binary object attached to a LINE message.
type ObjectFetcher interface {
	FetchObject(ctx context.Context, messageID string) ([]byte, error)
}

type Config struct {
	StorageBaseURL string
	StickerBaseURL string
	Timeout        time.Duration
}

type Resolver struct {
	cfg     Config
	fetcher ObjectFetcher
	http    *resty.Client
}

func NewResolver(cfg Config, fetcher ObjectFetcher) *Resolver {
	if cfg.StorageBaseURL == "" {
		cfg.StorageBaseURL = DefaultStorageBaseURL
	}
	if cfg.StickerBaseURL == "" {
		cfg.StickerBaseURL = DefaultStickerBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.StorageBaseURL, "/")).
		SetTimeout(cfg.Timeout)
	return &Resolver{cfg: cfg, fetcher: fetcher, http: client}
}

// Sticker resolves a sticker message without any network call.
func (r *Resolver) Sticker(msg bus.InboundMessage) (string, bool) {
	return StickerURL(r.cfg.StickerBaseURL, msg.Metadata)
}

// Resolve fetches the attachment of an IMAGE, VIDEO or FILE message and
// re-hosts it. Any error means the message should be dropped.
func (r *Resolver) Resolve(ctx context.Context, msg bus.InboundMessage) (string, error) {
	if !msg.ContentType.IsMedia() {
		return "", &ResolutionError{MessageID: msg.MessageID, Reason: "content type " + msg.ContentType.String() + " has no attachment"}
	}
	if !msg.HasData || msg.MessageID == "" {
		return "", &ResolutionError{MessageID: msg.MessageID, Reason: "no attachment reference"}
	}

	data, err := r.fetcher.FetchObject(ctx, msg.MessageID)
	if err != nil {
		return "", err
	}

	name := FileName(msg.Metadata)
	link, err := r.upload(ctx, name, data)
	if err != nil {
		metrics.MediaUploads.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.MediaUploads.WithLabelValues("ok").Inc()

	logger.DebugCF("media", "Re-hosted attachment", map[string]any{
		"message_id": msg.MessageID,
		"filename":   name,
		"bytes":      len(data),
	})
	return link, nil
}

func (r *Resolver) upload(ctx context.Context, filename string, data []byte) (string, error) {
	resp, err := r.http.R().
		SetContext(ctx).
		SetQueryParam("filename", filename).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(data).
		Post("/upload")
	if err != nil {
		return "", &DeliveryError{Err: err}
	}
	if !resp.IsSuccess() {
		return "", &DeliveryError{StatusCode: resp.StatusCode()}
	}

	key := gjson.GetBytes(resp.Body(), "downloadKey").String()
	if key == "" {
		return "", ErrNoDownloadKey
	}
	return strings.TrimSuffix(r.cfg.StorageBaseURL, "/") + "/download?key=" + url.QueryEscape(key), nil
}

// FileName picks the upload name for an attachment: the explicit file name
// when LINE provides one, otherwise "image.<ext>" with the extension taken
// from the media info JSON, defaulting to png.
func FileName(metadata map[string]string) string {
	if name := metadata[MetaFileName]; name != "" {
		return name
	}
	ext := "png"
	if info := metadata[MetaMediaInfo]; info != "" && gjson.Valid(info) {
		if e := gjson.Get(info, "extension").String(); e != "" {
			ext = e
		}
	}
	return "image." + ext
}
