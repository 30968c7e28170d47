package media

import (
	"net/url"
	"strings"
)

const (
	MetaStickerVersion = "STKVER"
	MetaStickerID      = "STKID"
	MetaStickerOption  = "STKOPT"
	MetaFileName       = "FILE_NAME"
	MetaMediaInfo      = "MEDIA_CONTENT_INFO"

	DefaultStickerBaseURL = "https://stickershop.line-scdn.net/stickershop/v1/sticker"

	stickerStatic   = "sticker.png"
	stickerAnimated = "sticker_animation.png"
)

// StickerURL builds the CDN URL of a sticker image from message metadata.
// It needs a non-empty sticker version marker and sticker id; animated
// stickers (option "A") point at the animation asset.
func StickerURL(baseURL string, metadata map[string]string) (string, bool) {
	if metadata[MetaStickerVersion] == "" {
		return "", false
	}
	id := strings.TrimSpace(metadata[MetaStickerID])
	if id == "" {
		return "", false
	}
	if baseURL == "" {
		baseURL = DefaultStickerBaseURL
	}

	file := stickerStatic
	if metadata[MetaStickerOption] == "A" {
		file = stickerAnimated
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + url.PathEscape(id) + "/android/" + file, true
}
