// Package telegram sends cached files to the durable storage channel.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ginza777/file-box/internal/document"
)

// Sender is the narrow slice of the bot API the uploader needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Config controls channel addressing and caption policy.
type Config struct {
	// Channel is either a numeric chat id or an @username.
	Channel string
	// CaptionLimit truncates captions to the store's character ceiling.
	CaptionLimit int
}

// Uploader sends documents to a Telegram channel and returns the stable
// file_id handle Telegram assigns.
type Uploader struct {
	bot     Sender
	chatID  int64
	channel string
	limit   int
	logger  *zap.Logger
}

// New constructs an Uploader around an existing bot client.
func New(bot Sender, cfg Config, logger *zap.Logger) (*Uploader, error) {
	if bot == nil {
		return nil, fmt.Errorf("bot client is required")
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("channel is required")
	}
	if cfg.CaptionLimit <= 0 {
		cfg.CaptionLimit = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	u := &Uploader{bot: bot, limit: cfg.CaptionLimit, logger: logger}
	if strings.HasPrefix(cfg.Channel, "@") {
		u.channel = cfg.Channel
	} else {
		id, err := strconv.ParseInt(cfg.Channel, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("channel must be numeric or @username: %w", err)
		}
		u.chatID = id
	}
	return u, nil
}

// SendDocument uploads the file at absPath with the given caption. A 429
// response becomes a document.RateLimitError carrying the server-specified
// retry-after so the caller can honor it before the next attempt.
func (u *Uploader) SendDocument(ctx context.Context, absPath string, caption string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	doc := tgbotapi.DocumentConfig{
		BaseFile: tgbotapi.BaseFile{
			BaseChat: tgbotapi.BaseChat{ChatID: u.chatID, ChannelUsername: u.channel},
			File:     tgbotapi.FilePath(absPath),
		},
		Caption: Truncate(caption, u.limit),
	}

	msg, err := u.bot.Send(doc)
	if err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			return "", &document.RateLimitError{
				RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second,
				Err:        err,
			}
		}
		return "", fmt.Errorf("send document: %w", err)
	}
	if msg.Document == nil {
		return "", fmt.Errorf("telegram response has no document")
	}

	u.logger.Info("document sent to channel",
		zap.String("path", absPath),
		zap.String("file_id", msg.Document.FileID),
	)
	return msg.Document.FileID, nil
}

// Truncate shortens s to at most limit runes.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
