package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ginza777/file-box/internal/document"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
	msg  tgbotapi.Message
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return f.msg, f.err
}

func TestUploader_SendDocument(t *testing.T) {
	t.Parallel()

	bot := &fakeSender{msg: tgbotapi.Message{Document: &tgbotapi.Document{FileID: "BQACAgIAAxkB"}}}
	u, err := New(bot, Config{Channel: "@filebox_channel", CaptionLimit: 1000}, zap.NewNop())
	require.NoError(t, err)

	fileID, err := u.SendDocument(context.Background(), "/media/documents/a.pdf", "Title: Algebra")
	require.NoError(t, err)
	require.Equal(t, "BQACAgIAAxkB", fileID)

	require.Len(t, bot.sent, 1)
	doc, ok := bot.sent[0].(tgbotapi.DocumentConfig)
	require.True(t, ok)
	require.Equal(t, "@filebox_channel", doc.ChannelUsername)
	require.Equal(t, "Title: Algebra", doc.Caption)
	require.Equal(t, tgbotapi.FilePath("/media/documents/a.pdf"), doc.File)
}

func TestUploader_NumericChannel(t *testing.T) {
	t.Parallel()

	bot := &fakeSender{msg: tgbotapi.Message{Document: &tgbotapi.Document{FileID: "x"}}}
	u, err := New(bot, Config{Channel: "-1001234567890"}, zap.NewNop())
	require.NoError(t, err)

	_, err = u.SendDocument(context.Background(), "/tmp/a.pdf", "")
	require.NoError(t, err)

	doc := bot.sent[0].(tgbotapi.DocumentConfig)
	require.Equal(t, int64(-1001234567890), doc.ChatID)

	_, err = New(bot, Config{Channel: "not-a-channel"}, zap.NewNop())
	require.Error(t, err)
}

func TestUploader_CaptionTruncated(t *testing.T) {
	t.Parallel()

	bot := &fakeSender{msg: tgbotapi.Message{Document: &tgbotapi.Document{FileID: "x"}}}
	u, err := New(bot, Config{Channel: "@c", CaptionLimit: 10}, zap.NewNop())
	require.NoError(t, err)

	_, err = u.SendDocument(context.Background(), "/tmp/a.pdf", strings.Repeat("ё", 25))
	require.NoError(t, err)

	doc := bot.sent[0].(tgbotapi.DocumentConfig)
	require.Equal(t, strings.Repeat("ё", 10), doc.Caption)
}

func TestUploader_RateLimit(t *testing.T) {
	t.Parallel()

	bot := &fakeSender{err: &tgbotapi.Error{
		Code:               429,
		Message:            "Too Many Requests",
		ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 17},
	}}
	u, err := New(bot, Config{Channel: "@c"}, zap.NewNop())
	require.NoError(t, err)

	_, err = u.SendDocument(context.Background(), "/tmp/a.pdf", "")
	var rl *document.RateLimitError
	require.ErrorAs(t, err, &rl)
	require.Equal(t, 17*time.Second, rl.RetryAfter)
}

func TestUploader_PlainErrorPassesThrough(t *testing.T) {
	t.Parallel()

	bot := &fakeSender{err: errors.New("connection reset")}
	u, err := New(bot, Config{Channel: "@c"}, zap.NewNop())
	require.NoError(t, err)

	_, err = u.SendDocument(context.Background(), "/tmp/a.pdf", "")
	require.Error(t, err)
	var rl *document.RateLimitError
	require.False(t, errors.As(err, &rl))
}
