// Package extract converts cached document files into normalized plain text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"code.sajari.com/docconv"
	"go.uber.org/zap"
)

// ErrEmptyContent marks an extraction that produced no text. Empty output
// usually indicates a transient parser hiccup rather than a genuinely
// textless file, so callers treat it as retryable.
var ErrEmptyContent = errors.New("extraction produced no content")

// DocconvExtractor extracts text from PDF, Office, and plain-text files
// uniformly via docconv.
type DocconvExtractor struct {
	logger *zap.Logger
}

// New constructs a DocconvExtractor.
func New(logger *zap.Logger) *DocconvExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocconvExtractor{logger: logger}
}

// Extract reads the file at absPath and returns its text with internal
// whitespace collapsed to single spaces.
func (e *DocconvExtractor) Extract(ctx context.Context, absPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := os.Stat(absPath); err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}

	res, err := docconv.ConvertPath(absPath)
	if err != nil {
		return "", fmt.Errorf("convert %s: %w", absPath, err)
	}

	content := strings.Join(strings.Fields(res.Body), " ")
	if content == "" {
		e.logger.Warn("empty extraction result",
			zap.String("path", absPath),
			zap.String("detected_type", res.Meta["Content-Type"]),
		)
		return "", ErrEmptyContent
	}

	e.logger.Debug("extraction completed",
		zap.String("path", absPath),
		zap.Int("chars", len(content)),
	)
	return content, nil
}
