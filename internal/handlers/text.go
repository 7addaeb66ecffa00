package handlers

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/ramiqadoumi/go-resilience/internal/domain"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// TextHandler collapses whitespace runs and zstd-compresses the result.
// If compression does not pay off, the collapsed text is returned as is.
type TextHandler struct {
	enc *zstd.Encoder
}

// NewTextHandler creates a TextHandler with a shared zstd encoder.
func NewTextHandler() (*TextHandler, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &TextHandler{enc: enc}, nil
}

func (h *TextHandler) Kind() domain.ContentKind { return domain.KindText }

func (h *TextHandler) Optimize(_ context.Context, payload []byte) (domain.OptimizationResult, error) {
	collapsed := []byte(strings.TrimSpace(whitespaceRun.ReplaceAllString(string(payload), " ")))

	// EncodeAll is safe for concurrent use on a shared encoder.
	compressed := h.enc.EncodeAll(collapsed, make([]byte, 0, len(collapsed)))
	if len(compressed) < len(collapsed) {
		return domain.OptimizationResult{Output: compressed, Encoding: "zstd"}, nil
	}
	return domain.OptimizationResult{Output: collapsed, Encoding: "identity"}, nil
}
