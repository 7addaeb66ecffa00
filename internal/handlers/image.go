package handlers

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/ramiqadoumi/go-resilience/internal/domain"
)

const jpegQuality = 75

// ImageHandler re-encodes PNG at best compression and JPEG at quality 75.
// The original bytes are kept when re-encoding does not shrink them.
type ImageHandler struct {
	png *png.Encoder
}

func NewImageHandler() *ImageHandler {
	return &ImageHandler{png: &png.Encoder{CompressionLevel: png.BestCompression}}
}

func (h *ImageHandler) Kind() domain.ContentKind { return domain.KindImage }

func (h *ImageHandler) Optimize(ctx context.Context, payload []byte) (domain.OptimizationResult, error) {
	img, format, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return domain.OptimizationResult{}, fmt.Errorf("decode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.OptimizationResult{}, err
	}

	var buf bytes.Buffer
	switch format {
	case "png":
		err = h.png.Encode(&buf, img)
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	default:
		return domain.OptimizationResult{}, fmt.Errorf("unsupported image format %q", format)
	}
	if err != nil {
		return domain.OptimizationResult{}, fmt.Errorf("encode %s: %w", format, err)
	}

	if buf.Len() >= len(payload) {
		return domain.OptimizationResult{Output: payload, Encoding: format}, nil
	}
	return domain.OptimizationResult{Output: buf.Bytes(), Encoding: format}, nil
}
