package converter

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

const (
	SlideWidth  = 1280
	SlideHeight = 720
)

type Converter struct {
	logger *zap.Logger
	width  int
	height int
}

func NewConverter(logger *zap.Logger) *Converter {
	return &Converter{logger: logger, width: SlideWidth, height: SlideHeight}
}

// Normalize decodes a generated image and crops it to the slide frame,
// returning PNG bytes.
func (c *Converter) Normalize(data []byte) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		c.logger.Warn("Failed to decode image", zap.Int("size", len(data)), zap.Error(err))
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	var processed *image.NRGBA
	if src.Bounds().Dx() == c.width && src.Bounds().Dy() == c.height {
		processed = imaging.Clone(src)
	} else {
		c.logger.Debug("Resizing image",
			zap.Int("from_width", src.Bounds().Dx()),
			zap.Int("from_height", src.Bounds().Dy()),
			zap.Int("width", c.width),
			zap.Int("height", c.height),
		)
		processed = imaging.Fill(src, c.width, c.height, imaging.Center, imaging.Lanczos)
	}

	return encodePNG(processed)
}

// Placeholder renders a flat slide-sized card whose colour is derived from
// seed, so the same slide always gets the same placeholder.
func (c *Converter) Placeholder(seed string) ([]byte, error) {
	bg := seedColor(seed)
	img := imaging.New(c.width, c.height, bg)

	band := imaging.New(c.width, c.height/6, darken(bg))
	img = imaging.Paste(img, band, image.Pt(0, c.height-c.height/6))

	return encodePNG(img)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func seedColor(seed string) color.NRGBA {
	h := fnv.New32a()
	h.Write([]byte(seed))
	sum := h.Sum32()
	// keep channels in the mid range so the band stays visible
	return color.NRGBA{
		R: uint8(64 + sum%128),
		G: uint8(64 + (sum>>8)%128),
		B: uint8(64 + (sum>>16)%128),
		A: 255,
	}
}

func darken(c color.NRGBA) color.NRGBA {
	return color.NRGBA{R: c.R / 2, G: c.G / 2, B: c.B / 2, A: 255}
}
