package converter

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"go.uber.org/zap/zaptest"
)

func createTestImage(t *testing.T, width, height int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r := uint8((x * 255) / width)
			g := uint8((y * 255) / height)
			b := uint8(128)
			img.Set(x, y, color.RGBA{r, g, b, 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func decodePNG(t *testing.T, data []byte) image.Image {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Failed to decode output image: %v", err)
	}
	return img
}

func TestConverter_Normalize_Crops(t *testing.T) {
	converter := NewConverter(zaptest.NewLogger(t))

	out, err := converter.Normalize(createTestImage(t, 800, 800))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	bounds := decodePNG(t, out).Bounds()
	if bounds.Dx() != SlideWidth || bounds.Dy() != SlideHeight {
		t.Errorf("Expected dimensions %dx%d, got %dx%d", SlideWidth, SlideHeight, bounds.Dx(), bounds.Dy())
	}
}

func TestConverter_Normalize_KeepsExactFrame(t *testing.T) {
	converter := NewConverter(zaptest.NewLogger(t))

	out, err := converter.Normalize(createTestImage(t, SlideWidth, SlideHeight))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	bounds := decodePNG(t, out).Bounds()
	if bounds.Dx() != SlideWidth || bounds.Dy() != SlideHeight {
		t.Errorf("Expected dimensions %dx%d, got %dx%d", SlideWidth, SlideHeight, bounds.Dx(), bounds.Dy())
	}
}

func TestConverter_Normalize_InvalidData(t *testing.T) {
	converter := NewConverter(zaptest.NewLogger(t))

	if _, err := converter.Normalize([]byte("not an image")); err == nil {
		t.Error("Expected error for invalid image data, got nil")
	}
}

func TestConverter_Placeholder(t *testing.T) {
	converter := NewConverter(zaptest.NewLogger(t))

	first, err := converter.Placeholder("Why solar")
	if err != nil {
		t.Fatalf("Placeholder failed: %v", err)
	}
	second, err := converter.Placeholder("Why solar")
	if err != nil {
		t.Fatalf("Placeholder failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("Expected identical placeholders for the same seed")
	}

	img := decodePNG(t, first)
	if img.Bounds().Dx() != SlideWidth || img.Bounds().Dy() != SlideHeight {
		t.Errorf("Expected dimensions %dx%d, got %dx%d", SlideWidth, SlideHeight, img.Bounds().Dx(), img.Bounds().Dy())
	}

	top := color.NRGBAModel.Convert(img.At(0, 0)).(color.NRGBA)
	bottom := color.NRGBAModel.Convert(img.At(0, SlideHeight-1)).(color.NRGBA)
	if top == bottom {
		t.Error("Expected a darker band at the bottom of the placeholder")
	}

	other, err := converter.Placeholder("How it works")
	if err != nil {
		t.Fatalf("Placeholder failed: %v", err)
	}
	if bytes.Equal(first, other) {
		t.Error("Expected different placeholders for different seeds")
	}
}
