package predict

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
)

// DefaultMaxPixels bounds the decoded size of an upload (50 megapixels).
const DefaultMaxPixels = 50_000_000

var (
	ErrEmptyImage    = errors.New("image has no pixels")
	ErrImageTooLarge = errors.New("image dimensions exceed the pixel limit")
)

// DecodeImage decodes any registered image format (jpeg, png, gif, bmp, tiff)
// and applies the EXIF orientation if present. The header is checked first so
// images with more than maxPixels pixels are rejected before any pixel
// buffer is allocated. maxPixels <= 0 uses DefaultMaxPixels.
func DecodeImage(r io.Reader, maxPixels int) (image.Image, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	var header bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &header))
	if err != nil {
		return nil, err
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d, limit %d", ErrImageTooLarge, cfg.Width, cfg.Height, maxPixels)
	}

	return imaging.Decode(io.MultiReader(&header, r), imaging.AutoOrientation(true))
}

// Preprocess turns an image of any size and colour model into a
// [1, 32, 32, 3] tensor with channel values scaled to [0, 1].
func Preprocess(img image.Image) (Tensor, error) {
	if img == nil || img.Bounds().Empty() {
		return Tensor{}, ErrEmptyImage
	}

	// imaging works on NRGBA, so grey, paletted, CMYK and YCbCr sources all
	// come out as RGB plus an alpha channel that is ignored below.
	resized := imaging.Resize(img, InputWidth, InputHeight, imaging.Lanczos)

	t := NewInputTensor()
	for y := 0; y < InputHeight; y++ {
		for x := 0; x < InputWidth; x++ {
			px := resized.PixOffset(x, y)
			base := (y*InputWidth + x) * InputChannels
			t.Data[base+0] = float32(resized.Pix[px+0]) / 255.0
			t.Data[base+1] = float32(resized.Pix[px+1]) / 255.0
			t.Data[base+2] = float32(resized.Pix[px+2]) / 255.0
		}
	}
	return t, nil
}
