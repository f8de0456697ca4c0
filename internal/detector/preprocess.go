package detector

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/Brownie44l1/poar-detector/internal/model"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MaxPixels caps the declared width*height of an upload. Larger images are
// rejected from their header before any pixel buffer is allocated.
const MaxPixels = 89_478_485

// Preprocessor turns encoded image bytes into the model's input tensor:
// RGB, resized to size x size, channel-first, values in [0, 1].
type Preprocessor struct {
	size      int
	filter    resize.InterpolationFunction
	maxPixels int64
}

// NewPreprocessor builds the fixed pipeline for a square input of the given size.
func NewPreprocessor(size int) *Preprocessor {
	return &Preprocessor{
		size:      size,
		filter:    resize.Bilinear,
		maxPixels: MaxPixels,
	}
}

// Decode parses the image and forces it to opaque RGB.
func (p *Preprocessor) Decode(data []byte) (image.Image, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > p.maxPixels {
		return nil, "", fmt.Errorf("%w: %s image of %dx%d exceeds %d pixels",
			ErrDecode, format, cfg.Width, cfg.Height, p.maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if img.Bounds().Empty() {
		return nil, "", fmt.Errorf("%w: empty %s image", ErrDecode, format)
	}
	return toRGB(img), format, nil
}

// toRGB copies img into an opaque NRGBA buffer. Alpha is discarded, not
// blended, so transparent pixels keep their stored colour.
func toRGB(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			c.A = 0xff
			dst.SetNRGBA(x, y, c)
		}
	}
	return dst
}

// Transform resizes an RGB image and lays it out as a [1, 3, H, W] tensor.
func (p *Preprocessor) Transform(img image.Image) *model.Tensor {
	target := uint(p.size)
	resized := resize.Resize(target, target, img, p.filter)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	tensor := &model.Tensor{
		Shape: []int64{1, model.Channels, int64(height), int64(width)},
		Data:  make([]float32, model.Channels*plane),
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			i := y*width + x
			tensor.Data[i] = float32(r) / 65535.0
			tensor.Data[plane+i] = float32(g) / 65535.0
			tensor.Data[2*plane+i] = float32(b) / 65535.0
		}
	}

	return tensor
}
