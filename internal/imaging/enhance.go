package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/webp"
)

// ErrUndecodable is returned when the local fallback cannot read the image.
var ErrUndecodable = errors.New("imaging: image cannot be decoded")

// Enhance renders a high-contrast black and white version of a handwriting
// image: grayscale, linear contrast stretch, then an Otsu threshold. The result
// is always PNG. Images over DefaultMaxPixels are refused before decoding.
func Enhance(data []byte) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > DefaultMaxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrUndecodable, cfg.Width, cfg.Height, DefaultMaxPixels)
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	bounds := src.Bounds()
	if bounds.Empty() {
		return nil, ErrUndecodable
	}

	gray := image.NewGray(bounds)
	lo, hi := uint8(255), uint8(0)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			g := color.GrayModel.Convert(src.At(x, y)).(color.Gray).Y
			gray.SetGray(x, y, color.Gray{Y: g})
			if g < lo {
				lo = g
			}
			if g > hi {
				hi = g
			}
		}
	}

	stretch(gray, lo, hi)
	threshold := otsu(histogram(gray))

	out := image.NewGray(bounds)
	for i, v := range gray.Pix {
		if v > threshold {
			out.Pix[i] = 255
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("imaging: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func stretch(img *image.Gray, lo, hi uint8) {
	if hi <= lo {
		return
	}
	span := int(hi) - int(lo)
	for i, v := range img.Pix {
		img.Pix[i] = uint8((int(v) - int(lo)) * 255 / span)
	}
}

func histogram(img *image.Gray) [256]int {
	var h [256]int
	for _, v := range img.Pix {
		h[v]++
	}
	return h
}

// otsu picks the threshold that maximizes between-class variance.
func otsu(h [256]int) uint8 {
	total := 0
	sum := 0.0
	for i, n := range h {
		total += n
		sum += float64(i * n)
	}
	if total == 0 {
		return 127
	}
	var (
		sumB    float64
		weightB int
		best    float64
		level   int
	)
	for t := 0; t < 256; t++ {
		weightB += h[t]
		if weightB == 0 {
			continue
		}
		weightF := total - weightB
		if weightF == 0 {
			break
		}
		sumB += float64(t * h[t])
		meanB := sumB / float64(weightB)
		meanF := (sum - sumB) / float64(weightF)
		between := float64(weightB) * float64(weightF) * (meanB - meanF) * (meanB - meanF)
		if between > best {
			best = between
			level = t
		}
	}
	return uint8(level)
}
