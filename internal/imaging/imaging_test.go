package imaging

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/gabrielee5/grafo-sub000/internal/domain"
)

func signatureImage(t *testing.T) *image.RGBA {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 195, B: 180, A: 255})
		}
	}
	for x := 5; x < 35; x++ {
		img.Set(x, 10, color.RGBA{R: 40, G: 40, B: 60, A: 255})
		img.Set(x, 11, color.RGBA{R: 50, G: 45, B: 70, A: 255})
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	return buf.Bytes()
}

var webpHeader = []byte("RIFF\x24\x00\x00\x00WEBPVP8 ")

func TestDetect(t *testing.T) {
	img := signatureImage(t)
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{name: "png", data: encodePNG(t, img), want: MIMEPNG},
		{name: "jpeg", data: encodeJPEG(t, img), want: MIMEJPEG},
		{name: "webp", data: webpHeader, want: MIMEWebP},
		{name: "gif", data: []byte("GIF89a...."), want: ""},
		{name: "riff wave", data: []byte("RIFF\x24\x00\x00\x00WAVEfmt "), want: ""},
		{name: "short", data: []byte{0xFF}, want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Detect(tc.data); got != tc.want {
				t.Fatalf("Detect() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	img := signatureImage(t)
	pngData := encodePNG(t, img)
	jpegData := encodeJPEG(t, img)
	v := Validator{MaxBytes: 10 << 20, Allowed: []string{"image/jpeg", "image/png", "image/webp"}}

	tests := []struct {
		name     string
		data     []byte
		declared string
		max      int64
		want     string
		code     string
	}{
		{name: "png ok", data: pngData, declared: "image/png", want: MIMEPNG},
		{name: "jpeg alias", data: jpegData, declared: "image/jpg", want: MIMEJPEG},
		{name: "no claim", data: jpegData, declared: "", want: MIMEJPEG},
		{name: "octet stream claim", data: pngData, declared: "application/octet-stream", want: MIMEPNG},
		{name: "declared png but jpeg bytes", data: jpegData, declared: "image/png", code: domain.CodeTypeMismatch},
		{name: "empty", data: nil, declared: "image/png", code: domain.CodeEmptyFile},
		{name: "too large", data: pngData, declared: "image/png", max: 10, code: domain.CodeFileTooLarge},
		{name: "gif", data: []byte("GIF89a...."), declared: "image/gif", code: domain.CodeUnsupportedType},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			val := v
			if tc.max > 0 {
				val.MaxBytes = tc.max
			}
			got, err := val.Validate(tc.data, tc.declared)
			if tc.code != "" {
				var vErr *domain.ValidationError
				if !errors.As(err, &vErr) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				if vErr.Code != tc.code {
					t.Fatalf("code = %q, want %q", vErr.Code, tc.code)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Validate() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestValidateRespectsAllowList(t *testing.T) {
	v := Validator{Allowed: []string{"image/png"}}
	_, err := v.Validate(encodeJPEG(t, signatureImage(t)), "image/jpeg")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEnhanceProducesBinaryPNG(t *testing.T) {
	out, err := Enhance(encodePNG(t, signatureImage(t)))
	if err != nil {
		t.Fatalf("Enhance error: %v", err)
	}
	if Detect(out) != MIMEPNG {
		t.Fatal("expected png output")
	}
	decoded, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	seen := map[uint8]bool{}
	b := decoded.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			seen[color.GrayModel.Convert(decoded.At(x, y)).(color.Gray).Y] = true
		}
	}
	for v := range seen {
		if v != 0 && v != 255 {
			t.Fatalf("unexpected gray level %d", v)
		}
	}
	if g := color.GrayModel.Convert(decoded.At(10, 10)).(color.Gray).Y; g != 0 {
		t.Fatalf("stroke pixel = %d, want 0", g)
	}
	if g := color.GrayModel.Convert(decoded.At(1, 1)).(color.Gray).Y; g != 255 {
		t.Fatalf("background pixel = %d, want 255", g)
	}
}

func TestEnhanceJPEG(t *testing.T) {
	if _, err := Enhance(encodeJPEG(t, signatureImage(t))); err != nil {
		t.Fatalf("Enhance error: %v", err)
	}
}

func TestEnhanceUndecodable(t *testing.T) {
	if _, err := Enhance(webpHeader); !errors.Is(err, ErrUndecodable) {
		t.Fatalf("expected ErrUndecodable, got %v", err)
	}
}

func TestOtsuSplitsBimodalHistogram(t *testing.T) {
	var h [256]int
	h[20] = 100
	h[220] = 300
	got := otsu(h)
	if got < 20 || got >= 220 {
		t.Fatalf("otsu() = %d, want between modes", got)
	}
}

// grayPNGHeader returns a PNG holding only the signature and an IHDR chunk for
// an 8-bit grayscale image of the given size. DecodeConfig accepts it.
func grayPNGHeader(width, height uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], width)
	binary.BigEndian.PutUint32(ihdr[4:8], height)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 0 // grayscale

	var buf bytes.Buffer
	buf.Write(pngMagic)
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(ihdr)))
	buf.Write(n[:])
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	binary.BigEndian.PutUint32(n[:], crc32.ChecksumIEEE(chunk))
	buf.Write(n[:])
	return buf.Bytes()
}

func TestValidateRejectsOversizedDimensions(t *testing.T) {
	data := grayPNGHeader(12000, 12000)
	if len(data) > 64 {
		t.Fatalf("header is %d bytes", len(data))
	}
	_, err := Validator{MaxBytes: 10 << 20}.Validate(data, "image/png")
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if vErr.Code != domain.CodeFileTooLarge {
		t.Fatalf("code = %q, want %q", vErr.Code, domain.CodeFileTooLarge)
	}
}

func TestValidateCustomPixelLimit(t *testing.T) {
	data := encodePNG(t, signatureImage(t))
	if _, err := (Validator{MaxPixels: 40 * 20}).Validate(data, "image/png"); err != nil {
		t.Fatalf("at the limit: %v", err)
	}
	if _, err := (Validator{MaxPixels: 40*20 - 1}).Validate(data, "image/png"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("over the limit: expected validation error, got %v", err)
	}
}

func TestEnhanceRefusesOversizedDimensions(t *testing.T) {
	out, err := Enhance(grayPNGHeader(12000, 12000))
	if !errors.Is(err, ErrUndecodable) {
		t.Fatalf("expected ErrUndecodable, got %v", err)
	}
	if out != nil {
		t.Fatal("expected no output")
	}
}

func TestEnhanceRefusesCompressibleBomb(t *testing.T) {
	if testing.Short() {
		t.Skip("encodes a large blank image")
	}
	img := image.NewGray(image.Rect(0, 0, 8000, 6000))
	data := encodePNG(t, img)
	if len(data) > 1<<20 {
		t.Fatalf("expected a small file, got %d bytes", len(data))
	}
	if _, err := Enhance(data); !errors.Is(err, ErrUndecodable) {
		t.Fatalf("expected ErrUndecodable, got %v", err)
	}
}
