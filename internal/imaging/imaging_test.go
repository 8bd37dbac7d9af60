package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"
)

func whiteImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	return img
}

func isBlack(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r == 0 && g == 0 && b == 0
}

func TestFormatFromName(t *testing.T) {
	tests := []struct {
		name    string
		want    Format
		wantErr bool
	}{
		{"invoice1.png", PNG, false},
		{"scan.JPG", JPEG, false},
		{"scan.jpeg", JPEG, false},
		{"fax.tif", TIFF, false},
		{"fax.tiff", TIFF, false},
		{"old.bmp", BMP, false},
		{"anim.gif", GIF, false},
		{"photo.webp", WEBP, false},
		{"notes.txt", "", true},
		{"noext", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatFromName(tt.name)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedFormat) {
					t.Fatalf("error = %v, want ErrUnsupportedFormat", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("FormatFromName(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestFillBoxes(t *testing.T) {
	src := whiteImage(200, 100)
	masked := FillBoxes(src, []image.Rectangle{image.Rect(10, 10, 60, 30)})

	if !isBlack(masked.At(10, 10)) || !isBlack(masked.At(59, 29)) {
		t.Error("pixels inside the box should be black")
	}
	if isBlack(masked.At(60, 30)) || isBlack(masked.At(9, 9)) || isBlack(masked.At(100, 50)) {
		t.Error("pixels outside the box should be untouched")
	}
	if isBlack(src.At(10, 10)) {
		t.Error("source image must not be modified")
	}
}

func TestFillBoxesClipsAndSkips(t *testing.T) {
	src := whiteImage(50, 50)
	masked := FillBoxes(src, []image.Rectangle{
		image.Rect(40, 40, 500, 500),
		image.Rect(100, 100, 120, 120),
	})

	if !isBlack(masked.At(49, 49)) {
		t.Error("clipped box should reach the image edge")
	}
	if isBlack(masked.At(39, 39)) {
		t.Error("pixel before the clipped box should be white")
	}
}

func TestFillBoxesNoBoxesReturnsSource(t *testing.T) {
	src := whiteImage(10, 10)
	if got := FillBoxes(src, nil); got != image.Image(src) {
		t.Error("expected the source image back when there is nothing to mask")
	}
}

func TestEncodeDecodeKeepsMask(t *testing.T) {
	for _, format := range []Format{PNG, BMP, TIFF} {
		t.Run(string(format), func(t *testing.T) {
			masked := FillBoxes(whiteImage(40, 20), []image.Rectangle{image.Rect(0, 0, 10, 10)})

			var buf bytes.Buffer
			if err := Encode(&buf, masked, format); err != nil {
				t.Fatalf("Encode: %v", err)
			}
			decoded, err := Decode(&buf, format)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if decoded.Bounds() != masked.Bounds() {
				t.Fatalf("bounds = %v, want %v", decoded.Bounds(), masked.Bounds())
			}
			if !isBlack(decoded.At(5, 5)) {
				t.Error("masked pixel lost in round trip")
			}
			if isBlack(decoded.At(20, 15)) {
				t.Error("unmasked pixel turned black")
			}
		})
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode(bytes.NewReader([]byte("not an image")), PNG); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestSniff(t *testing.T) {
	for _, format := range []Format{PNG, JPEG, GIF, BMP, TIFF} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := Encode(&buf, whiteImage(8, 8), format); err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := Sniff(buf.Bytes())
			if err != nil {
				t.Fatalf("Sniff: %v", err)
			}
			if got != format {
				t.Errorf("Sniff = %q, want %q", got, format)
			}
		})
	}

	t.Run("text", func(t *testing.T) {
		if _, err := Sniff([]byte("meeting notes")); !errors.Is(err, ErrUnsupportedFormat) {
			t.Fatalf("error = %v, want ErrUnsupportedFormat", err)
		}
	})
	t.Run("truncated riff", func(t *testing.T) {
		if _, err := Sniff([]byte("RIFF")); !errors.Is(err, ErrUnsupportedFormat) {
			t.Fatalf("error = %v, want ErrUnsupportedFormat", err)
		}
	})
}

func TestOutputFormat(t *testing.T) {
	if got := OutputFormat(WEBP); got != PNG {
		t.Errorf("OutputFormat(WEBP) = %q, want png", got)
	}
	if got := OutputFormat(TIFF); got != TIFF {
		t.Errorf("OutputFormat(TIFF) = %q", got)
	}
	if err := Encode(&bytes.Buffer{}, whiteImage(2, 2), WEBP); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Encode(WEBP) error = %v", err)
	}
}
