package camera

import (
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	_ "image/png"
	"os"
)

// jpegQuality matches what the capture app produced.
const jpegQuality = 90

// Mirror returns a horizontally flipped copy of img.
func Mirror(img image.Image) *image.RGBA {
	b := img.Bounds()
	src := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(src, src.Bounds(), img, b.Min, draw.Src)

	out := image.NewRGBA(src.Bounds())
	w := b.Dx()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < w; x++ {
			out.SetRGBA(w-1-x, y, src.RGBAAt(x, y))
		}
	}
	return out
}

// MirrorFile decodes a JPEG or PNG at src, flips it and writes a JPEG to dst.
func MirrorFile(src, dst string) error {
	return reencode(src, dst, func(img image.Image) image.Image { return Mirror(img) })
}

// ConvertFile re-encodes the JPEG or PNG at src as a JPEG at dst.
func ConvertFile(src, dst string) error {
	return reencode(src, dst, nil)
}

func reencode(src, dst string, transform func(image.Image) image.Image) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	defer in.Close()

	img, _, err := image.Decode(in)
	if err != nil {
		return fmt.Errorf("decode frame %s: %w", src, err)
	}

	if transform != nil {
		img = transform(img)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create frame: %w", err)
	}
	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		out.Close()
		return fmt.Errorf("encode frame: %w", err)
	}
	return out.Close()
}
