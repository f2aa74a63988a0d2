// Package compress turns a raw frame into a bounded-size thumbnail (spec
// C7). WebP via bimg (libvips) is the primary codec, grounded on the one
// full-source example in the retrieved pack that generates WebP thumbnails
// this way (photo_processor.go's bimg.Options{Type: bimg.WEBP} pipeline);
// stdlib image/jpeg is the fallback codec, since no second ecosystem JPEG
// encoder appears anywhere in the corpus.
package compress

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/disintegration/imaging"
	"github.com/h2non/bimg"
)

// MaxThumbnailBytes is the size ceiling a produced thumbnail must respect,
// per spec §4.7.
const MaxThumbnailBytes = 5120

// Codec identifies which encoder produced a thumbnail.
type Codec string

const (
	CodecWebP Codec = "webp"
	CodecJPEG Codec = "jpeg"
)

// Options controls thumbnail generation.
type Options struct {
	Width   int
	Height  int
	Quality int
	// BlurFaces, if set, is applied to the resized image before encoding.
	BlurFaces func(image.Image) image.Image
}

// DefaultOptions returns the spec's default thumbnail dimensions and
// starting quality.
func DefaultOptions() Options {
	return Options{Width: 320, Height: 240, Quality: 80}
}

// Result is a produced thumbnail plus which codec and quality made it fit.
type Result struct {
	Data    []byte
	Codec   Codec
	Quality int
}

// Thumbnail resizes img and encodes it, shrinking quality (and falling back
// to JPEG) until MaxThumbnailBytes is met or the floor quality is reached.
func Thumbnail(img image.Image, opt Options) (Result, error) {
	resized := imaging.Resize(img, opt.Width, opt.Height, imaging.Lanczos)
	if opt.BlurFaces != nil {
		resized = opt.BlurFaces(resized)
	}

	pngBuf := new(bytes.Buffer)
	if err := imaging.Encode(pngBuf, resized, imaging.PNG); err != nil {
		return Result{}, fmt.Errorf("stage image for webp encode: %w", err)
	}

	quality := opt.Quality
	for quality >= 30 {
		out, err := bimg.NewImage(pngBuf.Bytes()).Process(bimg.Options{
			Quality: quality,
			Type:    bimg.WEBP,
		})
		if err == nil && len(out) <= MaxThumbnailBytes {
			return Result{Data: out, Codec: CodecWebP, Quality: quality}, nil
		}
		quality -= 10
	}

	return jpegFallback(resized, opt.Quality)
}

// jpegFallback encodes with the standard library's JPEG codec, the
// corpus-justified stdlib exception noted in DESIGN.md.
func jpegFallback(img image.Image, quality int) (Result, error) {
	for quality >= 20 {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return Result{}, fmt.Errorf("jpeg fallback encode: %w", err)
		}
		if buf.Len() <= MaxThumbnailBytes {
			return Result{Data: buf.Bytes(), Codec: CodecJPEG, Quality: quality}, nil
		}
		quality -= 10
	}
	return Result{}, fmt.Errorf("could not fit thumbnail under %d bytes", MaxThumbnailBytes)
}
