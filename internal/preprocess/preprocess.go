// Package preprocess turns a raw captured frame into the tensors the
// inference sessions expect: decode the packed BGR24 pixels ffmpeg hands
// capture into a stdlib image.Image, then resize and lay it out as a
// normalized CHW float32 tensor, grounded on the same disintegration/imaging
// resize path the compressor uses for thumbnails.
package preprocess

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// FromBGR24 decodes a raw packed 24-bit BGR frame, as produced by capture's
// ffmpeg rawvideo pipe, into a stdlib image.Image.
func FromBGR24(buf []byte, width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < width*height; i++ {
		b := buf[i*3]
		g := buf[i*3+1]
		r := buf[i*3+2]
		img.SetNRGBA(i%width, i/width, color.NRGBA{R: r, G: g, B: b, A: 255})
	}
	return img
}

// CHWTensor resizes img to size x size and returns it as a [3,size,size]
// tensor in CHW order with pixel values scaled to [0,1], matching the
// detector and description models' expected input layout.
func CHWTensor(img image.Image, size int) []float32 {
	resized := imaging.Resize(img, size, size, imaging.Lanczos)
	out := make([]float32, 3*size*size)
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			idx := y*size + x
			out[idx] = float32(r>>8) / 255
			out[plane+idx] = float32(g>>8) / 255
			out[2*plane+idx] = float32(b>>8) / 255
		}
	}
	return out
}
