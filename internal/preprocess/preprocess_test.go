package preprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromBGR24DecodesPixelOrder(t *testing.T) {
	// One 2x1 frame: pixel 0 pure blue, pixel 1 pure red, in BGR byte order.
	buf := []byte{255, 0, 0, 0, 0, 255}
	img := FromBGR24(buf, 2, 1)

	r0, g0, b0, _ := img.At(0, 0).RGBA()
	require.Equal(t, uint32(0), r0>>8)
	require.Equal(t, uint32(0), g0>>8)
	require.Equal(t, uint32(255), b0>>8)

	r1, _, b1, _ := img.At(1, 0).RGBA()
	assert.Equal(t, uint32(255), r1>>8)
	assert.Equal(t, uint32(0), b1>>8)
}

func TestCHWTensorLayoutAndRange(t *testing.T) {
	buf := make([]byte, 4*4*3)
	for i := range buf {
		buf[i] = 128
	}
	img := FromBGR24(buf, 4, 4)

	tensor := CHWTensor(img, 2)
	require.Len(t, tensor, 3*2*2)
	for _, v := range tensor {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}
}
