package keyframe

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpcomdev/edgevisiond/internal/model"
	"github.com/warpcomdev/edgevisiond/internal/ring"
	"github.com/warpcomdev/edgevisiond/internal/servicelog"
)

type fakeDescriber struct {
	text string
	emb  []float32
	err  error
}

func (f fakeDescriber) Describe(ctx context.Context, img image.Image) (string, []float32, error) {
	return f.text, f.emb, f.err
}

func noopLogger() servicelog.Logger {
	return servicelog.New(nil, "/dev/null", false)
}

func TestAdmitEnforcesInterval(t *testing.T) {
	g := NewGate("cam0", fakeDescriber{}, noopLogger())
	now := time.Now()
	assert.True(t, g.Admit(now))
	assert.False(t, g.Admit(now.Add(time.Second)))
	assert.True(t, g.Admit(now.Add(Interval+time.Second)))
}

func TestProcessNormalizesEmbedding(t *testing.T) {
	g := NewGate("cam0", fakeDescriber{text: "a dog in a yard", emb: []float32{3, 4}}, noopLogger())
	frame := &ring.Frame{Raw: model.RawFrame{FrameNumber: 1, CapturedAt: time.Now()}}
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))

	kf, err := g.Process(context.Background(), frame, img, 2, []string{"dog"})
	require.NoError(t, err)
	assert.Equal(t, "a dog in a yard", kf.Description)
	assert.False(t, kf.DescriptionFailed)
	assert.NotEmpty(t, kf.Embedding)
	assert.Len(t, kf.Embedding, 2*4)
}

func TestProcessMarksDescriptionFailedWithoutDroppingFrame(t *testing.T) {
	g := NewGate("cam0", fakeDescriber{err: assertErr{}}, noopLogger())
	frame := &ring.Frame{Raw: model.RawFrame{FrameNumber: 1, CapturedAt: time.Now()}}
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))

	kf, err := g.Process(context.Background(), frame, img, 0, nil)
	require.NoError(t, err)
	assert.True(t, kf.DescriptionFailed)
	assert.Equal(t, uint64(1), kf.FrameNumber)
}

type assertErr struct{}

func (assertErr) Error() string { return "description model unavailable" }
