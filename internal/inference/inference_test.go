package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Manager.Acquire/Run exercise a real onnxruntime_go environment, which
// isn't available in this test environment; DecodeDetections is the pure
// part of this package and is covered directly.

func TestDecodeDetectionsFiltersBelowConfidence(t *testing.T) {
	labels := []string{"person", "car"}
	output := []float32{
		0.1, 0.1, 0.2, 0.2, 0.9, 0, // person, high confidence
		0.3, 0.3, 0.4, 0.4, 0.1, 1, // car, below threshold
	}

	dets := DecodeDetections(output, labels, 0.5)

	assert.Len(t, dets, 1)
	assert.Equal(t, "person", dets[0].Label)
	assert.Equal(t, 0, dets[0].ClassID)
	assert.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
}

func TestDecodeDetectionsMapsOutOfRangeClassToUnknown(t *testing.T) {
	labels := []string{"person"}
	output := []float32{0, 0, 1, 1, 0.8, 7}

	dets := DecodeDetections(output, labels, 0.1)

	assert.Len(t, dets, 1)
	assert.Equal(t, "unknown", dets[0].Label)
	assert.Equal(t, 7, dets[0].ClassID)
}

func TestDecodeDetectionsHandlesTrailingPartialRecord(t *testing.T) {
	output := []float32{0, 0, 1, 1, 0.9} // short by one field
	dets := DecodeDetections(output, nil, 0.1)
	assert.Empty(t, dets)
}

func TestDecodeDetectionsEmptyOutput(t *testing.T) {
	assert.Empty(t, DecodeDetections(nil, nil, 0.1))
}
