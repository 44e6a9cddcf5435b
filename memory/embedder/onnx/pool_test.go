package onnx_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-buddy/memory/embedder/onnx"
)

func TestMeanPool_SkipsPadding(t *testing.T) {
	// batch 1, seq 3, dims 2; the last position is padding.
	data := []float32{1, 0, 3, 0, 100, 100}
	enc := onnx.Encoding{AttentionMask: []int64{1, 1, 0}}

	out, err := onnx.MeanPool(data, []int64{1, 3, 2}, []onnx.Encoding{enc}, 2)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 1.0, out[0][0], 1e-6)
	assert.InDelta(t, 0.0, out[0][1], 1e-6)
}

func TestMeanPool_AlreadyPooled(t *testing.T) {
	data := []float32{3, 4, 0, 2}
	encs := []onnx.Encoding{{}, {}}

	out, err := onnx.MeanPool(data, []int64{2, 2}, encs, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, out[0][0], 1e-6)
	assert.InDelta(t, 0.8, out[0][1], 1e-6)
	assert.InDelta(t, 1.0, out[1][1], 1e-6)
}

func TestMeanPool_ShapeMismatch(t *testing.T) {
	_, err := onnx.MeanPool([]float32{1, 2}, []int64{1, 2}, []onnx.Encoding{{}}, 3)
	assert.Error(t, err)

	_, err = onnx.MeanPool(nil, []int64{1}, []onnx.Encoding{{}}, 1)
	assert.Error(t, err)
}

func TestSoftmax(t *testing.T) {
	probs := onnx.Softmax([]float32{1, 1, 1, 1})
	for _, p := range probs {
		assert.InDelta(t, 0.25, p, 1e-9)
	}

	probs = onnx.Softmax([]float32{1000, 0})
	assert.InDelta(t, 1.0, probs[0], 1e-9)
	assert.False(t, math.IsNaN(probs[1]))
}
