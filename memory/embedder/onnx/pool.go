package onnx

import (
	"fmt"
	"math"
)

// MeanPool reduces a model output to one unit-length vector per input.
// A [batch, dims] output is taken as already pooled. A [batch, seq, dims]
// output is averaged over the attended positions of each mask.
func MeanPool(data []float32, shape []int64, encodings []Encoding, dims int) ([][]float32, error) {
	batch := len(encodings)
	switch len(shape) {
	case 2:
		if shape[0] != int64(batch) || shape[1] != int64(dims) {
			return nil, fmt.Errorf("unexpected output shape %v for batch %d dims %d", shape, batch, dims)
		}
		out := make([][]float32, batch)
		for b := range out {
			vec := make([]float32, dims)
			copy(vec, data[b*dims:(b+1)*dims])
			out[b] = Normalize(vec)
		}
		return out, nil

	case 3:
		if shape[0] != int64(batch) || shape[2] != int64(dims) {
			return nil, fmt.Errorf("unexpected output shape %v for batch %d dims %d", shape, batch, dims)
		}
		seqLen := int(shape[1])
		if len(data) < batch*seqLen*dims {
			return nil, fmt.Errorf("output has %d values, want %d", len(data), batch*seqLen*dims)
		}
		out := make([][]float32, batch)
		for b, enc := range encodings {
			vec := make([]float32, dims)
			attended := 0
			for i := 0; i < seqLen && i < len(enc.AttentionMask); i++ {
				if enc.AttentionMask[i] == 0 {
					continue
				}
				attended++
				offset := (b*seqLen + i) * dims
				for j := 0; j < dims; j++ {
					vec[j] += data[offset+j]
				}
			}
			if attended > 0 {
				for j := range vec {
					vec[j] /= float32(attended)
				}
			}
			out[b] = Normalize(vec)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unexpected output shape: %v", shape)
}

// Normalize scales vec to unit length. A zero vector is returned unchanged.
func Normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
	return vec
}

// Softmax converts logits to probabilities.
func Softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := logits[0]
	for _, l := range logits[1:] {
		if l > maxLogit {
			maxLogit = l
		}
	}
	probs := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		probs[i] = math.Exp(float64(l - maxLogit))
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}
