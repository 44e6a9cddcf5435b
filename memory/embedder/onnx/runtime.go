//go:build onnx

package onnx

import (
	"fmt"
	"log"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// InitRuntime loads the ONNX Runtime shared library once per process.
// An empty libPath leaves the library lookup to the platform default.
// Later calls return the first call's result.
func InitRuntime(libPath string) error {
	runtimeOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			runtimeErr = fmt.Errorf("initialize onnx runtime: %w", err)
			return
		}
		log.Printf("[ONNX] Runtime initialized (version %s)", ort.GetVersion())
	})
	return runtimeErr
}

// Run executes session on a batch of encodings and returns the first output
// tensor's data and shape. It is shared by every BERT-input model.
func Run(session *ort.DynamicAdvancedSession, encodings []Encoding) ([]float32, []int64, error) {
	if len(encodings) == 0 {
		return nil, nil, fmt.Errorf("empty batch")
	}
	seqLen := len(encodings[0].InputIDs)
	shape := ort.NewShape(int64(len(encodings)), int64(seqLen))

	ids := make([]int64, 0, len(encodings)*seqLen)
	mask := make([]int64, 0, len(encodings)*seqLen)
	types := make([]int64, 0, len(encodings)*seqLen)
	for _, enc := range encodings {
		ids = append(ids, enc.InputIDs...)
		mask = append(mask, enc.AttentionMask...)
		types = append(types, enc.TokenTypeIDs...)
	}

	idsTensor, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, nil, fmt.Errorf("create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	typesTensor, err := ort.NewTensor(shape, types)
	if err != nil {
		return nil, nil, fmt.Errorf("create token_type_ids tensor: %w", err)
	}
	defer typesTensor.Destroy()

	// A nil output is allocated by Run.
	outputs := []ort.Value{nil}
	if err := session.Run([]ort.Value{idsTensor, maskTensor, typesTensor}, outputs); err != nil {
		return nil, nil, fmt.Errorf("onnx inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok || tensor == nil {
		return nil, nil, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}

	// Copy out before the deferred Destroy frees the tensor memory.
	data := append([]float32(nil), tensor.GetData()...)
	return data, []int64(tensor.GetShape()), nil
}
