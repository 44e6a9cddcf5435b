// Package onnx runs BERT-style models through ONNX Runtime.
//
// The tokenizer and pooling helpers build everywhere. The Embedder and the
// runtime bindings need cgo and the onnxruntime shared library, so they are
// only compiled with the onnx build tag:
//
//	go build -tags onnx ./...
package onnx
