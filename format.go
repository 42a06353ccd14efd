package trtlite

import (
	"path/filepath"
	"strings"
)

// ModelFormat is the serialization format of a graph file
type ModelFormat int

const (
	ModelFormatOnnx    ModelFormat = 1
	ModelFormatEngine  ModelFormat = 2
	ModelFormatUnknown ModelFormat = 999
)

// ClassifyModelFormat guesses the format of a model file from its extension
func ClassifyModelFormat(path string) ModelFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".onnx":
		return ModelFormatOnnx
	case ".engine", ".plan", ".trt":
		return ModelFormatEngine
	default:
		return ModelFormatUnknown
	}
}

// String returns a readable description of the ModelFormat
func (f ModelFormat) String() string {
	switch f {
	case ModelFormatOnnx:
		return "ONNX"
	case ModelFormatEngine:
		return "ENGINE"
	default:
		return "UNKNOWN"
	}
}
