package trtlite

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// BuildConfig describes how to compile an ONNX graph into an engine
type BuildConfig struct {
	// OnnxPath is the graph file to parse
	OnnxPath string
	// EnginePath is where the serialized engine is written
	EnginePath string
	// InputName is the name of the dynamic input tensor in the graph
	InputName string
	// InputShape is the fixed per-sample shape of InputName
	InputShape Dims
	// MinBatch, OptBatch and MaxBatch define the optimization profile
	MinBatch int
	OptBatch int
	MaxBatch int
	// WorkspaceGB is the scratch memory budget in GiB, 0 leaves the runtime
	// default
	WorkspaceGB int
	// DisableFP16 turns off the opportunistic reduced precision fast path
	DisableFP16 bool
}

// DefaultBuildConfig returns the settings used for 224x224 ImageNet
// classifiers exported with a dynamic batch dimension
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		InputName:   "input",
		InputShape:  Dims{3, 224, 224},
		MinBatch:    1,
		OptBatch:    8,
		MaxBatch:    32,
		WorkspaceGB: 2,
	}
}

// Profile returns the optimization profile described by the config
func (c BuildConfig) Profile() OptimizationProfile {
	return OptimizationProfile{
		Input: c.InputName,
		Min:   c.MinBatch,
		Opt:   c.OptBatch,
		Max:   c.MaxBatch,
	}
}

// networkConfig validates the config and converts it for the runtime
func (c BuildConfig) networkConfig(backend Backend) (NetworkConfig, error) {

	if len(c.InputShape) == 0 {
		return NetworkConfig{}, fmt.Errorf("%w: input %q has no per-sample shape",
			ErrNoProfile, c.InputName)
	}

	if c.InputShape.IsDynamic() {
		return NetworkConfig{}, fmt.Errorf("%w: per-sample shape %s must be static",
			ErrInvalidProfile, c.InputShape.String())
	}

	if len(c.InputShape)+1 > MaxDims {
		return NetworkConfig{}, fmt.Errorf("%w: input rank %d exceeds %d",
			ErrInvalidProfile, len(c.InputShape)+1, MaxDims)
	}

	prof := c.Profile()

	if err := prof.Validate(); err != nil {
		return NetworkConfig{}, fmt.Errorf("%w: %w", ErrNoProfile, err)
	}

	if c.WorkspaceGB < 0 {
		return NetworkConfig{}, fmt.Errorf("workspace size %d GiB is negative", c.WorkspaceGB)
	}

	return NetworkConfig{
		InputName:      c.InputName,
		InputShape:     append(Dims(nil), c.InputShape...),
		Profile:        prof,
		WorkspaceBytes: int64(c.WorkspaceGB) << 30,
		FP16:           !c.DisableFP16 && backend.PlatformHasFastFP16(),
	}, nil
}

// BuildSerialized parses graph and returns the serialized engine
func BuildSerialized(backend Backend, graph []byte, cfg BuildConfig) ([]byte, error) {

	netCfg, err := cfg.networkConfig(backend)

	if err != nil {
		return nil, err
	}

	if len(graph) == 0 {
		return nil, nativeErr("parseFromFile", StatusParseFailed, "graph is empty")
	}

	log := Logger()

	if netCfg.FP16 {
		log.Info("platform has fast FP16, enabling reduced precision")
	}

	log.Info("building an engine...", "profile", netCfg.Profile.String(),
		"workspaceBytes", netCfg.WorkspaceBytes)

	blob, err := backend.Build(graph, netCfg)

	if err != nil {
		return nil, err
	}

	if len(blob) == 0 {
		return nil, nativeErr("buildSerializedNetwork", StatusBuildFailed, "runtime returned an empty engine")
	}

	return blob, nil
}

// BuildEngine parses the ONNX file at cfg.OnnxPath, compiles it and writes
// the serialized engine to cfg.EnginePath, overwriting any existing file. No
// file is written if parsing or building fails.
func BuildEngine(backend Backend, cfg BuildConfig) error {

	start := time.Now()
	log := Logger()

	if format := ClassifyModelFormat(cfg.OnnxPath); format != ModelFormatOnnx {
		return nativeErr("parseFromFile", StatusParseFailed,
			fmt.Sprintf("%s is a %s model, expected an .onnx file", cfg.OnnxPath, format.String()))
	}

	if cfg.EnginePath == "" {
		return fmt.Errorf("engine path is empty")
	}

	log.Info("begin parsing ONNX file", "path", cfg.OnnxPath)

	graph, err := os.ReadFile(cfg.OnnxPath)

	if err != nil {
		return fmt.Errorf("error reading ONNX file: %w", err)
	}

	blob, err := BuildSerialized(backend, graph, cfg)

	if err != nil {
		return err
	}

	log.Info("completed creating engine", "elapsed", time.Since(start).Round(time.Millisecond).String())

	if err := writeFileAtomic(cfg.EnginePath, blob); err != nil {
		return fmt.Errorf("error writing engine: %w", err)
	}

	log.Info("wrote serialized engine", "path", cfg.EnginePath, "bytes", len(blob))

	return nil
}

// writeFileAtomic writes data to a temporary file in the same directory and
// renames it over path
func writeFileAtomic(path string, data []byte) error {

	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")

	if err != nil {
		return err
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}

	return nil
}
