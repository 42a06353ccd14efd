// Package config loads engine build profiles from YAML and server settings
// from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/swdee/go-trtlite"
	"gopkg.in/yaml.v2"
)

// BuildProfile is the YAML form of an engine build
type BuildProfile struct {
	Onnx       string  `yaml:"onnx"`
	Engine     string  `yaml:"engine"`
	InputName  string  `yaml:"input_name"`
	InputShape []int64 `yaml:"input_shape"`
	Batch      Batch   `yaml:"batch"`
	// WorkspaceGB is the builder scratch memory in GiB
	WorkspaceGB int  `yaml:"workspace_gb"`
	DisableFP16 bool `yaml:"disable_fp16"`
}

// Batch is the (min, opt, max) batch range of the optimization profile
type Batch struct {
	Min int `yaml:"min"`
	Opt int `yaml:"opt"`
	Max int `yaml:"max"`
}

// DefaultBuildProfile returns the profile for a 224x224 classifier with
// batches 1 to 32
func DefaultBuildProfile() BuildProfile {
	def := trtlite.DefaultBuildConfig()

	return BuildProfile{
		InputName:   def.InputName,
		InputShape:  []int64(def.InputShape),
		Batch:       Batch{Min: def.MinBatch, Opt: def.OptBatch, Max: def.MaxBatch},
		WorkspaceGB: def.WorkspaceGB,
	}
}

// LoadBuildProfile reads a build profile from a YAML file. Keys missing
// from the file keep their default values.
func LoadBuildProfile(path string) (BuildProfile, error) {

	data, err := os.ReadFile(path)

	if err != nil {
		return BuildProfile{}, fmt.Errorf("error reading build profile: %w", err)
	}

	return ParseBuildProfile(data)
}

// ParseBuildProfile decodes a YAML build profile over the defaults
func ParseBuildProfile(data []byte) (BuildProfile, error) {

	prof := DefaultBuildProfile()

	if err := yaml.UnmarshalStrict(data, &prof); err != nil {
		return BuildProfile{}, fmt.Errorf("error parsing build profile: %w", err)
	}

	return prof, nil
}

// BuildConfig converts the profile for trtlite.BuildEngine
func (p BuildProfile) BuildConfig() trtlite.BuildConfig {
	return trtlite.BuildConfig{
		OnnxPath:    p.Onnx,
		EnginePath:  p.Engine,
		InputName:   p.InputName,
		InputShape:  append(trtlite.Dims(nil), p.InputShape...),
		MinBatch:    p.Batch.Min,
		OptBatch:    p.Batch.Opt,
		MaxBatch:    p.Batch.Max,
		WorkspaceGB: p.WorkspaceGB,
		DisableFP16: p.DisableFP16,
	}
}

// Server holds the settings of the inference server
type Server struct {
	Port int
	// PoolSize is the number of Sessions, ie: batches in flight
	PoolSize int
	// Batch is the batch size every pooled Session is bound to
	Batch int
	// OrtLibrary is the path of the onnxruntime shared library
	OrtLibrary string
}

// LoadServer reads server settings from environment variables with
// defaults
func LoadServer() Server {
	return Server{
		Port:       envInt("TRTLITE_PORT", 8080),
		PoolSize:   envInt("TRTLITE_POOL_SIZE", 2),
		Batch:      envInt("TRTLITE_BATCH", 8),
		OrtLibrary: envStr("ORT_SHARED_LIBRARY_PATH", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
