package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swdee/go-trtlite"
)

func TestParseBuildProfileDefaults(t *testing.T) {
	prof, err := ParseBuildProfile([]byte("onnx: resnet50.onnx\nengine: resnet50.engine\n"))
	require.NoError(t, err)

	cfg := prof.BuildConfig()

	assert.Equal(t, "resnet50.onnx", cfg.OnnxPath)
	assert.Equal(t, "resnet50.engine", cfg.EnginePath)
	assert.Equal(t, "input", cfg.InputName)
	assert.Equal(t, trtlite.Dims{3, 224, 224}, cfg.InputShape)
	assert.Equal(t, 1, cfg.MinBatch)
	assert.Equal(t, 8, cfg.OptBatch)
	assert.Equal(t, 32, cfg.MaxBatch)
	assert.Equal(t, 2, cfg.WorkspaceGB)
	assert.False(t, cfg.DisableFP16)
}

func TestParseBuildProfileOverrides(t *testing.T) {
	data := []byte(`
onnx: mobilenet.onnx
engine: mobilenet.plan
input_name: images
input_shape: [3, 192, 192]
batch:
  min: 2
  opt: 4
  max: 16
workspace_gb: 1
disable_fp16: true
`)

	prof, err := ParseBuildProfile(data)
	require.NoError(t, err)

	cfg := prof.BuildConfig()

	assert.Equal(t, "images", cfg.InputName)
	assert.Equal(t, trtlite.Dims{3, 192, 192}, cfg.InputShape)
	assert.Equal(t, trtlite.OptimizationProfile{Input: "images", Min: 2, Opt: 4, Max: 16}, cfg.Profile())
	assert.Equal(t, 1, cfg.WorkspaceGB)
	assert.True(t, cfg.DisableFP16)
}

func TestParseBuildProfileRejectsUnknownKeys(t *testing.T) {
	_, err := ParseBuildProfile([]byte("max_batch: 64\n"))
	assert.Error(t, err)
}

func TestLoadBuildProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workspace_gb: 4\n"), 0o644))

	prof, err := LoadBuildProfile(path)
	require.NoError(t, err)
	assert.Equal(t, 4, prof.WorkspaceGB)

	_, err = LoadBuildProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadServer(t *testing.T) {
	t.Setenv("TRTLITE_PORT", "9000")
	t.Setenv("TRTLITE_POOL_SIZE", "not-a-number")
	t.Setenv("TRTLITE_BATCH", "")
	t.Setenv("ORT_SHARED_LIBRARY_PATH", "/opt/ort/libonnxruntime.so")

	srv := LoadServer()

	assert.Equal(t, 9000, srv.Port)
	assert.Equal(t, 2, srv.PoolSize)
	assert.Equal(t, 8, srv.Batch)
	assert.Equal(t, "/opt/ort/libonnxruntime.so", srv.OrtLibrary)
}
