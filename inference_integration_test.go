//go:build integration
// +build integration

package trtlite_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/swdee/go-trtlite"
	"github.com/swdee/go-trtlite/postprocess"
	"github.com/swdee/go-trtlite/preprocess"
)

func TestBuildAndClassify(t *testing.T) {

	onnxFile := os.Getenv("TRTLITE_ONNX")

	if onnxFile == "" {
		t.Fatalf("No ONNX file provided in TRTLITE_ONNX")
	}

	imgFile := os.Getenv("TRTLITE_IMAGE")

	if imgFile == "" {
		t.Fatalf("No Image file provided in TRTLITE_IMAGE")
	}

	// Initialize runtime
	backend, err := trtlite.NewBackend(trtlite.BackendConfig{})

	if err != nil {
		t.Fatalf("NewBackend failed: %v", err)
	}

	defer backend.Close()

	// build with the default 1/8/32 profile
	cfg := trtlite.DefaultBuildConfig()
	cfg.OnnxPath = onnxFile
	cfg.EnginePath = filepath.Join(t.TempDir(), "model.engine")

	if err := trtlite.BuildEngine(backend, cfg); err != nil {
		t.Fatalf("BuildEngine failed: %v", err)
	}

	engine, err := trtlite.LoadEngine(backend, cfg.EnginePath)

	if err != nil {
		t.Fatalf("LoadEngine failed: %v", err)
	}

	defer engine.Close()

	const batch = 4

	sess, err := engine.NewSession(batch)

	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	defer sess.Close()

	pre, err := preprocess.New(preprocess.ImageNet())

	if err != nil {
		t.Fatalf("preprocess.New failed: %v", err)
	}

	defer pre.Close()

	sample, err := pre.FromFile(imgFile)

	if err != nil {
		t.Fatalf("FromFile failed: %v", err)
	}

	// run inference
	outs, err := sess.RunFloat32(preprocess.Repeat(sample, batch))

	if err != nil {
		t.Fatalf("Inference error: %v", err)
	}

	logits, err := outs.Output[0].Float32()

	if err != nil {
		t.Fatalf("Float32 output: %v", err)
	}

	rows, err := postprocess.Reshape(logits, batch)

	if err != nil {
		t.Fatalf("Reshape: %v", err)
	}

	numClasses := len(rows[0])

	// every sample is the same image so every row must agree
	for i := 1; i < batch; i++ {
		if postprocess.Top(rows[i], 1)[0].Index != postprocess.Top(rows[0], 1)[0].Index {
			t.Errorf("sample %d top class differs from sample 0", i)
		}
	}

	top5 := postprocess.Top(rows[0], 5)

	for i, c := range top5 {

		if c.Confidence < 0 || c.Confidence > 100 {
			t.Errorf("entry %d: confidence %v out of [0,100]", i, c.Confidence)
		}

		if i > 0 && c.Confidence > top5[i-1].Confidence {
			t.Errorf("confidences not descending: index %d has %v > previous %v",
				i, c.Confidence, top5[i-1].Confidence)
		}

		if c.Index < 0 || c.Index >= numClasses {
			t.Errorf("entry %d: label index %d out of range [0,%d)", i, c.Index, numClasses)
		}
	}

	if classFile := os.Getenv("TRTLITE_CLASSES"); classFile != "" {
		labels, err := trtlite.LoadLabels(classFile)

		if err != nil {
			t.Fatalf("LoadLabels: %v", err)
		}

		if _, err := postprocess.Classify(rows[0], labels, postprocess.DefaultThreshold); err != nil {
			t.Errorf("Classify: %v", err)
		}
	}

	// a batch above the profile maximum must fail before running
	if _, err := engine.NewSession(33); err == nil {
		t.Errorf("expected batch 33 to be rejected")
	}
}
