package trtlite

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/x448/float16"
)

// recorder captures the order of native operations across a test
type recorder struct {
	mu  sync.Mutex
	ops []string
}

func (r *recorder) add(op string) {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.ops...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.ops = nil
	r.mu.Unlock()
}

// fakeBackend is a host runtime for tests. It builds plans for a single
// input image classifier with a fixed number of classes and executes a
// deterministic forward pass: logit c of sample b is c * input[b][0].
type fakeBackend struct {
	classes int
	fp16    bool
	// inType and outType are the data types of the input and output bindings
	inType  DataType
	outType DataType
	// failEnqueue makes every forward pass fail asynchronously
	failEnqueue bool
	// failParse makes Build reject every graph
	failParse bool

	rec *recorder
	dev *fakeDevice
}

func newFakeBackend(classes int) *fakeBackend {
	rec := &recorder{}

	return &fakeBackend{
		classes: classes,
		inType:  Float,
		outType: Float,
		rec:     rec,
		dev:     &fakeDevice{hostDevice: newHostDevice(), rec: rec},
	}
}

func (b *fakeBackend) Name() string              { return "fake" }
func (b *fakeBackend) Version() string           { return "1.0.0" }
func (b *fakeBackend) Device() Device            { return b.dev }
func (b *fakeBackend) PlatformHasFastFP16() bool { return b.fp16 }
func (b *fakeBackend) Close() error              { return nil }

func (b *fakeBackend) Build(graph []byte, cfg NetworkConfig) ([]byte, error) {
	if b.failParse {
		return nil, nativeErr("parseFromFile", StatusParseFailed, "ModelImporter: unexpected end of graph")
	}

	minShape, optShape, maxShape := cfg.Profile.Shapes(cfg.InputShape)

	plan := &enginePlan{
		FormatVersion:  planFormatVersion,
		Backend:        b.Name(),
		RuntimeVersion: b.Version(),
		FP16:           cfg.FP16,
		WorkspaceBytes: cfg.WorkspaceBytes,
		ProfileInput:   cfg.InputName,
		ProfileShapes:  [3]Dims{minShape, optShape, maxShape},
		Bindings: []Binding{
			{Index: 0, Name: cfg.InputName, Mode: ModeInput, Shape: append(Dims{-1}, cfg.InputShape...), Type: b.inType},
			{Index: 1, Name: "output", Mode: ModeOutput, Shape: Dims{-1, int64(b.classes)}, Type: b.outType},
		},
		Graph: graph,
	}

	return plan.marshal(), nil
}

func (b *fakeBackend) Deserialize(blob []byte) (NativeEngine, error) {
	plan, err := unmarshalPlan(blob)

	if err != nil {
		return nil, err
	}

	if err := plan.checkCompatible(b.Name(), b.Version()); err != nil {
		return nil, err
	}

	return &planEngine{
		plan: plan,
		newContext: func(p *enginePlan) (NativeContext, error) {
			return &fakeContext{backend: b, plan: p, shapes: make(map[string]Dims)}, nil
		},
	}, nil
}

// fakeDevice records stream operations on top of host memory
type fakeDevice struct {
	*hostDevice
	rec *recorder
}

func (d *fakeDevice) NewStream() (Stream, error) {
	return &fakeStream{hostStream: newHostStream(d.hostDevice), rec: d.rec}, nil
}

type fakeStream struct {
	*hostStream
	rec *recorder
}

func (s *fakeStream) CopyHostToDevice(dst DevicePtr, src []byte) error {
	s.rec.add("h2d")
	return s.hostStream.CopyHostToDevice(dst, src)
}

func (s *fakeStream) CopyDeviceToHost(dst []byte, src DevicePtr) error {
	s.rec.add("d2h")
	return s.hostStream.CopyDeviceToHost(dst, src)
}

func (s *fakeStream) Synchronize() error {
	s.rec.add("sync")
	return s.hostStream.Synchronize()
}

type fakeContext struct {
	backend *fakeBackend
	plan    *enginePlan
	shapes  map[string]Dims
}

func (c *fakeContext) SetOptimizationProfile(profile int, stream Stream) error {
	c.backend.rec.add(fmt.Sprintf("profile %d", profile))
	return nil
}

func (c *fakeContext) SetInputShape(name string, shape Dims) error {
	c.backend.rec.add("shape " + name + " " + shape.String())

	maxShape := c.plan.ProfileShapes[2]

	if shape[0] > maxShape[0] {
		return nativeErr("setInputShape", StatusShapeInvalid, "batch exceeds profile")
	}

	c.shapes[name] = shape
	return nil
}

func (c *fakeContext) Enqueue(stream Stream, addrs []DevicePtr) error {
	c.backend.rec.add("enqueue")

	fs := stream.(*fakeStream)
	batch := int(c.shapes[c.plan.ProfileInput][0])

	return fs.enqueue("enqueueV3", func() error {
		if c.backend.failEnqueue {
			return nativeErr("enqueueV3", StatusEnqueueFailed, "an illegal memory access was encountered")
		}

		in, err := fs.dev.resolve(addrs[0])

		if err != nil {
			return err
		}

		out, err := fs.dev.resolve(addrs[1])

		if err != nil {
			return err
		}

		sample := len(in) / batch

		for bi := 0; bi < batch; bi++ {
			x := math.Float32frombits(binary.LittleEndian.Uint32(in[bi*sample:]))

			if c.backend.inType == Half {
				x = float16.Frombits(binary.LittleEndian.Uint16(in[bi*sample:])).Float32()
			}

			for cl := 0; cl < c.backend.classes; cl++ {
				v := float32(cl) * x
				idx := bi*c.backend.classes + cl

				if c.backend.outType == Half {
					binary.LittleEndian.PutUint16(out[idx*2:], Float32ToFloat16([]float32{v})[0])
				} else {
					binary.LittleEndian.PutUint32(out[idx*4:], math.Float32bits(v))
				}
			}
		}

		return nil
	})
}

func (c *fakeContext) Close() error {
	return nil
}

// buildFakeEngine builds and loads an engine for a (3, h, w) input with the
// given profile
func buildFakeEngine(b *fakeBackend, sample Dims, minB, optB, maxB int) (*Engine, error) {
	cfg := DefaultBuildConfig()
	cfg.InputShape = sample
	cfg.MinBatch = minB
	cfg.OptBatch = optB
	cfg.MaxBatch = maxB

	blob, err := BuildSerialized(b, []byte("onnx-graph"), cfg)

	if err != nil {
		return nil, err
	}

	return DeserializeEngine(b, blob)
}
