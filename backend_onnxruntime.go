//go:build !tensorrt

package trtlite

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// BackendName is the name of the runtime compiled into this build
const BackendName = "onnxruntime"

// BackendConfig selects and configures the runtime
type BackendConfig struct {
	// DeviceID is the GPU ordinal used by the CUDA execution provider
	DeviceID int
	// SharedLibraryPath is the onnxruntime shared library, when empty the
	// ORT_SHARED_LIBRARY_PATH environment variable is used
	SharedLibraryPath string
	// Provider is cpu or cuda
	Provider string
}

var (
	// envMu guards the process wide onnxruntime environment
	envMu   sync.Mutex
	envRefs int
)

// ortBackend runs engines with ONNX Runtime. Device memory and streams are
// modelled in host memory, ONNX Runtime moves tensors to the GPU itself when
// the CUDA provider is selected.
type ortBackend struct {
	cfg     BackendConfig
	device  *hostDevice
	version string

	closeOnce sync.Once
}

// NewBackend initializes the ONNX Runtime environment
func NewBackend(cfg BackendConfig) (Backend, error) {

	if cfg.Provider == "" {
		cfg.Provider = ProviderCPU
	}

	if cfg.Provider != ProviderCPU && cfg.Provider != ProviderCUDA {
		return nil, nativeErr("createInferRuntime", StatusParamInvalid,
			fmt.Sprintf("unknown execution provider %q", cfg.Provider))
	}

	if cfg.SharedLibraryPath == "" {
		cfg.SharedLibraryPath = os.Getenv("ORT_SHARED_LIBRARY_PATH")
	}

	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 && !ort.IsInitialized() {
		if cfg.SharedLibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
		}

		if err := ort.InitializeEnvironment(); err != nil {
			return nil, nativeErr("createInferRuntime", StatusDeviceUnavail, err.Error())
		}
	}

	envRefs++

	b := &ortBackend{
		cfg:     cfg,
		device:  newHostDevice(),
		version: ort.GetVersion(),
	}

	Logger().V(1).Info("initialized runtime", "backend", BackendName,
		"version", b.version, "provider", cfg.Provider)

	return b, nil
}

// Name returns onnxruntime
func (b *ortBackend) Name() string {
	return BackendName
}

// Version returns the onnxruntime library version
func (b *ortBackend) Version() string {
	return b.version
}

// Device returns the host memory device
func (b *ortBackend) Device() Device {
	return b.device
}

// PlatformHasFastFP16 is true when executing on the CUDA provider
func (b *ortBackend) PlatformHasFastFP16() bool {
	return b.cfg.Provider == ProviderCUDA
}

// Build reads the graph's inputs and outputs and records them with the
// profile in an engine plan. The graph itself is embedded and compiled by
// ONNX Runtime when a context is created.
func (b *ortBackend) Build(graph []byte, cfg NetworkConfig) ([]byte, error) {

	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(graph)

	if err != nil {
		return nil, nativeErr("parseFromFile", StatusParseFailed, err.Error())
	}

	logNative(SeverityInfo, fmt.Sprintf("parsed graph with %d inputs and %d outputs",
		len(inputs), len(outputs)))

	plan := &enginePlan{
		FormatVersion:  planFormatVersion,
		Backend:        BackendName,
		RuntimeVersion: b.version,
		FP16:           cfg.FP16,
		WorkspaceBytes: cfg.WorkspaceBytes,
		ProfileInput:   cfg.InputName,
		Graph:          graph,
	}

	minShape, optShape, maxShape := cfg.Profile.Shapes(cfg.InputShape)
	plan.ProfileShapes = [3]Dims{minShape, optShape, maxShape}

	found := false

	for _, info := range inputs {
		bind, err := ortBinding(len(plan.Bindings), ModeInput, info)

		if err != nil {
			return nil, err
		}

		if info.Name == cfg.InputName {
			if err := checkInputShape(bind.Shape, cfg.InputShape, plan.ProfileShapes); err != nil {
				return nil, err
			}

			// a static batch dimension stays in the binding
			batch := bind.Shape[0]
			bind.Shape = append(Dims{batch}, cfg.InputShape...)
			found = true
		}

		plan.Bindings = append(plan.Bindings, bind)
	}

	if !found {
		return nil, nativeErr("setDimensions", StatusBuildFailed,
			fmt.Sprintf("graph has no input named %q", cfg.InputName))
	}

	for _, info := range outputs {
		bind, err := ortBinding(len(plan.Bindings), ModeOutput, info)

		if err != nil {
			return nil, err
		}

		plan.Bindings = append(plan.Bindings, bind)
	}

	if cfg.FP16 {
		logNative(SeverityWarning, "FP16 requested, ONNX Runtime keeps the graph precision and lets the provider choose kernels")
	}

	return plan.marshal(), nil
}

// ortBinding converts graph tensor info into a Binding. Only dimension 0 may
// be symbolic.
func ortBinding(idx int, mode IOMode, info ort.InputOutputInfo) (Binding, error) {

	if info.OrtValueType != ort.ONNXTypeTensor {
		return Binding{}, nativeErr("buildSerializedNetwork", StatusBuildFailed,
			fmt.Sprintf("%q is a %s, only tensors are supported", info.Name, info.OrtValueType.String()))
	}

	dt, err := fromOrtType(info.DataType)

	if err != nil {
		return Binding{}, nativeErr("buildSerializedNetwork", StatusBuildFailed,
			fmt.Sprintf("tensor %q: %s", info.Name, err.Error()))
	}

	if len(info.Dimensions) == 0 || len(info.Dimensions) > MaxDims {
		return Binding{}, nativeErr("buildSerializedNetwork", StatusBuildFailed,
			fmt.Sprintf("tensor %q has unsupported rank %d", info.Name, len(info.Dimensions)))
	}

	shape := make(Dims, len(info.Dimensions))

	for i, v := range info.Dimensions {
		if v < 0 {
			if i > 0 {
				return Binding{}, nativeErr("buildSerializedNetwork", StatusBuildFailed,
					fmt.Sprintf("tensor %q has symbolic dimension %d, only the batch dimension may be dynamic",
						info.Name, i))
			}

			v = -1
		}

		shape[i] = v
	}

	return Binding{
		Index: idx,
		Name:  info.Name,
		Mode:  mode,
		Shape: shape,
		Type:  dt,
	}, nil
}

// checkInputShape verifies the per-sample shape against the graph's input.
// A graph exported with a static batch only accepts a profile pinned to that
// batch.
func checkInputShape(graph, sample Dims, profile [3]Dims) error {

	if len(graph) != len(sample)+1 {
		return nativeErr("setDimensions", StatusBuildFailed,
			fmt.Sprintf("input rank %d does not match per-sample shape %s", len(graph), sample.String()))
	}

	if g := graph[0]; g >= 0 {
		for _, p := range profile {
			if len(p) == 0 || p[0] != g {
				return nativeErr("buildSerializedNetwork", StatusBuildFailed,
					fmt.Sprintf("input has static batch %d, profile [%d, %d, %d] must be pinned to it",
						g, profileBatch(profile[0]), profileBatch(profile[1]), profileBatch(profile[2])))
			}
		}
	}

	for i, v := range sample {
		if g := graph[i+1]; g >= 0 && g != v {
			return nativeErr("setDimensions", StatusBuildFailed,
				fmt.Sprintf("input dimension %d is %d in the graph, profile requests %d", i+1, g, v))
		}
	}

	return nil
}

// profileBatch returns dimension 0 of a profile shape or -1 when unset
func profileBatch(d Dims) int64 {
	if len(d) == 0 {
		return -1
	}

	return d[0]
}

// fromOrtType maps an ONNX element type onto DataType
func fromOrtType(t ort.TensorElementDataType) (DataType, error) {
	switch t {
	case ort.TensorElementDataTypeFloat:
		return Float, nil
	case ort.TensorElementDataTypeFloat16:
		return Half, nil
	case ort.TensorElementDataTypeInt8:
		return Int8, nil
	case ort.TensorElementDataTypeUint8:
		return Uint8, nil
	case ort.TensorElementDataTypeInt32:
		return Int32, nil
	case ort.TensorElementDataTypeInt64:
		return Int64, nil
	case ort.TensorElementDataTypeBool:
		return Bool, nil
	default:
		return 0, fmt.Errorf("unsupported element type %s", t.String())
	}
}

// toOrtType maps a DataType onto the ONNX element type
func toOrtType(t DataType) ort.TensorElementDataType {
	switch t {
	case Half:
		return ort.TensorElementDataTypeFloat16
	case Int8:
		return ort.TensorElementDataTypeInt8
	case Uint8:
		return ort.TensorElementDataTypeUint8
	case Int32:
		return ort.TensorElementDataTypeInt32
	case Int64:
		return ort.TensorElementDataTypeInt64
	case Bool:
		return ort.TensorElementDataTypeBool
	default:
		return ort.TensorElementDataTypeFloat
	}
}

// Deserialize validates an engine plan and returns an engine that creates
// ONNX Runtime sessions from the embedded graph
func (b *ortBackend) Deserialize(blob []byte) (NativeEngine, error) {

	plan, err := unmarshalPlan(blob)

	if err != nil {
		return nil, err
	}

	if err := plan.checkCompatible(BackendName, b.version); err != nil {
		return nil, err
	}

	if len(plan.Graph) == 0 {
		return nil, nativeErr("deserializeEngine", StatusModelInvalid, "plan has no graph")
	}

	return &planEngine{
		plan:       plan,
		newContext: b.newContext,
	}, nil
}

// newContext compiles the embedded graph into an ONNX Runtime session
func (b *ortBackend) newContext(plan *enginePlan) (NativeContext, error) {

	var inNames, outNames []string

	for _, bind := range plan.Bindings {
		if bind.IsInput() {
			inNames = append(inNames, bind.Name)
		} else {
			outNames = append(outNames, bind.Name)
		}
	}

	opts, err := b.sessionOptions()

	if err != nil {
		return nil, err
	}

	defer opts.Destroy()

	sess, err := ort.NewDynamicAdvancedSessionWithONNXData(plan.Graph, inNames, outNames, opts)

	if err != nil {
		return nil, nativeErr("createExecutionContext", StatusCtxInvalid, err.Error())
	}

	return &ortContext{
		plan:    plan,
		device:  b.device,
		session: sess,
		shapes:  make(map[string]Dims),
		profile: -1,
	}, nil
}

// sessionOptions appends the configured execution provider
func (b *ortBackend) sessionOptions() (*ort.SessionOptions, error) {

	opts, err := ort.NewSessionOptions()

	if err != nil {
		return nil, nativeErr("createExecutionContext", StatusFail, err.Error())
	}

	if b.cfg.Provider != ProviderCUDA {
		return opts, nil
	}

	cudaOpts, err := ort.NewCUDAProviderOptions()

	if err != nil {
		opts.Destroy()
		return nil, nativeErr("createExecutionContext", StatusDeviceUnavail, err.Error())
	}

	defer cudaOpts.Destroy()

	err = cudaOpts.Update(map[string]string{
		"device_id": strconv.Itoa(b.cfg.DeviceID),
	})

	if err != nil {
		opts.Destroy()
		return nil, nativeErr("createExecutionContext", StatusDeviceUnavail, err.Error())
	}

	if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		opts.Destroy()
		return nil, nativeErr("createExecutionContext", StatusDeviceUnavail, err.Error())
	}

	return opts, nil
}

// Close releases the onnxruntime environment once the last backend closes
func (b *ortBackend) Close() error {
	var err error

	b.closeOnce.Do(func() {
		envMu.Lock()
		defer envMu.Unlock()

		envRefs--

		if envRefs == 0 {
			if derr := ort.DestroyEnvironment(); derr != nil {
				err = nativeErr("destroyInferRuntime", StatusFail, derr.Error())
			}
		}
	})

	return err
}

// ortContext executes one ONNX Runtime session on a hostStream
type ortContext struct {
	plan    *enginePlan
	device  *hostDevice
	session *ort.DynamicAdvancedSession
	shapes  map[string]Dims
	profile int

	mu     sync.Mutex
	closed bool
}

// SetOptimizationProfile selects the plan's single profile
func (c *ortContext) SetOptimizationProfile(profile int, stream Stream) error {

	if profile != 0 {
		return nativeErr("setOptimizationProfileAsync", StatusParamInvalid,
			fmt.Sprintf("profile %d does not exist, engine has 1 profile", profile))
	}

	hs, ok := stream.(*hostStream)

	if !ok {
		return nativeErr("setOptimizationProfileAsync", StatusParamInvalid,
			"stream does not belong to the onnxruntime backend")
	}

	return hs.enqueue("setOptimizationProfileAsync", func() error {
		c.mu.Lock()
		c.profile = profile
		c.mu.Unlock()
		return nil
	})
}

// SetInputShape validates shape against the binding and the profile
func (c *ortContext) SetInputShape(name string, shape Dims) error {

	var bind *Binding

	for i := range c.plan.Bindings {
		if c.plan.Bindings[i].Name == name {
			bind = &c.plan.Bindings[i]
			break
		}
	}

	if bind == nil || !bind.IsInput() {
		return nativeErr("setInputShape", StatusParamInvalid,
			fmt.Sprintf("%q is not an input tensor", name))
	}

	if len(shape) != len(bind.Shape) || shape.IsDynamic() {
		return nativeErr("setInputShape", StatusShapeInvalid,
			fmt.Sprintf("shape %s does not match binding %s", shape.String(), bind.Shape.String()))
	}

	for i := 0; i < len(shape); i++ {
		// dimension 0 is checked against the profile unless the graph fixes it
		if i == 0 && bind.Shape[0] < 0 {
			continue
		}

		if bind.Shape[i] != shape[i] {
			return nativeErr("setInputShape", StatusShapeInvalid,
				fmt.Sprintf("shape %s does not match binding %s", shape.String(), bind.Shape.String()))
		}
	}

	if name == c.plan.ProfileInput {
		minShape, maxShape := c.plan.ProfileShapes[0], c.plan.ProfileShapes[2]

		if shape[0] < minShape[0] || shape[0] > maxShape[0] {
			return nativeErr("setInputShape", StatusShapeInvalid,
				fmt.Sprintf("batch %d outside profile [%d, %d]", shape[0], minShape[0], maxShape[0]))
		}
	}

	c.mu.Lock()
	c.shapes[name] = append(Dims(nil), shape...)
	c.mu.Unlock()

	return nil
}

// Enqueue schedules a session run on the stream. Tensors are created over
// the device buffers so outputs land directly in device memory.
func (c *ortContext) Enqueue(stream Stream, addrs []DevicePtr) error {

	hs, ok := stream.(*hostStream)

	if !ok {
		return nativeErr("enqueueV3", StatusParamInvalid,
			"stream does not belong to the onnxruntime backend")
	}

	if len(addrs) != len(c.plan.Bindings) {
		return nativeErr("enqueueV3", StatusEnqueueFailed,
			fmt.Sprintf("got %d tensor addresses, engine has %d bindings", len(addrs), len(c.plan.Bindings)))
	}

	c.mu.Lock()
	closed := c.closed
	shapes := make([]Dims, len(c.plan.Bindings))
	batch := int64(-1)

	if s, ok := c.shapes[c.plan.ProfileInput]; ok {
		batch = s[0]
	}

	for i, bind := range c.plan.Bindings {
		if bind.IsInput() {
			shapes[i] = c.shapes[bind.Name]
			continue
		}

		shapes[i] = bind.Shape

		if bind.Shape[0] < 0 {
			shapes[i] = bind.Shape.WithBatch(int(batch))
		}
	}

	c.mu.Unlock()

	if closed {
		return nativeErr("enqueueV3", StatusCtxInvalid, "context is closed")
	}

	for i, s := range shapes {
		if s == nil || s.IsDynamic() {
			return nativeErr("enqueueV3", StatusShapeInvalid,
				fmt.Sprintf("binding %q has no shape set", c.plan.Bindings[i].Name))
		}
	}

	return hs.enqueue("enqueueV3", func() error {
		return c.execute(addrs, shapes)
	})
}

// execute runs the session synchronously on the stream worker
func (c *ortContext) execute(addrs []DevicePtr, shapes []Dims) error {

	var inputs, outputs []ort.Value

	defer func() {
		for _, v := range inputs {
			_ = v.Destroy()
		}

		for _, v := range outputs {
			_ = v.Destroy()
		}
	}()

	for i, bind := range c.plan.Bindings {
		buf, err := c.device.resolve(addrs[i])

		if err != nil {
			return nativeErr("enqueueV3", StatusEnqueueFailed, err.Error())
		}

		want := int(shapes[i].Volume()) * bind.Type.Size()

		if want > len(buf) {
			return nativeErr("enqueueV3", StatusEnqueueFailed,
				fmt.Sprintf("binding %q needs %d bytes, buffer has %d", bind.Name, want, len(buf)))
		}

		t, err := ort.NewCustomDataTensor(ort.Shape(shapes[i]), buf[:want], toOrtType(bind.Type))

		if err != nil {
			return nativeErr("enqueueV3", StatusEnqueueFailed,
				fmt.Sprintf("tensor %q: %s", bind.Name, err.Error()))
		}

		if bind.IsInput() {
			inputs = append(inputs, t)
		} else {
			outputs = append(outputs, t)
		}
	}

	if err := c.session.Run(inputs, outputs); err != nil {
		return nativeErr("enqueueV3", StatusEnqueueFailed, err.Error())
	}

	return nil
}

// Close destroys the session
func (c *ortContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	if err := c.session.Destroy(); err != nil {
		return nativeErr("destroyExecutionContext", StatusFail, err.Error())
	}

	return nil
}
