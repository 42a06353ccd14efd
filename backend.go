package trtlite

// ProviderCPU and ProviderCUDA select where the ONNX Runtime backend
// executes, TensorRT ignores them
const (
	ProviderCPU  = "cpu"
	ProviderCUDA = "cuda"
)

// DevicePtr is an address in device memory
type DevicePtr uintptr

// Device allocates memory and streams on one accelerator
type Device interface {
	// Malloc allocates size bytes of device memory
	Malloc(size int) (DevicePtr, error)
	// Free releases device memory returned by Malloc
	Free(ptr DevicePtr) error
	// MallocHost allocates size bytes of page-locked host memory used as the
	// landing zone for device to host copies
	MallocHost(size int) ([]byte, error)
	// FreeHost releases host memory returned by MallocHost
	FreeHost(buf []byte) error
	// NewStream creates an ordered queue of asynchronous operations
	NewStream() (Stream, error)
}

// Stream is an ordered queue of asynchronous device operations. Operations
// enqueued on the same stream execute in enqueue order. Only Synchronize
// blocks the caller.
type Stream interface {
	// CopyHostToDevice enqueues a copy of src into device memory at dst.
	// The caller may reuse src once the call returns.
	CopyHostToDevice(dst DevicePtr, src []byte) error
	// CopyDeviceToHost enqueues a copy of device memory at src into dst.
	// dst must not be read until Synchronize returns.
	CopyDeviceToHost(dst []byte, src DevicePtr) error
	// Synchronize blocks until every enqueued operation has completed and
	// returns the first failure reported by any of them
	Synchronize() error
	// Close releases the stream
	Close() error
}

// NativeEngine is the runtime's deserialized engine handle
type NativeEngine interface {
	// NumIOTensors returns the number of bindings
	NumIOTensors() int
	// IOTensor describes the binding at position idx in declared order
	IOTensor(idx int) (Binding, error)
	// ProfileShapes returns the (min, opt, max) shapes of a dynamic input for
	// the given profile index
	ProfileShapes(input string, profile int) (minShape, optShape, maxShape Dims, err error)
	// Serialize returns the engine blob
	Serialize() ([]byte, error)
	// NewContext creates an execution context
	NewContext() (NativeContext, error)
	// Close releases the engine
	Close() error
}

// NativeContext is the runtime's execution context handle
type NativeContext interface {
	// SetOptimizationProfile selects the active profile, ordered on stream
	SetOptimizationProfile(profile int, stream Stream) error
	// SetInputShape sets the concrete shape of an input binding
	SetInputShape(name string, shape Dims) error
	// Enqueue schedules the forward computation on stream with the device
	// addresses given in declared binding order
	Enqueue(stream Stream, addrs []DevicePtr) error
	// Close releases the context
	Close() error
}

// NetworkConfig is what the runtime needs to compile a graph into an engine
type NetworkConfig struct {
	// InputName is the dynamic input tensor of the graph
	InputName string
	// InputShape is the fixed per-sample shape, eg: (3, 224, 224)
	InputShape Dims
	// Profile is the admissible batch range of InputName
	Profile OptimizationProfile
	// WorkspaceBytes caps the scratch memory used for tactic selection, 0
	// leaves the runtime default
	WorkspaceBytes int64
	// FP16 enables the reduced precision fast path
	FP16 bool
}

// Backend is a vendor inference runtime able to compile graphs into engines
// and execute them
type Backend interface {
	// Name identifies the backend, eg: tensorrt
	Name() string
	// Version is the runtime library version engines are built against
	Version() string
	// Device returns the device engines execute on
	Device() Device
	// PlatformHasFastFP16 reports if the device has a fast FP16 path
	PlatformHasFastFP16() bool
	// Build parses an ONNX graph and returns a serialized engine
	Build(graph []byte, cfg NetworkConfig) ([]byte, error)
	// Deserialize reconstructs an engine from a serialized blob
	Deserialize(blob []byte) (NativeEngine, error)
	// Close releases the runtime
	Close() error
}
