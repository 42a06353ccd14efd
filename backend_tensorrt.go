//go:build tensorrt && cgo

package trtlite

// #cgo LDFLAGS: -lnvinfer -lnvonnxparser -lcudart -lstdc++
// #cgo LDFLAGS: -L/usr/local/cuda/lib64 -L/usr/lib/x86_64-linux-gnu
// #cgo CXXFLAGS: -std=c++17 -O3 -Wall -Wno-deprecated-declarations
// #cgo CXXFLAGS: -I/usr/local/cuda/include -I/usr/include/x86_64-linux-gnu
// #cgo CFLAGS: -I/usr/local/cuda/include
// #include <stdlib.h>
// #include "trt_bridge.h"
import "C"
import (
	"fmt"
	"sync"
	"unsafe"
)

// BackendName is the name of the runtime compiled into this build
const BackendName = "tensorrt"

// errLen is the size of the buffer native calls write error text into
const errLen = 1024

// BackendConfig selects and configures the runtime
type BackendConfig struct {
	// DeviceID is the CUDA device ordinal
	DeviceID int
	// SharedLibraryPath is unused, TensorRT is linked at build time
	SharedLibraryPath string
	// Provider is unused, TensorRT always executes on the GPU
	Provider string
}

//export goTrtLog
func goTrtLog(severity C.int, msg *C.char) {
	logNative(Severity(severity), C.GoString(msg))
}

// call runs a bridge function with an error buffer and converts a non zero
// status into a NativeError
func call(op string, fn func(err *C.char, errlen C.size_t) C.int) error {
	buf := (*C.char)(C.malloc(errLen))
	defer C.free(unsafe.Pointer(buf))

	*buf = 0

	ret := fn(buf, errLen)

	if ret != C.TRT_SUCCESS {
		return nativeErr(op, Status(ret), C.GoString(buf))
	}

	return nil
}

// trtBackend wraps nvinfer1::IRuntime on one CUDA device
type trtBackend struct {
	rt      C.trt_runtime
	device  *cudaDevice
	version string
	fp16    bool

	closeOnce sync.Once
}

// NewBackend creates a TensorRT runtime on cfg.DeviceID
func NewBackend(cfg BackendConfig) (Backend, error) {

	var rt C.trt_runtime

	err := call("createInferRuntime", func(e *C.char, n C.size_t) C.int {
		return C.trt_runtime_create(C.int(cfg.DeviceID), &rt, e, n)
	})

	if err != nil {
		return nil, err
	}

	ver := (*C.char)(C.malloc(64))
	defer C.free(unsafe.Pointer(ver))

	C.trt_version(ver, 64)

	b := &trtBackend{
		rt:      rt,
		device:  newCudaDevice(),
		version: C.GoString(ver),
		fp16:    C.trt_platform_has_fast_fp16(rt) == 1,
	}

	Logger().V(1).Info("initialized runtime", "backend", BackendName,
		"version", b.version, "device", cfg.DeviceID)

	return b, nil
}

// Name returns tensorrt
func (b *trtBackend) Name() string {
	return BackendName
}

// Version returns the TensorRT version the bridge was compiled against
func (b *trtBackend) Version() string {
	return b.version
}

// Device returns the CUDA device
func (b *trtBackend) Device() Device {
	return b.device
}

// PlatformHasFastFP16 wraps IBuilder::platformHasFastFp16
func (b *trtBackend) PlatformHasFastFP16() bool {
	return b.fp16
}

// Build parses the ONNX graph and builds a serialized network
func (b *trtBackend) Build(graph []byte, cfg NetworkConfig) ([]byte, error) {

	minShape, optShape, maxShape := cfg.Profile.Shapes(cfg.InputShape)

	cInput := C.CString(cfg.InputName)
	defer C.free(unsafe.Pointer(cInput))

	cGraph := C.CBytes(graph)
	defer C.free(cGraph)

	fp16 := C.int(0)

	if cfg.FP16 {
		fp16 = 1
	}

	var blob unsafe.Pointer
	var blobLen C.size_t

	err := call("buildSerializedNetwork", func(e *C.char, n C.size_t) C.int {
		return C.trt_build(b.rt, cGraph, C.size_t(len(graph)), cInput,
			(*C.int64_t)(unsafe.Pointer(&minShape[0])),
			(*C.int64_t)(unsafe.Pointer(&optShape[0])),
			(*C.int64_t)(unsafe.Pointer(&maxShape[0])),
			C.int(len(minShape)), C.int64_t(cfg.WorkspaceBytes), fp16,
			&blob, &blobLen, e, n)
	})

	if err != nil {
		return nil, err
	}

	defer C.trt_blob_free(blob)

	return C.GoBytes(blob, C.int(blobLen)), nil
}

// Deserialize wraps IRuntime::deserializeCudaEngine
func (b *trtBackend) Deserialize(blob []byte) (NativeEngine, error) {

	cBlob := C.CBytes(blob)
	defer C.free(cBlob)

	var eng C.trt_engine

	err := call("deserializeCudaEngine", func(e *C.char, n C.size_t) C.int {
		return C.trt_engine_deserialize(b.rt, cBlob, C.size_t(len(blob)), &eng, e, n)
	})

	if err != nil {
		return nil, err
	}

	return &trtEngine{handle: eng}, nil
}

// Close destroys the runtime
func (b *trtBackend) Close() error {
	b.closeOnce.Do(func() {
		C.trt_runtime_destroy(b.rt)
	})

	return nil
}

// trtEngine wraps nvinfer1::ICudaEngine
type trtEngine struct {
	handle C.trt_engine

	mu     sync.Mutex
	closed bool
}

// NumIOTensors wraps ICudaEngine::getNbIOTensors
func (e *trtEngine) NumIOTensors() int {
	return int(C.trt_engine_num_io(e.handle))
}

// IOTensor queries the name, mode, data type and shape of a binding
func (e *trtEngine) IOTensor(idx int) (Binding, error) {

	name := (*C.char)(C.malloc(C.TRT_NAME_LEN))
	defer C.free(unsafe.Pointer(name))

	var mode, dtype, nbDims C.int
	var dims [MaxDims]C.int64_t

	err := call("getIOTensorName", func(errBuf *C.char, n C.size_t) C.int {
		return C.trt_engine_io(e.handle, C.int(idx), name, C.TRT_NAME_LEN, &mode, &dtype,
			&dims[0], &nbDims, errBuf, n)
	})

	if err != nil {
		return Binding{}, err
	}

	return Binding{
		Index: idx,
		Name:  C.GoString(name),
		Mode:  IOMode(mode),
		Shape: goDims(dims[:], int(nbDims)),
		Type:  DataType(dtype),
	}, nil
}

// ProfileShapes wraps ICudaEngine::getProfileShape
func (e *trtEngine) ProfileShapes(input string, profile int) (Dims, Dims, Dims, error) {

	cInput := C.CString(input)
	defer C.free(unsafe.Pointer(cInput))

	var minDims, optDims, maxDims [MaxDims]C.int64_t
	var nbDims C.int

	err := call("getProfileShape", func(errBuf *C.char, n C.size_t) C.int {
		return C.trt_engine_profile_shape(e.handle, cInput, C.int(profile),
			&minDims[0], &optDims[0], &maxDims[0], &nbDims, errBuf, n)
	})

	if err != nil {
		return nil, nil, nil, err
	}

	rank := int(nbDims)

	return goDims(minDims[:], rank), goDims(optDims[:], rank), goDims(maxDims[:], rank), nil
}

// Serialize wraps ICudaEngine::serialize
func (e *trtEngine) Serialize() ([]byte, error) {

	var blob unsafe.Pointer
	var blobLen C.size_t

	err := call("serialize", func(errBuf *C.char, n C.size_t) C.int {
		return C.trt_engine_serialize(e.handle, &blob, &blobLen, errBuf, n)
	})

	if err != nil {
		return nil, err
	}

	defer C.trt_blob_free(blob)

	return C.GoBytes(blob, C.int(blobLen)), nil
}

// NewContext wraps ICudaEngine::createExecutionContext
func (e *trtEngine) NewContext() (NativeContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, nativeErr("createExecutionContext", StatusCtxInvalid, "engine is closed")
	}

	var ctx C.trt_context

	err := call("createExecutionContext", func(errBuf *C.char, n C.size_t) C.int {
		return C.trt_context_create(e.handle, &ctx, errBuf, n)
	})

	if err != nil {
		return nil, err
	}

	return &trtContext{handle: ctx}, nil
}

// Close destroys the engine
func (e *trtEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.closed {
		e.closed = true
		C.trt_engine_destroy(e.handle)
	}

	return nil
}

// trtContext wraps nvinfer1::IExecutionContext
type trtContext struct {
	handle    C.trt_context
	closeOnce sync.Once
}

// SetOptimizationProfile wraps setOptimizationProfileAsync
func (c *trtContext) SetOptimizationProfile(profile int, stream Stream) error {

	cs, ok := stream.(*cudaStream)

	if !ok {
		return nativeErr("setOptimizationProfileAsync", StatusParamInvalid,
			"stream does not belong to the tensorrt backend")
	}

	return call("setOptimizationProfileAsync", func(errBuf *C.char, n C.size_t) C.int {
		return C.trt_context_set_profile(c.handle, C.int(profile), cs.handle, errBuf, n)
	})
}

// SetInputShape wraps IExecutionContext::setInputShape
func (c *trtContext) SetInputShape(name string, shape Dims) error {

	if len(shape) == 0 || len(shape) > MaxDims {
		return nativeErr("setInputShape", StatusParamInvalid,
			fmt.Sprintf("unsupported rank %d", len(shape)))
	}

	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	dims := cDims(shape)

	return call("setInputShape", func(errBuf *C.char, n C.size_t) C.int {
		return C.trt_context_set_input_shape(c.handle, cName, &dims[0], C.int(len(shape)), errBuf, n)
	})
}

// Enqueue sets every tensor address in declared order and calls enqueueV3
func (c *trtContext) Enqueue(stream Stream, addrs []DevicePtr) error {

	cs, ok := stream.(*cudaStream)

	if !ok {
		return nativeErr("enqueueV3", StatusParamInvalid,
			"stream does not belong to the tensorrt backend")
	}

	if len(addrs) == 0 {
		return nativeErr("enqueueV3", StatusEnqueueFailed, "no tensor addresses")
	}

	cAddrs := make([]C.uintptr_t, len(addrs))

	for i, a := range addrs {
		cAddrs[i] = C.uintptr_t(a)
	}

	return call("enqueueV3", func(errBuf *C.char, n C.size_t) C.int {
		return C.trt_context_enqueue(c.handle, cs.handle, &cAddrs[0], C.int(len(cAddrs)), errBuf, n)
	})
}

// Close destroys the context
func (c *trtContext) Close() error {
	c.closeOnce.Do(func() {
		C.trt_context_destroy(c.handle)
	})

	return nil
}

// cudaDevice allocates CUDA device memory and page-locked host memory
type cudaDevice struct {
	mu sync.Mutex
	// pinned maps the base address of every cudaMallocHost allocation to its
	// size
	pinned map[uintptr]int
}

func newCudaDevice() *cudaDevice {
	return &cudaDevice{pinned: make(map[uintptr]int)}
}

// Malloc wraps cudaMalloc
func (d *cudaDevice) Malloc(size int) (DevicePtr, error) {

	if size <= 0 {
		return 0, nativeErr("cudaMalloc", StatusParamInvalid,
			fmt.Sprintf("invalid allocation size %d", size))
	}

	var ptr C.uintptr_t

	err := call("cudaMalloc", func(errBuf *C.char, n C.size_t) C.int {
		return C.trt_cuda_malloc(C.size_t(size), &ptr, errBuf, n)
	})

	return DevicePtr(ptr), err
}

// Free wraps cudaFree
func (d *cudaDevice) Free(ptr DevicePtr) error {
	return call("cudaFree", func(errBuf *C.char, n C.size_t) C.int {
		return C.trt_cuda_free(C.uintptr_t(ptr), errBuf, n)
	})
}

// MallocHost wraps cudaMallocHost, the returned slice points to C memory
func (d *cudaDevice) MallocHost(size int) ([]byte, error) {

	if size <= 0 {
		return nil, nativeErr("cudaMallocHost", StatusParamInvalid,
			fmt.Sprintf("invalid allocation size %d", size))
	}

	var ptr unsafe.Pointer

	err := call("cudaMallocHost", func(errBuf *C.char, n C.size_t) C.int {
		return C.trt_cuda_malloc_host(C.size_t(size), &ptr, errBuf, n)
	})

	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.pinned[uintptr(ptr)] = size
	d.mu.Unlock()

	return unsafe.Slice((*byte)(ptr), size), nil
}

// FreeHost wraps cudaFreeHost
func (d *cudaDevice) FreeHost(buf []byte) error {

	if len(buf) == 0 {
		return nil
	}

	ptr := unsafe.Pointer(&buf[0])

	d.mu.Lock()
	_, ok := d.pinned[uintptr(ptr)]
	delete(d.pinned, uintptr(ptr))
	d.mu.Unlock()

	if !ok {
		return nativeErr("cudaFreeHost", StatusParamInvalid, "buffer was not allocated by MallocHost")
	}

	return call("cudaFreeHost", func(errBuf *C.char, n C.size_t) C.int {
		return C.trt_cuda_free_host(ptr, errBuf, n)
	})
}

// isPinned reports if buf lies inside a MallocHost allocation
func (d *cudaDevice) isPinned(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}

	start := uintptr(unsafe.Pointer(&buf[0]))
	end := start + uintptr(len(buf))

	d.mu.Lock()
	defer d.mu.Unlock()

	for base, size := range d.pinned {
		if start >= base && end <= base+uintptr(size) {
			return true
		}
	}

	return false
}

// NewStream wraps cudaStreamCreate
func (d *cudaDevice) NewStream() (Stream, error) {

	var s C.trt_stream

	err := call("cudaStreamCreate", func(errBuf *C.char, n C.size_t) C.int {
		return C.trt_stream_create(&s, errBuf, n)
	})

	if err != nil {
		return nil, err
	}

	return &cudaStream{handle: s, dev: d}, nil
}

// cudaStream wraps cudaStream_t
type cudaStream struct {
	handle    C.trt_stream
	dev       *cudaDevice
	closeOnce sync.Once
	closeErr  error
}

// CopyHostToDevice wraps cudaMemcpyAsync. Copies from pageable Go memory are
// staged by the driver before the call returns.
func (s *cudaStream) CopyHostToDevice(dst DevicePtr, src []byte) error {

	if len(src) == 0 {
		return nil
	}

	return call("cudaMemcpyAsync", func(errBuf *C.char, n C.size_t) C.int {
		return C.trt_memcpy_htod_async(C.uintptr_t(dst), unsafe.Pointer(&src[0]),
			C.size_t(len(src)), s.handle, errBuf, n)
	})
}

// CopyDeviceToHost wraps cudaMemcpyAsync, dst must come from MallocHost
func (s *cudaStream) CopyDeviceToHost(dst []byte, src DevicePtr) error {

	if len(dst) == 0 {
		return nil
	}

	if !s.dev.isPinned(dst) {
		return nativeErr("cudaMemcpyAsync", StatusCopyFailed,
			"asynchronous device to host copies need a buffer from MallocHost")
	}

	return call("cudaMemcpyAsync", func(errBuf *C.char, n C.size_t) C.int {
		return C.trt_memcpy_dtoh_async(unsafe.Pointer(&dst[0]), C.uintptr_t(src),
			C.size_t(len(dst)), s.handle, errBuf, n)
	})
}

// Synchronize wraps cudaStreamSynchronize
func (s *cudaStream) Synchronize() error {
	return call("cudaStreamSynchronize", func(errBuf *C.char, n C.size_t) C.int {
		return C.trt_stream_synchronize(s.handle, errBuf, n)
	})
}

// Close wraps cudaStreamDestroy
func (s *cudaStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = call("cudaStreamDestroy", func(errBuf *C.char, n C.size_t) C.int {
			return C.trt_stream_destroy(s.handle, errBuf, n)
		})
	})

	return s.closeErr
}

// goDims copies a native shape into Dims
func goDims(src []C.int64_t, rank int) Dims {
	if rank > len(src) {
		rank = len(src)
	}

	out := make(Dims, rank)

	for i := 0; i < rank; i++ {
		out[i] = int64(src[i])
	}

	return out
}

// cDims copies Dims into a native shape
func cDims(d Dims) [MaxDims]C.int64_t {
	var out [MaxDims]C.int64_t

	for i := 0; i < len(d) && i < MaxDims; i++ {
		out[i] = C.int64_t(d[i])
	}

	return out
}
