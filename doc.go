/*
go-trtlite provides Go bindings for compiling ONNX image classifiers into
optimized inference engines and running batched inference on them through a
vendor runtime.

Two runtimes are available. Building with the tensorrt tag links the
TensorRT and CUDA libraries through cgo. The default build uses ONNX Runtime
and keeps tensors in host memory, with an optional CUDA execution provider.

A typical flow compiles an engine once with BuildEngine, loads it with
LoadEngine, binds a Session for a batch size and calls Run. Results are
turned into labelled classes with the postprocess package.

See the trtlite command in cmd/trtlite for usage.
*/
package trtlite
