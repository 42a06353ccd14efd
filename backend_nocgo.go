//go:build tensorrt && !cgo

package trtlite

// BackendName is the name of the runtime compiled into this build
const BackendName = "tensorrt"

// BackendConfig selects and configures the runtime
type BackendConfig struct {
	DeviceID          int
	SharedLibraryPath string
	Provider          string
}

// NewBackend fails, the TensorRT bridge needs cgo
func NewBackend(cfg BackendConfig) (Backend, error) {
	return nil, nativeErr("createInferRuntime", StatusDeviceUnavail,
		"built with the tensorrt tag but without cgo")
}
