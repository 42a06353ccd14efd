package server

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/swdee/go-trtlite"
)

// stubBackend serves a (3,4,4) image classifier with three classes. The
// winning class of a sample is picked from its first element, ie: the
// normalized red value of the top left pixel: 0 is class 0, 1 is class 2.
type stubBackend struct {
	dev *stubDevice
}

const stubClasses = 3

func newStubBackend() *stubBackend {
	return &stubBackend{dev: &stubDevice{mem: make(map[trtlite.DevicePtr][]byte), next: 4096}}
}

func (b *stubBackend) Name() string              { return "stub" }
func (b *stubBackend) Version() string           { return "0.0.1" }
func (b *stubBackend) Device() trtlite.Device    { return b.dev }
func (b *stubBackend) PlatformHasFastFP16() bool { return false }
func (b *stubBackend) Close() error              { return nil }

func (b *stubBackend) Deserialize([]byte) (trtlite.NativeEngine, error) {
	return &stubEngine{b}, nil
}

func (b *stubBackend) Build([]byte, trtlite.NetworkConfig) ([]byte, error) {
	return nil, errors.New("stub backend cannot build")
}

type stubDevice struct {
	mu   sync.Mutex
	mem  map[trtlite.DevicePtr][]byte
	next trtlite.DevicePtr
}

func (d *stubDevice) Malloc(size int) (trtlite.DevicePtr, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ptr := d.next
	d.mem[ptr] = make([]byte, size)
	d.next += trtlite.DevicePtr(size + 256)

	return ptr, nil
}

func (d *stubDevice) Free(ptr trtlite.DevicePtr) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.mem, ptr)
	return nil
}

func (d *stubDevice) MallocHost(size int) ([]byte, error) { return make([]byte, size), nil }
func (d *stubDevice) FreeHost([]byte) error               { return nil }
func (d *stubDevice) NewStream() (trtlite.Stream, error)  { return &stubStream{d}, nil }

func (d *stubDevice) get(ptr trtlite.DevicePtr) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, ok := d.mem[ptr]

	if !ok {
		return nil, fmt.Errorf("invalid device pointer %#x", uintptr(ptr))
	}

	return buf, nil
}

// stubStream executes every operation synchronously
type stubStream struct {
	dev *stubDevice
}

func (s *stubStream) CopyHostToDevice(dst trtlite.DevicePtr, src []byte) error {
	buf, err := s.dev.get(dst)

	if err != nil {
		return err
	}

	copy(buf, src)
	return nil
}

func (s *stubStream) CopyDeviceToHost(dst []byte, src trtlite.DevicePtr) error {
	buf, err := s.dev.get(src)

	if err != nil {
		return err
	}

	copy(dst, buf)
	return nil
}

func (s *stubStream) Synchronize() error { return nil }
func (s *stubStream) Close() error       { return nil }

type stubEngine struct {
	backend *stubBackend
}

var stubBindings = []trtlite.Binding{
	{Index: 0, Name: "input", Mode: trtlite.ModeInput, Shape: trtlite.Dims{-1, 3, 4, 4}, Type: trtlite.Float},
	{Index: 1, Name: "output", Mode: trtlite.ModeOutput, Shape: trtlite.Dims{-1, stubClasses}, Type: trtlite.Float},
}

func (e *stubEngine) NumIOTensors() int { return len(stubBindings) }

func (e *stubEngine) IOTensor(idx int) (trtlite.Binding, error) {
	return stubBindings[idx], nil
}

func (e *stubEngine) ProfileShapes(string, int) (trtlite.Dims, trtlite.Dims, trtlite.Dims, error) {
	return trtlite.Dims{1, 3, 4, 4}, trtlite.Dims{2, 3, 4, 4}, trtlite.Dims{4, 3, 4, 4}, nil
}

func (e *stubEngine) Serialize() ([]byte, error) { return []byte("stub"), nil }
func (e *stubEngine) Close() error               { return nil }

func (e *stubEngine) NewContext() (trtlite.NativeContext, error) {
	return &stubContext{dev: e.backend.dev}, nil
}

type stubContext struct {
	dev   *stubDevice
	batch int
}

func (c *stubContext) SetOptimizationProfile(int, trtlite.Stream) error { return nil }

func (c *stubContext) SetInputShape(_ string, shape trtlite.Dims) error {
	c.batch = int(shape[0])
	return nil
}

func (c *stubContext) Enqueue(_ trtlite.Stream, addrs []trtlite.DevicePtr) error {
	in, err := c.dev.get(addrs[0])

	if err != nil {
		return err
	}

	out, err := c.dev.get(addrs[1])

	if err != nil {
		return err
	}

	sample := len(in) / c.batch

	for b := 0; b < c.batch; b++ {
		x := math.Float32frombits(binary.LittleEndian.Uint32(in[b*sample:]))
		win := int(math.Round(float64(x) * (stubClasses - 1)))

		for cl := 0; cl < stubClasses; cl++ {
			var v float32
			if cl == win {
				v = 10
			}

			binary.LittleEndian.PutUint32(out[(b*stubClasses+cl)*4:], math.Float32bits(v))
		}
	}

	return nil
}

func (c *stubContext) Close() error { return nil }
