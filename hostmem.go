package trtlite

import (
	"fmt"
	"sync"
)

// hostDevice is a Device whose memory lives in the Go heap. It backs
// runtimes that execute on the host or manage device transfers themselves.
type hostDevice struct {
	mu     sync.Mutex
	next   DevicePtr
	allocs map[DevicePtr][]byte
}

// newHostDevice returns an empty host device
func newHostDevice() *hostDevice {
	return &hostDevice{
		next:   0x1000,
		allocs: make(map[DevicePtr][]byte),
	}
}

// Malloc allocates size bytes and returns a handle to them
func (d *hostDevice) Malloc(size int) (DevicePtr, error) {
	if size <= 0 {
		return 0, nativeErr("hostMalloc", StatusParamInvalid,
			fmt.Sprintf("invalid allocation size %d", size))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ptr := d.next
	// leave a gap between handles
	d.next += DevicePtr(size) + 0x100
	d.allocs[ptr] = make([]byte, size)

	return ptr, nil
}

// Free releases an allocation, a second Free of the same pointer fails
func (d *hostDevice) Free(ptr DevicePtr) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.allocs[ptr]; !ok {
		return nativeErr("hostFree", StatusParamInvalid,
			fmt.Sprintf("pointer %#x is not allocated", uintptr(ptr)))
	}

	delete(d.allocs, ptr)
	return nil
}

// MallocHost allocates host memory, there is no page locking on this device
func (d *hostDevice) MallocHost(size int) ([]byte, error) {
	if size <= 0 {
		return nil, nativeErr("hostMallocHost", StatusParamInvalid,
			fmt.Sprintf("invalid allocation size %d", size))
	}

	return make([]byte, size), nil
}

// FreeHost is a no-op, the garbage collector reclaims the buffer
func (d *hostDevice) FreeHost(buf []byte) error {
	return nil
}

// NewStream creates a new ordered stream on the device
func (d *hostDevice) NewStream() (Stream, error) {
	return newHostStream(d), nil
}

// resolve returns the memory behind a device pointer
func (d *hostDevice) resolve(ptr DevicePtr) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, ok := d.allocs[ptr]

	if !ok {
		return nil, fmt.Errorf("pointer %#x is not allocated", uintptr(ptr))
	}

	return buf, nil
}

// live returns the number of outstanding allocations
func (d *hostDevice) live() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.allocs)
}
