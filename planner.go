package trtlite

import (
	"errors"
	"fmt"
	"sync"
)

// DeviceBuffer is a fixed size region of device memory backing one binding
type DeviceBuffer struct {
	Binding Binding
	// Shape is the binding shape with the batch dimension resolved
	Shape Dims
	Ptr   DevicePtr
	Size  int
}

// HostBuffer is pinned host memory that receives a copy of an output
type HostBuffer struct {
	Binding Binding
	Shape   Dims
	Data    []byte
}

// BufferSet holds the device buffers of every binding and the host buffers
// of every output for one batch size
type BufferSet struct {
	device Device
	batch  int
	// device holds one buffer per binding in declared order
	devBufs []DeviceBuffer
	// host holds one buffer per output binding in declared order
	hostBufs []HostBuffer

	freeOnce sync.Once
	freeErr  error
}

// PlanBuffers sizes and allocates buffers for bindings at the given batch.
// The batch is substituted into dimension 0 of dynamic bindings.
func PlanBuffers(device Device, bindings []Binding, batch int) (*BufferSet, error) {

	var nIn, nOut int

	for _, b := range bindings {
		if b.IsInput() {
			nIn++
		} else {
			nOut++
		}
	}

	if nIn == 0 || nOut == 0 {
		return nil, fmt.Errorf("%w: engine has %d inputs and %d outputs",
			ErrNoBindings, nIn, nOut)
	}

	// resolve every shape before touching the device
	shapes := make([]Dims, len(bindings))
	sizes := make([]int, len(bindings))

	for i, b := range bindings {
		shape, err := b.ResolveShape(batch)

		if err != nil {
			return nil, err
		}

		if b.Type.Size() == 0 {
			return nil, fmt.Errorf("binding %q has unsupported data type %s",
				b.Name, b.Type.String())
		}

		shapes[i] = shape
		sizes[i] = int(shape.Volume()) * b.Type.Size()
	}

	bs := &BufferSet{
		device:   device,
		batch:    batch,
		devBufs:  make([]DeviceBuffer, 0, len(bindings)),
		hostBufs: make([]HostBuffer, 0, nOut),
	}

	for i, b := range bindings {
		ptr, err := device.Malloc(sizes[i])

		if err != nil {
			bs.Free()
			return nil, fmt.Errorf("error allocating %d bytes for binding %q: %w",
				sizes[i], b.Name, err)
		}

		bs.devBufs = append(bs.devBufs, DeviceBuffer{
			Binding: b,
			Shape:   shapes[i],
			Ptr:     ptr,
			Size:    sizes[i],
		})

		if b.IsInput() {
			continue
		}

		host, err := device.MallocHost(sizes[i])

		if err != nil {
			bs.Free()
			return nil, fmt.Errorf("error allocating host buffer for output %q: %w",
				b.Name, err)
		}

		bs.hostBufs = append(bs.hostBufs, HostBuffer{
			Binding: b,
			Shape:   shapes[i],
			Data:    host,
		})
	}

	Logger().V(1).Info("planned buffers", "batch", batch, "bindings", len(bindings),
		"bytes", bs.TotalBytes())

	return bs, nil
}

// Batch returns the batch size the buffers were planned for
func (bs *BufferSet) Batch() int {
	return bs.batch
}

// Device returns the device buffers in declared binding order
func (bs *BufferSet) Device() []DeviceBuffer {
	return bs.devBufs
}

// Host returns the host buffers of the outputs in declared binding order
func (bs *BufferSet) Host() []HostBuffer {
	return bs.hostBufs
}

// Addresses returns the device address of every binding in declared order
func (bs *BufferSet) Addresses() []DevicePtr {
	addrs := make([]DevicePtr, len(bs.devBufs))

	for i, db := range bs.devBufs {
		addrs[i] = db.Ptr
	}

	return addrs
}

// TotalBytes is the device memory held by the set
func (bs *BufferSet) TotalBytes() int {
	total := 0

	for _, db := range bs.devBufs {
		total += db.Size
	}

	return total
}

// Free releases every allocation once, later calls return the first result
func (bs *BufferSet) Free() error {
	bs.freeOnce.Do(func() {
		var errs []error

		for _, hb := range bs.hostBufs {
			if err := bs.device.FreeHost(hb.Data); err != nil {
				errs = append(errs, err)
			}
		}

		for _, db := range bs.devBufs {
			if err := bs.device.Free(db.Ptr); err != nil {
				errs = append(errs, err)
			}
		}

		bs.hostBufs = nil
		bs.devBufs = nil
		bs.freeErr = errors.Join(errs...)
	})

	return bs.freeErr
}
