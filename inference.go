package trtlite

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Output is the host copy of one output binding after a Run
type Output struct {
	Binding Binding
	// Shape is the output shape with the batch dimension resolved
	Shape Dims
	// Data holds the raw little endian tensor bytes
	Data []byte
}

// Float32 returns the output widened to float32. FP16 outputs are converted
// through a lookup table.
func (o Output) Float32() ([]float32, error) {

	n := int(o.Shape.Volume())

	if n*o.Binding.Type.Size() != len(o.Data) {
		return nil, fmt.Errorf("output %q holds %d bytes, expected %d elements of %s",
			o.Binding.Name, len(o.Data), n, o.Binding.Type.String())
	}

	out := make([]float32, n)

	switch o.Binding.Type {
	case Float:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(o.Data[i*4:]))
		}

	case Half:
		for i := range out {
			out[i] = f16LookupTable[binary.LittleEndian.Uint16(o.Data[i*2:])]
		}

	case Int8:
		for i := range out {
			out[i] = float32(int8(o.Data[i]))
		}

	case Uint8, Bool:
		for i := range out {
			out[i] = float32(o.Data[i])
		}

	case Int32:
		for i := range out {
			out[i] = float32(int32(binary.LittleEndian.Uint32(o.Data[i*4:])))
		}

	case Int64:
		for i := range out {
			out[i] = float32(int64(binary.LittleEndian.Uint64(o.Data[i*8:])))
		}

	default:
		return nil, fmt.Errorf("output %q has unsupported data type %s",
			o.Binding.Name, o.Binding.Type.String())
	}

	return out, nil
}

// Outputs are the results of one Run in declared binding order
type Outputs struct {
	Output []Output
	// Batch is the batch size the outputs were computed for
	Batch int
}

// Get returns the output with the given tensor name
func (o *Outputs) Get(name string) (Output, bool) {
	for _, out := range o.Output {
		if out.Binding.Name == name {
			return out, true
		}
	}

	return Output{}, false
}

// Run executes one batch. inputs are raw tensor bytes in declared input
// order and each must match the planned buffer size exactly. The sequence is
// stage input, execute, stage output then drain, and the first failure
// aborts it without returning partial outputs.
func (s *Session) Run(inputs ...[]byte) (*Outputs, error) {

	if s.closed.Load() {
		return nil, fmt.Errorf("session: %w", ErrClosed)
	}

	devBufs := s.buffers.Device()

	// validate every input before anything is enqueued
	var inBufs []DeviceBuffer

	for _, db := range devBufs {
		if db.Binding.IsInput() {
			inBufs = append(inBufs, db)
		}
	}

	if len(inputs) != len(inBufs) {
		return nil, fmt.Errorf("%w: engine has %d inputs, got %d",
			ErrShapeBinding, len(inBufs), len(inputs))
	}

	for i, db := range inBufs {
		if len(inputs[i]) != db.Size {
			return nil, fmt.Errorf("%w: input %q expects %d bytes for shape %s, got %d",
				ErrShapeBinding, db.Binding.Name, db.Size, db.Shape.String(), len(inputs[i]))
		}
	}

	if err := s.enqueue(inBufs, inputs); err != nil {
		// drain whatever was queued so the stream is clean for the next run
		_ = s.stream.Synchronize()
		return nil, err
	}

	// drain
	if err := s.stream.Synchronize(); err != nil {
		return nil, fmt.Errorf("error running batch of %d: %w", s.Batch(), err)
	}

	hostBufs := s.buffers.Host()

	outputs := &Outputs{
		Output: make([]Output, len(hostBufs)),
		Batch:  s.Batch(),
	}

	for i, hb := range hostBufs {
		data := make([]byte, len(hb.Data))
		copy(data, hb.Data)

		outputs.Output[i] = Output{
			Binding: hb.Binding,
			Shape:   hb.Shape,
			Data:    data,
		}
	}

	return outputs, nil
}

// enqueue schedules the input copies, execution and output copies
func (s *Session) enqueue(inBufs []DeviceBuffer, inputs [][]byte) error {

	// stage input
	for i, db := range inBufs {
		err := s.stream.CopyHostToDevice(db.Ptr, inputs[i])

		if err != nil {
			return fmt.Errorf("error copying input %q to device: %w", db.Binding.Name, err)
		}
	}

	// execute
	err := s.ctx.Enqueue(s.stream, s.buffers.Addresses())

	if err != nil {
		return fmt.Errorf("error enqueuing execution: %w", err)
	}

	// stage output
	host := s.buffers.Host()
	hi := 0

	for _, db := range s.buffers.Device() {
		if db.Binding.IsInput() {
			continue
		}

		err := s.stream.CopyDeviceToHost(host[hi].Data, db.Ptr)

		if err != nil {
			return fmt.Errorf("error copying output %q to host: %w", db.Binding.Name, err)
		}

		hi++
	}

	return nil
}

// RunFloat32 executes one batch with float32 inputs. Each input is encoded
// by the element type of its binding, FLOAT inputs as float32 and HALF inputs
// as FP16.
func (s *Session) RunFloat32(inputs ...[]float32) (*Outputs, error) {

	if s.closed.Load() {
		return nil, fmt.Errorf("session: %w", ErrClosed)
	}

	var bindings []Binding

	for _, db := range s.buffers.Device() {
		if db.Binding.IsInput() {
			bindings = append(bindings, db.Binding)
		}
	}

	raw := make([][]byte, len(inputs))

	for i, in := range inputs {

		// Run reports an input count mismatch
		if i >= len(bindings) {
			raw[i] = float32Bytes(in)
			continue
		}

		switch bindings[i].Type {
		case Float:
			raw[i] = float32Bytes(in)

		case Half:
			raw[i] = float16Bytes(in)

		default:
			return nil, fmt.Errorf("%w: input %q has element type %s, float32 data can only fill FLOAT or HALF inputs",
				ErrShapeBinding, bindings[i].Name, bindings[i].Type.String())
		}
	}

	return s.Run(raw...)
}

// float32Bytes encodes a float32 slice as little endian bytes
func float32Bytes(in []float32) []byte {
	out := make([]byte, len(in)*4)

	for i, v := range in {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}

	return out
}

// float16Bytes encodes a float32 slice as little endian FP16 bytes
func float16Bytes(in []float32) []byte {
	out := make([]byte, len(in)*2)

	for i, v := range Float32ToFloat16(in) {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}

	return out
}
