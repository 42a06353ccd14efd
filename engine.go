package trtlite

import (
	"fmt"
	"os"
	"sync"
)

// Engine is a compiled engine loaded into a runtime. It is immutable once
// loaded and can be shared by many Sessions.
type Engine struct {
	backend Backend
	native  NativeEngine
	// bindings caches the engine's bindings in declared order
	bindings *bindingTable
	// profiles caches the batch range of each dynamic input
	profiles map[string]OptimizationProfile

	closeOnce sync.Once
	closeErr  error
}

// LoadEngine reads a serialized engine from disk and deserializes it with
// the given backend
func LoadEngine(backend Backend, enginePath string) (*Engine, error) {

	// check file exists in Go before handing to the runtime
	info, err := os.Stat(enginePath)

	if err != nil {
		return nil, fmt.Errorf("engine file does not exist at %s, error: %w",
			enginePath, err)
	}

	if info.IsDir() {
		return nil, fmt.Errorf("engine file %s is a directory", enginePath)
	}

	blob, err := os.ReadFile(enginePath)

	if err != nil {
		return nil, fmt.Errorf("error reading engine file: %w", err)
	}

	Logger().V(1).Info("loaded engine blob", "path", enginePath, "bytes", len(blob))

	return DeserializeEngine(backend, blob)
}

// DeserializeEngine reconstructs an Engine from a serialized blob. Corrupt,
// truncated or incompatible blobs return the runtime's error unchanged.
func DeserializeEngine(backend Backend, blob []byte) (*Engine, error) {

	if len(blob) == 0 {
		return nil, fmt.Errorf("%w: engine blob is empty", ErrDeserialize)
	}

	native, err := backend.Deserialize(blob)

	if err != nil {
		return nil, err
	}

	e := &Engine{
		backend: backend,
		native:  native,
	}

	if err := e.resolve(); err != nil {
		_ = native.Close()
		return nil, err
	}

	return e, nil
}

// resolve reads the binding table and profiles from the native engine once
func (e *Engine) resolve() error {

	n := e.native.NumIOTensors()
	bindings := make([]Binding, n)

	for i := 0; i < n; i++ {
		b, err := e.native.IOTensor(i)

		if err != nil {
			return fmt.Errorf("error querying binding %d: %w", i, err)
		}

		bindings[i] = b
	}

	table, err := newBindingTable(bindings)

	if err != nil {
		return err
	}

	e.bindings = table
	e.profiles = make(map[string]OptimizationProfile)

	for _, b := range table.list {
		if !b.IsInput() || len(b.Shape) == 0 || b.Shape[0] >= 0 {
			continue
		}

		minShape, optShape, maxShape, err := e.native.ProfileShapes(b.Name, 0)

		if err != nil {
			return fmt.Errorf("%w: input %q: %w", ErrNoProfile, b.Name, err)
		}

		prof, err := profileFromShapes(b.Name, minShape, optShape, maxShape)

		if err != nil {
			return err
		}

		e.profiles[b.Name] = prof
	}

	return nil
}

// Bindings returns a copy of the engine's bindings in declared order
func (e *Engine) Bindings() []Binding {
	out := make([]Binding, len(e.bindings.list))
	copy(out, e.bindings.list)

	return out
}

// Binding looks up a binding by tensor name
func (e *Engine) Binding(name string) (Binding, bool) {
	idx, ok := e.bindings.byName[name]

	if !ok {
		return Binding{}, false
	}

	return e.bindings.list[idx], true
}

// Inputs returns the input bindings in declared order
func (e *Engine) Inputs() []Binding {
	return e.filter(ModeInput)
}

// Outputs returns the output bindings in declared order
func (e *Engine) Outputs() []Binding {
	return e.filter(ModeOutput)
}

func (e *Engine) filter(mode IOMode) []Binding {
	var out []Binding

	for _, b := range e.bindings.list {
		if b.Mode == mode {
			out = append(out, b)
		}
	}

	return out
}

// IONumber returns the number of input and output bindings
func (e *Engine) IONumber() IONumber {
	in, out := e.bindings.count()

	return IONumber{
		NumberInput:  uint32(in),
		NumberOutput: uint32(out),
	}
}

// Profile returns the optimization profile of a dynamic input
func (e *Engine) Profile(input string) (OptimizationProfile, bool) {
	p, ok := e.profiles[input]
	return p, ok
}

// Backend returns the runtime the engine was loaded by
func (e *Engine) Backend() Backend {
	return e.backend
}

// Serialize returns the engine blob as produced by the runtime
func (e *Engine) Serialize() ([]byte, error) {
	return e.native.Serialize()
}

// Close releases the native engine, later calls are no-ops
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.native.Close()
	})

	return e.closeErr
}
