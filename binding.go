package trtlite

import (
	"fmt"
	"strings"
)

// MaxDims is the maximum tensor rank accepted by the native bridge
const MaxDims = 8

// Dims is a tensor shape. A dimension of -1 is dynamic and resolved at bind
// time.
type Dims []int64

// Volume returns the number of elements described by the shape. It returns
// 0 if any dimension is still dynamic.
func (d Dims) Volume() int64 {
	if len(d) == 0 {
		return 0
	}

	vol := int64(1)

	for _, v := range d {
		if v < 0 {
			return 0
		}
		vol *= v
	}

	return vol
}

// IsDynamic reports if any dimension is unresolved
func (d Dims) IsDynamic() bool {
	for _, v := range d {
		if v < 0 {
			return true
		}
	}

	return false
}

// WithBatch returns a copy of the shape with dimension 0 set to batch
func (d Dims) WithBatch(batch int) Dims {
	out := make(Dims, len(d))
	copy(out, d)

	if len(out) > 0 {
		out[0] = int64(batch)
	}

	return out
}

// Equal reports if both shapes have the same rank and dimensions
func (d Dims) Equal(o Dims) bool {
	if len(d) != len(o) {
		return false
	}

	for i := range d {
		if d[i] != o[i] {
			return false
		}
	}

	return true
}

// String formats the shape as (1, 3, 224, 224)
func (d Dims) String() string {
	parts := make([]string, len(d))

	for i, v := range d {
		parts[i] = fmt.Sprintf("%d", v)
	}

	return "(" + strings.Join(parts, ", ") + ")"
}

// IOMode tags a binding as an input or output tensor
type IOMode int

const (
	ModeInput  IOMode = 1
	ModeOutput IOMode = 2
)

// String returns a readable description of the IOMode
func (m IOMode) String() string {
	switch m {
	case ModeInput:
		return "INPUT"
	case ModeOutput:
		return "OUTPUT"
	default:
		return "UNKNOWN"
	}
}

// Binding is a named tensor slot declared by a compiled engine
type Binding struct {
	// Index is the position of the binding in the engine's declared order
	Index int
	// Name of the tensor
	Name string
	// Mode is input or output
	Mode IOMode
	// Shape is the shape template, -1 marks the dynamic batch dimension
	Shape Dims
	// Type is the element type of the tensor
	Type DataType
}

// IsInput reports if the binding is an engine input
func (b Binding) IsInput() bool {
	return b.Mode == ModeInput
}

// ResolveShape substitutes batch into the dynamic dimension 0 of the shape
// template. Only dimension 0 may be dynamic.
func (b Binding) ResolveShape(batch int) (Dims, error) {
	if len(b.Shape) == 0 {
		return nil, fmt.Errorf("%w: binding %q has an empty shape", ErrShapeBinding, b.Name)
	}

	for i, v := range b.Shape[1:] {
		if v < 0 {
			return nil, fmt.Errorf("%w: binding %q has dynamic dimension %d, only dimension 0 may be dynamic",
				ErrShapeBinding, b.Name, i+1)
		}
	}

	if b.Shape[0] >= 0 && int64(batch) != b.Shape[0] {
		return nil, fmt.Errorf("%w: binding %q has static batch %d, requested %d",
			ErrShapeBinding, b.Name, b.Shape[0], batch)
	}

	return b.Shape.WithBatch(batch), nil
}

// String returns the Binding's attributes formatted as a string
func (b Binding) String() string {
	return fmt.Sprintf("index=%d, name=%s, mode=%s, dims=%s, type=%s",
		b.Index, b.Name, b.Mode.String(), b.Shape.String(), b.Type.String())
}

// bindingTable is the engine's bindings resolved once at load time into a
// stable ordered list plus a name lookup
type bindingTable struct {
	list   []Binding
	byName map[string]int
}

// newBindingTable validates and indexes the bindings reported by the native
// engine. Bindings must be numbered 0..n-1 in declared order with unique
// names.
func newBindingTable(bindings []Binding) (*bindingTable, error) {
	t := &bindingTable{
		list:   make([]Binding, len(bindings)),
		byName: make(map[string]int, len(bindings)),
	}

	for i, b := range bindings {
		if b.Index != i {
			return nil, fmt.Errorf("%w: binding %q reported at position %d with index %d",
				ErrShapeBinding, b.Name, i, b.Index)
		}

		if _, exists := t.byName[b.Name]; exists {
			return nil, fmt.Errorf("%w: duplicate binding name %q", ErrShapeBinding, b.Name)
		}

		if b.Mode != ModeInput && b.Mode != ModeOutput {
			return nil, fmt.Errorf("%w: binding %q has unknown mode %d", ErrShapeBinding, b.Name, b.Mode)
		}

		b.Shape = append(Dims(nil), b.Shape...)
		t.list[i] = b
		t.byName[b.Name] = i
	}

	return t, nil
}

// count returns the number of input and output bindings
func (t *bindingTable) count() (inputs, outputs int) {
	for _, b := range t.list {
		if b.IsInput() {
			inputs++
		} else {
			outputs++
		}
	}

	return inputs, outputs
}
