package trtlite

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"
)

// planMagic prefixes every engine plan written by the host runtimes
var planMagic = []byte("TRTLPLAN")

// planFormatVersion is bumped whenever the plan layout changes
const planFormatVersion = 1

// enginePlan is the serialized form of an engine for runtimes that do not
// produce their own opaque blob. It records everything the loader needs to
// rebuild the binding table and profile without reparsing the graph.
type enginePlan struct {
	FormatVersion  uint64
	Backend        string
	RuntimeVersion string
	FP16           bool
	WorkspaceBytes int64
	ProfileInput   string
	ProfileShapes  [3]Dims
	Bindings       []Binding
	Graph          []byte
}

// plan field numbers
const (
	fieldFormatVersion  protowire.Number = 1
	fieldBackend        protowire.Number = 2
	fieldRuntimeVersion protowire.Number = 3
	fieldFP16           protowire.Number = 4
	fieldWorkspace      protowire.Number = 5
	fieldProfile        protowire.Number = 6
	fieldBinding        protowire.Number = 7
	fieldGraph          protowire.Number = 8

	fieldProfileInput protowire.Number = 1
	fieldProfileMin   protowire.Number = 2
	fieldProfileOpt   protowire.Number = 3
	fieldProfileMax   protowire.Number = 4

	fieldBindingIndex protowire.Number = 1
	fieldBindingName  protowire.Number = 2
	fieldBindingMode  protowire.Number = 3
	fieldBindingType  protowire.Number = 4
	fieldBindingDims  protowire.Number = 5
)

// marshal encodes the plan as magic + protobuf wire body + crc32 trailer
func (p *enginePlan) marshal() []byte {
	var body []byte

	body = protowire.AppendTag(body, fieldFormatVersion, protowire.VarintType)
	body = protowire.AppendVarint(body, p.FormatVersion)
	body = protowire.AppendTag(body, fieldBackend, protowire.BytesType)
	body = protowire.AppendString(body, p.Backend)
	body = protowire.AppendTag(body, fieldRuntimeVersion, protowire.BytesType)
	body = protowire.AppendString(body, p.RuntimeVersion)
	body = protowire.AppendTag(body, fieldFP16, protowire.VarintType)
	body = protowire.AppendVarint(body, protowire.EncodeBool(p.FP16))
	body = protowire.AppendTag(body, fieldWorkspace, protowire.VarintType)
	body = protowire.AppendVarint(body, protowire.EncodeZigZag(p.WorkspaceBytes))

	var prof []byte
	prof = protowire.AppendTag(prof, fieldProfileInput, protowire.BytesType)
	prof = protowire.AppendString(prof, p.ProfileInput)
	prof = appendDims(prof, fieldProfileMin, p.ProfileShapes[0])
	prof = appendDims(prof, fieldProfileOpt, p.ProfileShapes[1])
	prof = appendDims(prof, fieldProfileMax, p.ProfileShapes[2])
	body = protowire.AppendTag(body, fieldProfile, protowire.BytesType)
	body = protowire.AppendBytes(body, prof)

	for _, b := range p.Bindings {
		var bind []byte
		bind = protowire.AppendTag(bind, fieldBindingIndex, protowire.VarintType)
		bind = protowire.AppendVarint(bind, uint64(b.Index))
		bind = protowire.AppendTag(bind, fieldBindingName, protowire.BytesType)
		bind = protowire.AppendString(bind, b.Name)
		bind = protowire.AppendTag(bind, fieldBindingMode, protowire.VarintType)
		bind = protowire.AppendVarint(bind, uint64(b.Mode))
		bind = protowire.AppendTag(bind, fieldBindingType, protowire.VarintType)
		bind = protowire.AppendVarint(bind, uint64(b.Type))
		bind = appendDims(bind, fieldBindingDims, b.Shape)

		body = protowire.AppendTag(body, fieldBinding, protowire.BytesType)
		body = protowire.AppendBytes(body, bind)
	}

	body = protowire.AppendTag(body, fieldGraph, protowire.BytesType)
	body = protowire.AppendBytes(body, p.Graph)

	out := make([]byte, 0, len(planMagic)+len(body)+4)
	out = append(out, planMagic...)
	out = append(out, body...)
	out = binary.LittleEndian.AppendUint32(out, crc32.ChecksumIEEE(body))

	return out
}

// appendDims writes a shape as packed zigzag varints
func appendDims(b []byte, num protowire.Number, d Dims) []byte {
	var packed []byte

	for _, v := range d {
		packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(v))
	}

	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

// unmarshalPlan decodes and verifies a plan. Truncated or corrupt blobs fail
// with StatusModelInvalid.
func unmarshalPlan(blob []byte) (*enginePlan, error) {
	if len(blob) < len(planMagic)+4 || !bytes.Equal(blob[:len(planMagic)], planMagic) {
		return nil, nativeErr("deserializeEngine", StatusModelInvalid, "missing plan header")
	}

	body := blob[len(planMagic) : len(blob)-4]
	sum := binary.LittleEndian.Uint32(blob[len(blob)-4:])

	if crc32.ChecksumIEEE(body) != sum {
		return nil, nativeErr("deserializeEngine", StatusModelInvalid, "plan checksum mismatch")
	}

	p := &enginePlan{}

	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		switch num {
		case fieldFormatVersion:
			p.FormatVersion = v
		case fieldBackend:
			p.Backend = string(raw)
		case fieldRuntimeVersion:
			p.RuntimeVersion = string(raw)
		case fieldFP16:
			p.FP16 = protowire.DecodeBool(v)
		case fieldWorkspace:
			p.WorkspaceBytes = protowire.DecodeZigZag(v)
		case fieldProfile:
			return p.unmarshalProfile(raw)
		case fieldBinding:
			b, err := unmarshalBinding(raw)
			if err != nil {
				return err
			}
			p.Bindings = append(p.Bindings, b)
		case fieldGraph:
			p.Graph = append([]byte(nil), raw...)
		}
		return nil
	})

	if err != nil {
		return nil, nativeErr("deserializeEngine", StatusModelInvalid, err.Error())
	}

	return p, nil
}

// unmarshalProfile decodes the nested profile message
func (p *enginePlan) unmarshalProfile(raw []byte) error {
	return consumeFields(raw, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		var err error

		switch num {
		case fieldProfileInput:
			p.ProfileInput = string(raw)
		case fieldProfileMin:
			p.ProfileShapes[0], err = decodeDims(raw)
		case fieldProfileOpt:
			p.ProfileShapes[1], err = decodeDims(raw)
		case fieldProfileMax:
			p.ProfileShapes[2], err = decodeDims(raw)
		}

		return err
	})
}

// unmarshalBinding decodes one nested binding message
func unmarshalBinding(raw []byte) (Binding, error) {
	var b Binding

	err := consumeFields(raw, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		var err error

		switch num {
		case fieldBindingIndex:
			b.Index = int(v)
		case fieldBindingName:
			b.Name = string(raw)
		case fieldBindingMode:
			b.Mode = IOMode(v)
		case fieldBindingType:
			b.Type = DataType(v)
		case fieldBindingDims:
			b.Shape, err = decodeDims(raw)
		}

		return err
	})

	return b, err
}

// decodeDims decodes packed zigzag varints
func decodeDims(raw []byte) (Dims, error) {
	d := Dims{}

	for len(raw) > 0 {
		v, n := protowire.ConsumeVarint(raw)

		if n < 0 {
			return nil, protowire.ParseError(n)
		}

		d = append(d, protowire.DecodeZigZag(v))
		raw = raw[n:]
	}

	if len(d) > MaxDims {
		return nil, fmt.Errorf("shape rank %d exceeds %d", len(d), MaxDims)
	}

	return d, nil
}

// consumeFields walks a protobuf wire message calling fn with each varint
// value or length-delimited payload. Unknown wire types are skipped.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)

		if n < 0 {
			return protowire.ParseError(n)
		}

		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)

			if n < 0 {
				return protowire.ParseError(n)
			}

			if err := fn(num, typ, v, nil); err != nil {
				return err
			}

			b = b[n:]

		case protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)

			if n < 0 {
				return protowire.ParseError(n)
			}

			if err := fn(num, typ, 0, raw); err != nil {
				return err
			}

			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)

			if n < 0 {
				return protowire.ParseError(n)
			}

			b = b[n:]
		}
	}

	return nil
}

// checkCompatible rejects plans written by another backend or runtime
// version
func (p *enginePlan) checkCompatible(backend, version string) error {
	if p.FormatVersion != planFormatVersion {
		return nativeErr("deserializeEngine", StatusVersionMismatch,
			fmt.Sprintf("plan format version %d, runtime supports %d", p.FormatVersion, planFormatVersion))
	}

	if p.Backend != backend {
		return nativeErr("deserializeEngine", StatusVersionMismatch,
			fmt.Sprintf("plan was built for backend %q, runtime is %q", p.Backend, backend))
	}

	if p.RuntimeVersion != version {
		return nativeErr("deserializeEngine", StatusVersionMismatch,
			fmt.Sprintf("plan was built with runtime %s, loaded by %s", p.RuntimeVersion, version))
	}

	return nil
}

// planEngine is a NativeEngine described entirely by an enginePlan. The
// context factory supplies the runtime specific execution.
type planEngine struct {
	plan       *enginePlan
	newContext func(*enginePlan) (NativeContext, error)

	mu     sync.Mutex
	closed bool
}

// NumIOTensors returns the number of bindings in the plan
func (e *planEngine) NumIOTensors() int {
	return len(e.plan.Bindings)
}

// IOTensor returns the binding at idx
func (e *planEngine) IOTensor(idx int) (Binding, error) {
	if idx < 0 || idx >= len(e.plan.Bindings) {
		return Binding{}, nativeErr("getIOTensorName", StatusParamInvalid,
			fmt.Sprintf("index %d out of range [0-%d)", idx, len(e.plan.Bindings)))
	}

	return e.plan.Bindings[idx], nil
}

// ProfileShapes returns the plan's single profile
func (e *planEngine) ProfileShapes(input string, profile int) (Dims, Dims, Dims, error) {
	if profile != 0 {
		return nil, nil, nil, nativeErr("getProfileShape", StatusParamInvalid,
			fmt.Sprintf("profile %d does not exist, engine has 1 profile", profile))
	}

	if input != e.plan.ProfileInput {
		return nil, nil, nil, nativeErr("getProfileShape", StatusParamInvalid,
			fmt.Sprintf("%q is not a dynamic input of the profile", input))
	}

	s := e.plan.ProfileShapes

	return s[0], s[1], s[2], nil
}

// Serialize re-encodes the plan
func (e *planEngine) Serialize() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, nativeErr("serialize", StatusCtxInvalid, "engine is closed")
	}

	return e.plan.marshal(), nil
}

// NewContext creates an execution context through the runtime factory
func (e *planEngine) NewContext() (NativeContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, nativeErr("createExecutionContext", StatusCtxInvalid, "engine is closed")
	}

	return e.newContext(e.plan)
}

// Close marks the engine released
func (e *planEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	return nil
}
