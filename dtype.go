package trtlite

import "fmt"

// DataType is the element type of a binding. The numeric values follow
// nvinfer1::DataType.
type DataType int

const (
	Float DataType = 0
	Half  DataType = 1
	Int8  DataType = 2
	Int32 DataType = 3
	Bool  DataType = 4
	Uint8 DataType = 5
	Int64 DataType = 8
)

// Size returns the number of bytes used by one element
func (t DataType) Size() int {
	switch t {
	case Float, Int32:
		return 4
	case Half:
		return 2
	case Int8, Bool, Uint8:
		return 1
	case Int64:
		return 8
	default:
		return 0
	}
}

// String returns a readable description of the DataType
func (t DataType) String() string {
	switch t {
	case Float:
		return "FP32"
	case Half:
		return "FP16"
	case Int8:
		return "INT8"
	case Int32:
		return "INT32"
	case Bool:
		return "BOOL"
	case Uint8:
		return "UINT8"
	case Int64:
		return "INT64"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(t))
	}
}
