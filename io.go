package trtlite

// IONumber is the number of Input and Output bindings of an engine
type IONumber struct {
	NumberInput  uint32
	NumberOutput uint32
}
