package trtlite

import (
	"fmt"
	"io"
)

// Query writes the runtime version, binding counts, every binding and the
// optimization profiles of the engine in text/human readable format
func (e *Engine) Query(w io.Writer) error {

	fmt.Fprintf(w, "Backend: %s, Runtime Version: %s\n", e.backend.Name(), e.backend.Version())

	num := e.IONumber()

	fmt.Fprintf(w, "Engine Input Number: %d, Output Number: %d\n", num.NumberInput, num.NumberOutput)

	fmt.Fprintf(w, "Input tensors:\n")

	for _, b := range e.Inputs() {
		fmt.Fprintf(w, "  %s\n", b.String())

		if prof, ok := e.Profile(b.Name); ok {
			fmt.Fprintf(w, "    profile %s\n", prof.String())
		}
	}

	fmt.Fprintf(w, "Output tensors:\n")

	for _, b := range e.Outputs() {
		fmt.Fprintf(w, "  %s\n", b.String())
	}

	return nil
}
