// Command trtlite builds engines from ONNX graphs, inspects them and runs
// image classification locally or as an HTTP service.
package main

func main() {
	Execute()
}
