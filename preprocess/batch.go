package preprocess

import "fmt"

// Batch concatenates preprocessed CHW samples into a single NCHW tensor for
// use with a batched Session
type Batch struct {
	data []float32
	// size of the batch
	size int
	// sampleLen is the number of elements of one sample
	sampleLen int
	// cnt is a counter for how many samples have been added with Add()
	cnt int
}

// NewBatch allocates a batch of size samples of sampleLen elements each
func NewBatch(size, sampleLen int) *Batch {
	return &Batch{
		data:      make([]float32, size*sampleLen),
		size:      size,
		sampleLen: sampleLen,
	}
}

// Add a sample to the next free position of the batch
func (b *Batch) Add(sample []float32) error {

	// check if batch is full
	if b.cnt >= b.size {
		return fmt.Errorf("batch full")
	}

	if err := b.addAt(b.cnt, sample); err != nil {
		return err
	}

	b.cnt++
	return nil
}

// AddAt writes a sample at the specific index location
func (b *Batch) AddAt(idx int, sample []float32) error {

	if idx < 0 || idx >= b.size {
		return fmt.Errorf("index %d out of range [0-%d)", idx, b.size)
	}

	return b.addAt(idx, sample)
}

func (b *Batch) addAt(idx int, sample []float32) error {

	if len(sample) != b.sampleLen {
		return fmt.Errorf("sample has %d elements, batch expects %d", len(sample), b.sampleLen)
	}

	copy(b.data[idx*b.sampleLen:], sample)
	return nil
}

// Data returns the whole NCHW tensor, positions not yet added hold the
// values of a previous use or zero
func (b *Batch) Data() []float32 {
	return b.data
}

// Len returns the number of samples added with Add
func (b *Batch) Len() int {
	return b.cnt
}

// Size returns the capacity of the batch
func (b *Batch) Size() int {
	return b.size
}

// Full reports if every position has been added
func (b *Batch) Full() bool {
	return b.cnt >= b.size
}

// Clear the batch so it can be reused again
func (b *Batch) Clear() {
	// just reset the counter, the data is overwritten by the next Add
	b.cnt = 0
}

// Repeat concatenates n copies of sample into one batch tensor
func Repeat(sample []float32, n int) []float32 {
	out := make([]float32, 0, len(sample)*n)

	for i := 0; i < n; i++ {
		out = append(out, sample...)
	}

	return out
}
