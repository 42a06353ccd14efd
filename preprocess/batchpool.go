package preprocess

// BatchPool is a pool of batches, usually sized like the session pool so
// every in-flight request has a tensor to fill
type BatchPool struct {
	// pool of batches
	batches chan *Batch
	// size of pool
	size int
}

// NewBatchPool returns a pool of size Batches, each holding batchSize
// samples of sampleLen elements
func NewBatchPool(size, batchSize, sampleLen int) *BatchPool {

	p := &BatchPool{
		batches: make(chan *Batch, size),
		size:    size,
	}

	for i := 0; i < size; i++ {
		// attach to pool
		p.Return(NewBatch(batchSize, sampleLen))
	}

	return p
}

// Get a batch from the pool, blocking until one is free
func (p *BatchPool) Get() *Batch {
	return <-p.batches
}

// Return a batch to the pool
func (p *BatchPool) Return(batch *Batch) {

	batch.Clear()

	select {
	case p.batches <- batch:
	default:
		// pool is full
	}
}

// Size returns the number of batches in the pool
func (p *BatchPool) Size() int {
	return p.size
}
