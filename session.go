package trtlite

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ExecutionContext is per-inference state created from an Engine. It must
// not be used on more than one stream at a time.
type ExecutionContext struct {
	engine *Engine
	native NativeContext
	// profileSet records that profile 0 has been selected
	profileSet bool
	// shapes are the concrete input shapes of the last Bind
	shapes map[string]Dims
	batch  int

	closeOnce sync.Once
	closeErr  error
}

// NewExecutionContext creates an execution context on the engine
func (e *Engine) NewExecutionContext() (*ExecutionContext, error) {

	native, err := e.native.NewContext()

	if err != nil {
		return nil, fmt.Errorf("error creating execution context: %w", err)
	}

	return &ExecutionContext{
		engine: e,
		native: native,
		shapes: make(map[string]Dims),
	}, nil
}

// CheckBatch reports if batch is admissible for every input of the engine
// without touching any native state
func (e *Engine) CheckBatch(batch int) error {

	if batch < 1 {
		return fmt.Errorf("%w: batch size %d must be at least 1", ErrShapeBinding, batch)
	}

	for _, b := range e.Inputs() {
		if prof, ok := e.profiles[b.Name]; ok && !prof.Contains(batch) {
			return fmt.Errorf("%w: batch %d outside profile %s of input %q",
				ErrShapeBinding, batch, prof.String(), b.Name)
		}

		if _, err := b.ResolveShape(batch); err != nil {
			return err
		}
	}

	return nil
}

// Bind selects optimization profile 0 on stream and sets the concrete shape
// of every input for batch. Nothing is enqueued if batch is out of range.
func (c *ExecutionContext) Bind(stream Stream, batch int) error {

	if err := c.engine.CheckBatch(batch); err != nil {
		return err
	}

	if !c.profileSet {
		err := c.native.SetOptimizationProfile(0, stream)

		if err != nil {
			return fmt.Errorf("error selecting optimization profile: %w", err)
		}

		c.profileSet = true
	}

	for _, b := range c.engine.Inputs() {
		shape, _ := b.ResolveShape(batch)

		if err := c.native.SetInputShape(b.Name, shape); err != nil {
			return fmt.Errorf("error setting shape %s on input %q: %w",
				shape.String(), b.Name, err)
		}

		c.shapes[b.Name] = shape
	}

	c.batch = batch

	return nil
}

// Batch returns the batch size of the last successful Bind
func (c *ExecutionContext) Batch() int {
	return c.batch
}

// InputShape returns the concrete shape bound to an input
func (c *ExecutionContext) InputShape(name string) (Dims, bool) {
	s, ok := c.shapes[name]
	return s, ok
}

// Enqueue schedules execution on stream with the given device addresses
func (c *ExecutionContext) Enqueue(stream Stream, addrs []DevicePtr) error {
	return c.native.Enqueue(stream, addrs)
}

// Close releases the native context, later calls are no-ops
func (c *ExecutionContext) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.native.Close()
	})

	return c.closeErr
}

// Session pairs an ExecutionContext with a Stream and the buffers planned for
// one batch size. A Session is not safe for concurrent use, use a Pool to run
// batches in parallel.
type Session struct {
	engine  *Engine
	ctx     *ExecutionContext
	stream  Stream
	buffers *BufferSet

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewSession binds a new execution context for batch and plans its buffers.
// An out of range batch fails before any native state is created.
func (e *Engine) NewSession(batch int) (*Session, error) {

	if err := e.CheckBatch(batch); err != nil {
		return nil, err
	}

	dev := e.backend.Device()

	stream, err := dev.NewStream()

	if err != nil {
		return nil, fmt.Errorf("error creating stream: %w", err)
	}

	ctx, err := e.NewExecutionContext()

	if err != nil {
		_ = stream.Close()
		return nil, err
	}

	s := &Session{
		engine: e,
		ctx:    ctx,
		stream: stream,
	}

	if err := ctx.Bind(stream, batch); err != nil {
		_ = s.Close()
		return nil, err
	}

	buffers, err := PlanBuffers(dev, e.bindings.list, batch)

	if err != nil {
		_ = s.Close()
		return nil, err
	}

	s.buffers = buffers

	return s, nil
}

// Batch returns the batch size the Session is bound to
func (s *Session) Batch() int {
	return s.buffers.Batch()
}

// Engine returns the engine the Session executes
func (s *Session) Engine() *Engine {
	return s.engine
}

// Buffers returns the planned buffer set
func (s *Session) Buffers() *BufferSet {
	return s.buffers
}

// Resize rebinds the Session to a new batch size and replaces its buffers.
// On failure the Session keeps its previous binding and buffers.
func (s *Session) Resize(batch int) error {

	if s.closed.Load() {
		return fmt.Errorf("session: %w", ErrClosed)
	}

	if batch == s.Batch() {
		return nil
	}

	if err := s.engine.CheckBatch(batch); err != nil {
		return err
	}

	buffers, err := PlanBuffers(s.engine.backend.Device(), s.engine.bindings.list, batch)

	if err != nil {
		return err
	}

	if err := s.ctx.Bind(s.stream, batch); err != nil {
		_ = buffers.Free()
		return err
	}

	old := s.buffers
	s.buffers = buffers

	if err := old.Free(); err != nil {
		return fmt.Errorf("error releasing buffers for batch %d: %w", old.Batch(), err)
	}

	return nil
}

// Close drains the stream and releases the buffers, context and stream once
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		var errs []error

		if err := s.stream.Synchronize(); err != nil {
			errs = append(errs, err)
		}

		if s.buffers != nil {
			if err := s.buffers.Free(); err != nil {
				errs = append(errs, err)
			}
		}

		if err := s.ctx.Close(); err != nil {
			errs = append(errs, err)
		}

		if err := s.stream.Close(); err != nil {
			errs = append(errs, err)
		}

		s.closeErr = errors.Join(errs...)
	})

	return s.closeErr
}
