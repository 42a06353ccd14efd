package trtlite

import (
	"errors"
	"sync"
)

// Pool is a simple pool of Sessions on one Engine so several batches can be
// in flight at once, each on its own execution context and stream
type Pool struct {
	engine *Engine
	// pool of sessions
	sessions chan *Session
	// all holds every session created so Close can release them
	all []*Session
	// size of pool
	size  int
	batch int
	close sync.Once
	err   error
	// mu guards closed against Return racing Close
	mu     sync.RWMutex
	closed bool
}

// NewPool creates size Sessions bound to batch
func NewPool(engine *Engine, size, batch int) (*Pool, error) {

	if size < 1 {
		return nil, errors.New("pool size must be at least 1")
	}

	p := &Pool{
		engine:   engine,
		sessions: make(chan *Session, size),
		size:     size,
		batch:    batch,
	}

	for i := 0; i < size; i++ {
		s, err := engine.NewSession(batch)

		if err != nil {
			// close any instances that may have been created before receiving
			// the error
			p.Close()
			return nil, err
		}

		p.all = append(p.all, s)

		// attach to pool
		p.Return(s)
	}

	Logger().V(1).Info("created session pool", "size", size, "batch", batch)

	return p, nil
}

// Get a session from the pool, blocking until one is free. The second value
// is false once the pool is closed.
func (p *Pool) Get() (*Session, bool) {
	s, ok := <-p.sessions

	if !ok {
		return nil, false
	}

	// a session received while Close is draining the channel is already
	// released
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, false
	}

	return s, true
}

// Return a session to the pool
func (p *Pool) Return(s *Session) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return
	}

	select {
	case p.sessions <- s:
	default:
		// pool is full
	}
}

// Size returns the number of sessions in the pool
func (p *Pool) Size() int {
	return p.size
}

// Engine returns the engine the sessions execute
func (p *Pool) Engine() *Engine {
	return p.engine
}

// Batch returns the batch size the sessions were created with
func (p *Pool) Batch() int {
	return p.batch
}

// Close the pool and all sessions in it. Sessions still checked out are
// released too and return ErrClosed if used afterwards.
func (p *Pool) Close() error {
	p.close.Do(func() {
		// close channel
		p.mu.Lock()
		p.closed = true
		close(p.sessions)
		p.mu.Unlock()

		// drain so Get reports the pool as closed
		for range p.sessions {
		}

		var errs []error

		for _, s := range p.all {
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		}

		p.err = errors.Join(errs...)
	})

	return p.err
}
