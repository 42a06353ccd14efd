package trtlite

import (
	"errors"
	"fmt"
	"sync"
)

// hostOp is a unit of work queued on a hostStream. A non-nil barrier is
// closed once every earlier operation has finished.
type hostOp struct {
	name    string
	fn      func() error
	barrier chan error
}

// hostStream executes enqueued operations in order on a single worker
// goroutine. Enqueue never blocks on the work itself. The first failure is
// kept and every later operation up to the next Synchronize is skipped, the
// same sticky behaviour as a CUDA stream.
type hostStream struct {
	dev *hostDevice

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []hostOp
	err    error
	closed bool

	done      chan struct{}
	closeOnce sync.Once
}

// newHostStream starts the stream worker
func newHostStream(dev *hostDevice) *hostStream {
	s := &hostStream{
		dev:  dev,
		done: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)

	go s.run()

	return s
}

// run drains the queue until the stream is closed
func (s *hostStream) run() {
	defer close(s.done)

	for {
		s.mu.Lock()

		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}

		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}

		op := s.queue[0]
		s.queue[0] = hostOp{}
		s.queue = s.queue[1:]
		failed := s.err != nil
		s.mu.Unlock()

		if op.barrier != nil {
			s.mu.Lock()
			err := s.err
			s.err = nil
			s.mu.Unlock()

			op.barrier <- err
			close(op.barrier)
			continue
		}

		if failed {
			continue
		}

		if err := op.fn(); err != nil {
			s.mu.Lock()
			if s.err == nil {
				s.err = fmt.Errorf("%s: %w", op.name, err)
			}
			s.mu.Unlock()
		}
	}
}

// enqueue appends an operation to the stream
func (s *hostStream) enqueue(name string, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nativeErr(name, StatusCtxInvalid, "stream is closed")
	}

	s.queue = append(s.queue, hostOp{name: name, fn: fn})
	s.cond.Signal()

	return nil
}

// CopyHostToDevice snapshots src and enqueues the copy into dst
func (s *hostStream) CopyHostToDevice(dst DevicePtr, src []byte) error {
	buf, err := s.dev.resolve(dst)

	if err != nil {
		return nativeErr("memcpyHtoDAsync", StatusCopyFailed, err.Error())
	}

	if len(src) > len(buf) {
		return nativeErr("memcpyHtoDAsync", StatusCopyFailed,
			fmt.Sprintf("copy of %d bytes overflows device buffer of %d bytes", len(src), len(buf)))
	}

	staged := make([]byte, len(src))
	copy(staged, src)

	return s.enqueue("memcpyHtoDAsync", func() error {
		copy(buf, staged)
		return nil
	})
}

// CopyDeviceToHost enqueues a copy of src into dst
func (s *hostStream) CopyDeviceToHost(dst []byte, src DevicePtr) error {
	buf, err := s.dev.resolve(src)

	if err != nil {
		return nativeErr("memcpyDtoHAsync", StatusCopyFailed, err.Error())
	}

	if len(dst) > len(buf) {
		return nativeErr("memcpyDtoHAsync", StatusCopyFailed,
			fmt.Sprintf("copy of %d bytes overreads device buffer of %d bytes", len(dst), len(buf)))
	}

	return s.enqueue("memcpyDtoHAsync", func() error {
		copy(dst, buf)
		return nil
	})
}

// Synchronize blocks until the queue has drained
func (s *hostStream) Synchronize() error {
	barrier := make(chan error, 1)

	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return nativeErr("streamSynchronize", StatusCtxInvalid, "stream is closed")
	}

	s.queue = append(s.queue, hostOp{name: "streamSynchronize", barrier: barrier})
	s.cond.Signal()
	s.mu.Unlock()

	if err := <-barrier; err != nil {
		var ne *NativeError

		if errors.As(err, &ne) {
			return err
		}

		return nativeErr("streamSynchronize", StatusSyncFailed, err.Error())
	}

	return nil
}

// Close waits for queued work to finish and stops the worker
func (s *hostStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.cond.Signal()
		s.mu.Unlock()

		<-s.done
	})

	return nil
}
