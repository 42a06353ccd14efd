package trtlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleInputs returns a batch whose sample i starts with the value i+1
func sampleInputs(batch, sample int) []float32 {
	in := make([]float32, batch*sample)

	for i := 0; i < batch; i++ {
		in[i*sample] = float32(i + 1)
	}

	return in
}

func TestSessionRunOrder(t *testing.T) {
	backend := newFakeBackend(5)

	engine, err := buildFakeEngine(backend, Dims{3, 4, 4}, 1, 8, 32)
	require.NoError(t, err)
	defer engine.Close()

	sess, err := engine.NewSession(2)
	require.NoError(t, err)
	defer sess.Close()

	assert.Equal(t, []string{"profile 0", "shape input (2, 3, 4, 4)"}, backend.rec.list())

	backend.rec.reset()

	out, err := sess.RunFloat32(sampleInputs(2, 3*4*4))
	require.NoError(t, err)

	assert.Equal(t, []string{"h2d", "enqueue", "d2h", "sync"}, backend.rec.list())

	require.Len(t, out.Output, 1)
	assert.Equal(t, 2, out.Batch)
	assert.Equal(t, Dims{2, 5}, out.Output[0].Shape)

	vals, err := out.Output[0].Float32()
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 2, 3, 4, 0, 2, 4, 6, 8}, vals)
}

func TestSessionBatchOutOfRange(t *testing.T) {
	backend := newFakeBackend(5)

	engine, err := buildFakeEngine(backend, Dims{3, 4, 4}, 1, 8, 32)
	require.NoError(t, err)
	defer engine.Close()

	for _, b := range []int{1, 32} {
		sess, err := engine.NewSession(b)
		require.NoError(t, err, "batch %d", b)
		require.NoError(t, sess.Close())
	}

	backend.rec.reset()
	live := backend.dev.live()

	for _, b := range []int{0, 33} {
		_, err = engine.NewSession(b)
		assert.ErrorIs(t, err, ErrShapeBinding, "batch %d", b)
	}

	// rejected before any native call or allocation
	assert.Empty(t, backend.rec.list())
	assert.Equal(t, live, backend.dev.live())
}

func TestSessionInputSizeMismatch(t *testing.T) {
	backend := newFakeBackend(5)

	engine, err := buildFakeEngine(backend, Dims{3, 4, 4}, 1, 8, 32)
	require.NoError(t, err)
	defer engine.Close()

	sess, err := engine.NewSession(4)
	require.NoError(t, err)
	defer sess.Close()

	backend.rec.reset()

	_, err = sess.RunFloat32(sampleInputs(2, 3*4*4))
	assert.ErrorIs(t, err, ErrShapeBinding)

	_, err = sess.Run()
	assert.ErrorIs(t, err, ErrShapeBinding)

	assert.Empty(t, backend.rec.list())
}

func TestSessionExecutionFailure(t *testing.T) {
	backend := newFakeBackend(5)

	engine, err := buildFakeEngine(backend, Dims{3, 4, 4}, 1, 8, 32)
	require.NoError(t, err)
	defer engine.Close()

	sess, err := engine.NewSession(1)
	require.NoError(t, err)
	defer sess.Close()

	backend.failEnqueue = true

	out, err := sess.RunFloat32(sampleInputs(1, 3*4*4))
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrExecution)
	assert.Contains(t, err.Error(), "an illegal memory access was encountered")

	// the stream recovers once the failure is reported
	backend.failEnqueue = false

	out, err = sess.RunFloat32(sampleInputs(1, 3*4*4))
	require.NoError(t, err)
	assert.Len(t, out.Output, 1)
}

func TestSessionResize(t *testing.T) {
	backend := newFakeBackend(3)

	engine, err := buildFakeEngine(backend, Dims{2}, 1, 2, 8)
	require.NoError(t, err)
	defer engine.Close()

	sess, err := engine.NewSession(1)
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.Resize(4))
	assert.Equal(t, 4, sess.Batch())
	assert.Equal(t, 4*2*4, sess.Buffers().Device()[0].Size)

	out, err := sess.RunFloat32(sampleInputs(4, 2))
	require.NoError(t, err)

	vals, err := out.Output[0].Float32()
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 2, 0, 2, 4, 0, 3, 6, 0, 4, 8}, vals)

	// out of range keeps the current binding
	assert.ErrorIs(t, sess.Resize(9), ErrShapeBinding)
	assert.Equal(t, 4, sess.Batch())
}

func TestSessionFP16Output(t *testing.T) {
	backend := newFakeBackend(4)
	backend.outType = Half

	engine, err := buildFakeEngine(backend, Dims{2}, 1, 1, 4)
	require.NoError(t, err)
	defer engine.Close()

	sess, err := engine.NewSession(1)
	require.NoError(t, err)
	defer sess.Close()

	out, err := sess.RunFloat32([]float32{0.5, 0})
	require.NoError(t, err)

	vals, err := out.Output[0].Float32()
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0.5, 1, 1.5}, vals)
}

func TestSessionCloseReleasesBuffers(t *testing.T) {
	backend := newFakeBackend(3)

	engine, err := buildFakeEngine(backend, Dims{2}, 1, 2, 8)
	require.NoError(t, err)
	defer engine.Close()

	sess, err := engine.NewSession(2)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.dev.live())

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	assert.Equal(t, 0, backend.dev.live())
}

func TestSessionFP16Input(t *testing.T) {
	backend := newFakeBackend(3)
	backend.inType = Half

	engine, err := buildFakeEngine(backend, Dims{4}, 1, 2, 4)
	require.NoError(t, err)
	defer engine.Close()

	sess, err := engine.NewSession(2)
	require.NoError(t, err)
	defer sess.Close()

	// 2 samples of 4 FP16 elements fill the 16 byte input buffer
	out, err := sess.RunFloat32([]float32{2, 0, 0, 0, 3, 0, 0, 0})
	require.NoError(t, err)

	vals, err := out.Output[0].Float32()
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 2, 4, 0, 3, 6}, vals)
}

func TestSessionRunFloat32UnsupportedInput(t *testing.T) {
	backend := newFakeBackend(3)
	backend.inType = Int32

	engine, err := buildFakeEngine(backend, Dims{2}, 1, 1, 2)
	require.NoError(t, err)
	defer engine.Close()

	sess, err := engine.NewSession(1)
	require.NoError(t, err)
	defer sess.Close()

	backend.rec.reset()

	_, err = sess.RunFloat32([]float32{1, 2})
	assert.ErrorIs(t, err, ErrShapeBinding)
	assert.Empty(t, backend.rec.list())
}

func TestSessionUseAfterClose(t *testing.T) {
	backend := newFakeBackend(3)

	engine, err := buildFakeEngine(backend, Dims{2}, 1, 2, 4)
	require.NoError(t, err)
	defer engine.Close()

	sess, err := engine.NewSession(1)
	require.NoError(t, err)
	require.NoError(t, sess.Close())

	backend.rec.reset()

	_, err = sess.RunFloat32([]float32{1, 0})
	assert.ErrorIs(t, err, ErrClosed)

	_, err = sess.Run(make([]byte, 8))
	assert.ErrorIs(t, err, ErrClosed)

	assert.ErrorIs(t, sess.Resize(2), ErrClosed)
	assert.Empty(t, backend.rec.list())
}
