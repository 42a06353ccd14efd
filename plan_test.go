package trtlite

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPlan() *enginePlan {
	return &enginePlan{
		FormatVersion:  planFormatVersion,
		Backend:        "fake",
		RuntimeVersion: "1.0.0",
		FP16:           true,
		WorkspaceBytes: 2 << 30,
		ProfileInput:   "input",
		ProfileShapes: [3]Dims{
			{1, 3, 224, 224},
			{8, 3, 224, 224},
			{32, 3, 224, 224},
		},
		Bindings: []Binding{
			{Index: 0, Name: "input", Mode: ModeInput, Shape: Dims{-1, 3, 224, 224}, Type: Float},
			{Index: 1, Name: "output", Mode: ModeOutput, Shape: Dims{-1, 1000}, Type: Half},
		},
		Graph: []byte("graph"),
	}
}

func TestPlanRoundTrip(t *testing.T) {
	p := testPlan()

	got, err := unmarshalPlan(p.marshal())
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestPlanCorrupt(t *testing.T) {
	blob := testPlan().marshal()

	cases := map[string][]byte{
		"truncated": blob[:len(blob)/2],
		"header":    append([]byte("XXXXXXXX"), blob[8:]...),
		"empty":     {},
	}

	flipped := append([]byte(nil), blob...)
	flipped[len(flipped)/2] ^= 0xff
	cases["flipped"] = flipped

	for name, b := range cases {
		_, err := unmarshalPlan(b)

		var ne *NativeError
		require.True(t, errors.As(err, &ne), name)
		assert.Equal(t, StatusModelInvalid, ne.Status, name)
		assert.ErrorIs(t, err, ErrDeserialize, name)
	}
}

func TestPlanCompatible(t *testing.T) {
	p := testPlan()

	require.NoError(t, p.checkCompatible("fake", "1.0.0"))

	err := p.checkCompatible("fake", "2.0.0")

	var ne *NativeError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, StatusVersionMismatch, ne.Status)

	err = p.checkCompatible("tensorrt", "1.0.0")
	assert.ErrorIs(t, err, ErrDeserialize)
}

func TestPlanEngineClosed(t *testing.T) {
	e := &planEngine{
		plan: testPlan(),
		newContext: func(*enginePlan) (NativeContext, error) {
			return nil, nil
		},
	}

	_, _, _, err := e.ProfileShapes("input", 1)
	assert.Error(t, err)

	_, _, _, err = e.ProfileShapes("output", 0)
	assert.Error(t, err)

	require.NoError(t, e.Close())

	_, err = e.Serialize()
	assert.ErrorIs(t, err, ErrClosed)

	_, err = e.NewContext()
	assert.ErrorIs(t, err, ErrClosed)
}
