package trtlite

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLabels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classes.txt")
	data := "n01440764, tench\nn01443537, goldfish\nn01484850, great white shark\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	labels, err := LoadLabels(path)
	require.NoError(t, err)
	require.Len(t, labels, 3)

	name, err := labels.Lookup(2)
	require.NoError(t, err)
	assert.Equal(t, "great white shark", name)

	_, err = labels.Lookup(5)
	assert.ErrorIs(t, err, ErrLabelNotFound)

	_, err = labels.Lookup(-1)
	assert.ErrorIs(t, err, ErrLabelNotFound)
}

func TestParseLabelsMalformed(t *testing.T) {
	_, err := ParseLabels(strings.NewReader("n01440764, tench\ngoldfish\n"))
	assert.ErrorIs(t, err, ErrMalformedLabel)
	assert.Contains(t, err.Error(), "line 1")
}

func TestParseLabelsExtraFields(t *testing.T) {
	labels, err := ParseLabels(strings.NewReader("0,  cat ,feline\n1,dog"))
	require.NoError(t, err)
	assert.Equal(t, Labels{"cat", "dog"}, labels)
}

func TestLoadLabelsMissing(t *testing.T) {
	_, err := LoadLabels(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
