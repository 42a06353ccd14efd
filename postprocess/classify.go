package postprocess

import (
	"fmt"
	"math"

	"github.com/swdee/go-trtlite"
	"gonum.org/v1/gonum/floats"
)

// DefaultThreshold is the confidence, in percent, a class must exceed to be
// reported
const DefaultThreshold = 0.5

// Class is a single classification result
type Class struct {
	// Index is the class index in the label table
	Index int `json:"index"`
	// Name is the class label
	Name string `json:"name"`
	// Confidence is the softmax probability in percent
	Confidence float64 `json:"confidence"`
}

// String renders the class the same way the infer command prints it
func (c Class) String() string {
	return fmt.Sprintf("Class: %s, confidence: %g%%, index: %d", c.Name, c.Confidence, c.Index)
}

// Reshape splits a flat output buffer into batch rows of equal length
func Reshape(flat []float32, batch int) ([][]float32, error) {

	if batch < 1 {
		return nil, fmt.Errorf("invalid batch size %d", batch)
	}

	if len(flat)%batch != 0 {
		return nil, fmt.Errorf("output of %d elements does not divide into %d samples", len(flat), batch)
	}

	n := len(flat) / batch
	rows := make([][]float32, batch)

	for i := range rows {
		rows[i] = flat[i*n : (i+1)*n : (i+1)*n]
	}

	return rows, nil
}

// Flatten concatenates rows back into a single buffer
func Flatten(rows [][]float32) []float32 {

	size := 0
	for _, r := range rows {
		size += len(r)
	}

	flat := make([]float32, 0, size)

	for _, r := range rows {
		flat = append(flat, r...)
	}

	return flat
}

// Softmax returns the softmax of the raw scores in percent
func Softmax(row []float32) []float64 {

	if len(row) == 0 {
		return nil
	}

	logits := make([]float64, len(row))

	for i, v := range row {
		logits[i] = float64(v)
	}

	// normalize in log space so large logits do not overflow
	lse := floats.LogSumExp(logits)

	for i, v := range logits {
		logits[i] = math.Exp(v-lse) * 100
	}

	return logits
}

// order returns the class indices sorted by descending raw score
func order(row []float32) []int {

	scores := make([]float64, len(row))

	for i, v := range row {
		// negate so the ascending Argsort yields descending scores
		scores[i] = -float64(v)
	}

	inds := make([]int, len(scores))
	floats.Argsort(scores, inds)

	return inds
}

// ScanThreshold returns how many leading entries of the descending sorted
// confidences are strictly above threshold. The scan stops at the first
// confidence at or below threshold.
func ScanThreshold(sorted []float64, threshold float64) int {

	for i, c := range sorted {
		if c <= threshold {
			return i
		}
	}

	return len(sorted)
}

// Top returns the n highest scoring classes of a row without resolving
// their labels
func Top(row []float32, n int) []Class {

	conf := Softmax(row)
	inds := order(row)

	if n > len(inds) {
		n = len(inds)
	}

	top := make([]Class, n)

	for i := 0; i < n; i++ {
		top[i] = Class{Index: inds[i], Confidence: conf[inds[i]]}
	}

	return top
}

// Classify orders the classes of one sample by descending raw score and
// returns those whose confidence exceeds threshold
func Classify(row []float32, labels trtlite.Labels, threshold float64) ([]Class, error) {

	conf := Softmax(row)
	inds := order(row)

	sorted := make([]float64, len(inds))

	for i, idx := range inds {
		sorted[i] = conf[idx]
	}

	n := ScanThreshold(sorted, threshold)
	classes := make([]Class, 0, n)

	for i := 0; i < n; i++ {
		idx := inds[i]

		name, err := labels.Lookup(idx)

		if err != nil {
			return nil, err
		}

		classes = append(classes, Class{
			Index:      idx,
			Name:       name,
			Confidence: sorted[i],
		})
	}

	return classes, nil
}

// ClassifyBatch reshapes a flat batched output and classifies every sample
func ClassifyBatch(flat []float32, batch int, labels trtlite.Labels, threshold float64) ([][]Class, error) {

	rows, err := Reshape(flat, batch)

	if err != nil {
		return nil, err
	}

	results := make([][]Class, batch)

	for i, row := range rows {
		results[i], err = Classify(row, labels, threshold)

		if err != nil {
			return nil, fmt.Errorf("error classifying sample %d: %w", i, err)
		}
	}

	return results, nil
}
