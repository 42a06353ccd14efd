package trtlite

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Labels maps a class index to its name. The index is the 0-based line
// number of the label file.
type Labels []string

// LoadLabels reads the class labels used to train the Model from the given
// text file. Each line is comma delimited and the second field is the class
// name, eg: "n01440764, tench".
func LoadLabels(file string) (Labels, error) {

	// open the file
	f, err := os.Open(file)

	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}

	defer f.Close()

	return ParseLabels(f)
}

// ParseLabels reads a label table from r
func ParseLabels(r io.Reader) (Labels, error) {

	scanner := bufio.NewScanner(r)

	var labels Labels
	lineNo := 0

	for scanner.Scan() {
		line := scanner.Text()

		fields := strings.SplitN(line, ",", 3)

		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: line %d %q has no comma delimited class name",
				ErrMalformedLabel, lineNo, line)
		}

		labels = append(labels, strings.TrimSpace(fields[1]))
		lineNo++
	}

	// check for errors during scanning
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading labels: %w", err)
	}

	return labels, nil
}

// Lookup returns the class name for index
func (l Labels) Lookup(index int) (string, error) {
	if index < 0 || index >= len(l) {
		return "", fmt.Errorf("%w: class index %d, table has %d labels",
			ErrLabelNotFound, index, len(l))
	}

	return l[index], nil
}
