package classifier

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/kinga-app/kinga/internal/errors"
)

// LoadLabels reads a newline separated label file. Lines are trimmed and
// NFC normalized; line order is the model's class order.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // label path comes from operator config
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryLabelLoad).
			Context("label_path", path).
			Build()
	}
	defer f.Close()

	labels, err := ParseLabels(f)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryLabelLoad).
			Context("label_path", path).
			Build()
	}
	return labels, nil
}

// ParseLabels reads labels from r, one per line. Trailing blank lines are
// ignored; a blank line before a label would shift every later class index
// and is rejected.
func ParseLabels(r io.Reader) ([]string, error) {
	var labels []string
	scanner := bufio.NewScanner(r)
	lineNo, blankAt := 0, 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		line = norm.NFC.String(strings.TrimSpace(line))
		if line == "" {
			if blankAt == 0 {
				blankAt = lineNo
			}
			continue
		}
		if blankAt != 0 {
			return nil, fmt.Errorf("label file has a blank line at line %d", blankAt)
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, errors.NewStd("label file is empty")
	}
	return labels, nil
}

// validateLabels checks that there is one label per model output.
func validateLabels(labels []string, outputSize int, modelPath string) error {
	if len(labels) != outputSize {
		return errors.Newf("label count mismatch: model expects %d classes but label file has %d labels",
			outputSize, len(labels)).
			Component("classifier").
			Category(errors.CategoryValidation).
			Context("model_path", modelPath).
			Context("expected_labels", outputSize).
			Context("actual_labels", len(labels)).
			Build()
	}
	return nil
}
