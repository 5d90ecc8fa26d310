package dataset

import "github.com/pkg/errors"

// OneHot encodes label as a vector of length classes with a single 1.
func OneHot(label, classes int) ([]float64, error) {
	if label < 0 || label >= classes {
		return nil, errors.Wrapf(ErrLabelRange, "label %d not in [0, %d)", label, classes)
	}
	v := make([]float64, classes)
	v[label] = 1
	return v, nil
}
