package dataset

import "github.com/pkg/errors"

var (
	// ErrLabelRange reports a class label outside [0, classes).
	ErrLabelRange = errors.New("dataset: label out of range")

	// ErrInputAsset reports an image that is missing, undecodable or of the
	// wrong size.
	ErrInputAsset = errors.New("dataset: bad input image")
)
