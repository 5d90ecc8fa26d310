package model

import "github.com/pkg/errors"

var (
	// ErrConfiguration reports an unusable engine configuration, such as an
	// unknown activation name.
	ErrConfiguration = errors.New("model: invalid configuration")

	// ErrDimensionMismatch reports input or label vectors whose length differs
	// from the configured layer widths.
	ErrDimensionMismatch = errors.New("model: dimension mismatch")

	// ErrNotInitialized is returned when parameters are used before Init.
	ErrNotInitialized = errors.New("model: parameters not initialized")

	// ErrNumerical reports a softmax normaliser that overflowed, or a labelled
	// class whose probability underflowed to zero. Parameters are left
	// untouched when it is returned from a training step.
	ErrNumerical = errors.New("model: numerical failure")

	// ErrPersistence covers unreadable, malformed or inconsistent model files.
	ErrPersistence = errors.New("model: persistence failure")
)
