package model

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"digitnet/internal/activation"
)

// record is the on-disk layout. Field names are a stable contract; scalar
// fields are pointers so that an absent field can be told apart from zero.
type record struct {
	InputSize           *int        `json:"inputSize"`
	HiddenSize          *int        `json:"hiddenSize"`
	OutputSize          *int        `json:"outputSize"`
	LearningRate        *float64    `json:"learningRate"`
	ActivationName      *string     `json:"activationName"`
	Epochs              *int        `json:"epochs"`
	CompletedEpochs     *int        `json:"completedEpochs"`
	Initialized         *bool       `json:"initialized"`
	InputHiddenWeights  [][]float64 `json:"inputHiddenWeights"`
	InputHiddenBias     *float64    `json:"inputHiddenBias"`
	HiddenOutputWeights [][]float64 `json:"hiddenOutputWeights"`
	HiddenOutputBias    *float64    `json:"hiddenOutputBias"`
}

// Save writes m as JSON to path. The record is written to a temporary file
// in the same directory and renamed over path only once it is complete, so a
// failed save never damages an existing model.
func Save(m *MLP, path string) (err error) {
	if !m.initialized {
		return errors.Wrap(ErrPersistence, "refusing to save a model that was never initialized")
	}
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return persistenceFailure(err, "create %s", path)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if err = Encode(m, f); err != nil {
		return err
	}
	if err = f.Chmod(0o644); err != nil {
		return persistenceFailure(err, "chmod %s", f.Name())
	}
	if err = f.Close(); err != nil {
		return persistenceFailure(err, "close %s", f.Name())
	}
	if err = os.Rename(f.Name(), path); err != nil {
		return persistenceFailure(err, "rename to %s", path)
	}
	return nil
}

// Load reads a model previously written by Save. A missing file matches both
// ErrPersistence and os.ErrNotExist.
func Load(path string) (*MLP, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, persistenceFailure(err, "open %s", path)
	}
	defer f.Close()

	m, err := Decode(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "load %s", path)
	}
	return m, nil
}

// persistError tags an I/O failure as ErrPersistence without dropping it
// from the chain.
type persistError struct {
	err error
}

func (e persistError) Error() string        { return ErrPersistence.Error() + ": " + e.err.Error() }
func (e persistError) Unwrap() error        { return e.err }
func (e persistError) Is(target error) bool { return target == ErrPersistence }

func persistenceFailure(err error, format string, args ...any) error {
	return errors.WithStack(persistError{err: errors.WithMessagef(err, format, args...)})
}

// Encode writes the full parameter and hyperparameter state of m to w.
// Floats use the shortest representation that parses back to the same bits.
func Encode(m *MLP, w io.Writer) error {
	if !m.initialized {
		return errors.Wrap(ErrPersistence, "refusing to save a model that was never initialized")
	}
	rec := record{
		InputSize:           &m.cfg.InputSize,
		HiddenSize:          &m.cfg.HiddenSize,
		OutputSize:          &m.cfg.OutputSize,
		LearningRate:        &m.cfg.LearningRate,
		ActivationName:      &m.cfg.Activation,
		Epochs:              &m.cfg.Epochs,
		CompletedEpochs:     &m.completedEpochs,
		Initialized:         &m.initialized,
		InputHiddenWeights:  rows(m.w1),
		InputHiddenBias:     &m.b1,
		HiddenOutputWeights: rows(m.w2),
		HiddenOutputBias:    &m.b2,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&rec); err != nil {
		return errors.Wrapf(ErrPersistence, "encode: %v", err)
	}
	return nil
}

// Decode rebuilds a model from the JSON produced by Encode, including scratch
// buffers sized for the restored hyperparameters.
func Decode(r io.Reader) (*MLP, error) {
	var rec record
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return nil, errors.Wrapf(ErrPersistence, "decode: %v", err)
	}
	if err := rec.checkPresent(); err != nil {
		return nil, err
	}
	if _, ok := activation.Lookup(*rec.ActivationName); !ok {
		return nil, errors.Wrapf(ErrPersistence, "unknown activation %q", *rec.ActivationName)
	}

	m, err := New(Config{
		InputSize:    *rec.InputSize,
		HiddenSize:   *rec.HiddenSize,
		OutputSize:   *rec.OutputSize,
		LearningRate: *rec.LearningRate,
		Activation:   *rec.ActivationName,
		Epochs:       *rec.Epochs,
	})
	if err != nil {
		return nil, errors.Wrapf(ErrPersistence, "%v", err)
	}
	if err := fillRows(m.w1, rec.InputHiddenWeights, "inputHiddenWeights"); err != nil {
		return nil, err
	}
	if err := fillRows(m.w2, rec.HiddenOutputWeights, "hiddenOutputWeights"); err != nil {
		return nil, err
	}
	if *rec.CompletedEpochs < 0 {
		return nil, errors.Wrapf(ErrPersistence, "completedEpochs is negative (%d)", *rec.CompletedEpochs)
	}
	if !*rec.Initialized {
		return nil, errors.Wrap(ErrPersistence, "record is marked uninitialized")
	}
	m.b1 = *rec.InputHiddenBias
	m.b2 = *rec.HiddenOutputBias
	m.completedEpochs = *rec.CompletedEpochs
	m.initialized = true
	return m, nil
}

func (rec *record) checkPresent() error {
	required := []struct {
		name    string
		present bool
	}{
		{"inputSize", rec.InputSize != nil},
		{"hiddenSize", rec.HiddenSize != nil},
		{"outputSize", rec.OutputSize != nil},
		{"learningRate", rec.LearningRate != nil},
		{"activationName", rec.ActivationName != nil},
		{"epochs", rec.Epochs != nil},
		{"completedEpochs", rec.CompletedEpochs != nil},
		{"initialized", rec.Initialized != nil},
		{"inputHiddenWeights", rec.InputHiddenWeights != nil},
		{"inputHiddenBias", rec.InputHiddenBias != nil},
		{"hiddenOutputWeights", rec.HiddenOutputWeights != nil},
		{"hiddenOutputBias", rec.HiddenOutputBias != nil},
	}
	for _, field := range required {
		if !field.present {
			return errors.Wrapf(ErrPersistence, "missing field %q", field.name)
		}
	}
	return nil
}

func rows(w *mat.Dense) [][]float64 {
	r, _ := w.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = append([]float64(nil), w.RawRowView(i)...)
	}
	return out
}

func fillRows(w *mat.Dense, src [][]float64, field string) error {
	r, c := w.Dims()
	if len(src) != r {
		return errors.Wrapf(ErrPersistence, "%s has %d rows, want %d", field, len(src), r)
	}
	for i, row := range src {
		if len(row) != c {
			return errors.Wrapf(ErrPersistence, "%s row %d has %d columns, want %d", field, i, len(row), c)
		}
		copy(w.RawRowView(i), row)
	}
	return nil
}
