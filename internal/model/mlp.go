package model

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"

	"digitnet/internal/activation"
)

// Config holds the hyperparameters fixed at construction time.
type Config struct {
	InputSize    int
	HiddenSize   int
	OutputSize   int
	LearningRate float64
	Activation   string
	Epochs       int
	Seed         int64
}

// DefaultConfig matches a 16x24 image, 128 hidden units and 10 classes.
func DefaultConfig() Config {
	return Config{
		InputSize:    384,
		HiddenSize:   128,
		OutputSize:   10,
		LearningRate: 0.03,
		Activation:   activation.ReLU.Name,
		Epochs:       10,
		Seed:         1,
	}
}

var _ Classifier = (*MLP)(nil)

// MLP is a fully-connected network with one hidden layer, a softmax output and
// one shared scalar bias per layer. It is trained online, one image at a time.
//
// An MLP is not safe for concurrent use.
type MLP struct {
	cfg        Config
	activation activation.Function

	w1 *mat.Dense // InputSize x HiddenSize
	b1 float64
	w2 *mat.Dense // HiddenSize x OutputSize
	b2 float64

	inputLayer  *mat.VecDense
	hiddenLayer *mat.VecDense
	outputLayer *mat.VecDense

	// backward scratch
	dOut    *mat.VecDense
	dHidden *mat.VecDense

	initialized     bool
	completedEpochs int
}

// New validates cfg and allocates an uninitialized MLP.
func New(cfg Config) (*MLP, error) {
	act, ok := activation.Lookup(cfg.Activation)
	if !ok {
		return nil, errors.Wrapf(ErrConfiguration, "unknown activation %q (want one of %v)", cfg.Activation, activation.Names())
	}
	if cfg.InputSize <= 0 || cfg.HiddenSize <= 0 || cfg.OutputSize <= 0 {
		return nil, errors.Wrapf(ErrConfiguration, "layer sizes must be > 0 (got %d/%d/%d)",
			cfg.InputSize, cfg.HiddenSize, cfg.OutputSize)
	}
	if cfg.LearningRate <= 0 || math.IsNaN(cfg.LearningRate) || math.IsInf(cfg.LearningRate, 0) {
		return nil, errors.Wrapf(ErrConfiguration, "learning rate must be finite and > 0 (got %v)", cfg.LearningRate)
	}
	if cfg.Epochs < 0 {
		return nil, errors.Wrapf(ErrConfiguration, "epochs must be >= 0 (got %d)", cfg.Epochs)
	}
	cfg.Activation = act.Name
	return &MLP{
		cfg:         cfg,
		activation:  act,
		w1:          mat.NewDense(cfg.InputSize, cfg.HiddenSize, nil),
		w2:          mat.NewDense(cfg.HiddenSize, cfg.OutputSize, nil),
		inputLayer:  mat.NewVecDense(cfg.InputSize, nil),
		hiddenLayer: mat.NewVecDense(cfg.HiddenSize, nil),
		outputLayer: mat.NewVecDense(cfg.OutputSize, nil),
		dOut:        mat.NewVecDense(cfg.OutputSize, nil),
		dHidden:     mat.NewVecDense(cfg.HiddenSize, nil),
	}, nil
}

// Config returns the hyperparameters the model was built with.
func (m *MLP) Config() Config {
	return m.cfg
}

// CompletedEpochs reports how many full passes have finished since Init.
func (m *MLP) CompletedEpochs() int {
	return m.completedEpochs
}

// Initialized reports whether Init has been called.
func (m *MLP) Initialized() bool {
	return m.initialized
}

// NumParameters counts every trainable value, including the two shared biases.
func (m *MLP) NumParameters() int {
	return m.cfg.InputSize*m.cfg.HiddenSize + m.cfg.HiddenSize*m.cfg.OutputSize + 2
}

// SetTargetEpochs changes the epoch count Train runs to, e.g. to continue a
// resumed model.
func (m *MLP) SetTargetEpochs(n int) error {
	if n < m.completedEpochs {
		return errors.Wrapf(ErrConfiguration, "target epochs %d is below completed epochs %d", n, m.completedEpochs)
	}
	m.cfg.Epochs = n
	return nil
}

// Init overwrites every parameter. Biases start at zero; weights are scaled
// uniform draws, sqrt(2/fanIn) * U[0,1), taken row-major from rng.
func (m *MLP) Init(rng *rand.Rand) {
	m.b1 = 0
	m.b2 = 0
	fillScaled(m.w1, math.Sqrt(2/float64(m.cfg.InputSize)), rng)
	fillScaled(m.w2, math.Sqrt(2/float64(m.cfg.HiddenSize)), rng)
	m.completedEpochs = 0
	m.initialized = true
}

func fillScaled(w *mat.Dense, scale float64, rng *rand.Rand) {
	rows, cols := w.Dims()
	for i := 0; i < rows; i++ {
		row := w.RawRowView(i)
		for j := 0; j < cols; j++ {
			row[j] = scale * rng.Float64()
		}
	}
}

// TrainOneImage runs forward, loss, backward and update for a single example
// and returns the loss, accumulated as sum(y * ln p).
//
// The update is gradient ascent on that quantity, which is descent on the
// negative log-likelihood. Classes with y == 0 add nothing to the loss even
// when their probability underflowed to zero; a labelled class with zero
// probability is ErrNumerical and leaves the parameters untouched.
func (m *MLP) TrainOneImage(x, y []float64) (float64, error) {
	if !m.initialized {
		return 0, ErrNotInitialized
	}
	if err := m.checkSample(x, y); err != nil {
		return 0, err
	}
	if err := m.forward(x); err != nil {
		return 0, err
	}

	probs := m.outputLayer.RawVector().Data
	loss := 0.0
	for k, yk := range y {
		if yk == 0 {
			continue
		}
		loss += yk * math.Log(probs[k])
	}
	if math.IsInf(loss, 0) || math.IsNaN(loss) {
		return 0, errors.Wrapf(ErrNumerical, "loss is %v", loss)
	}

	dOut := m.dOut.RawVector().Data
	for k := range dOut {
		dOut[k] = y[k] - probs[k]
	}
	db2 := floats.Sum(dOut)

	// W2 must be read before it is updated.
	m.dHidden.MulVec(m.w2, m.dOut)
	dHidden := m.dHidden.RawVector().Data
	hidden := m.hiddenLayer.RawVector().Data
	for j := range dHidden {
		dHidden[j] *= m.activation.Backward(hidden[j])
	}
	db1 := floats.Sum(dHidden)

	lr := m.cfg.LearningRate
	m.w1.RankOne(m.w1, lr, m.inputLayer, m.dHidden)
	m.b1 += lr * db1
	m.w2.RankOne(m.w2, lr, m.hiddenLayer, m.dOut)
	m.b2 += lr * db2

	return loss, nil
}

// TrainOneEpoch trains on every corpus entry in order. The whole corpus is
// validated before the first update, so a malformed entry leaves the
// parameters untouched.
func (m *MLP) TrainOneEpoch(corpus Corpus) (EpochResult, error) {
	if !m.initialized {
		return EpochResult{}, ErrNotInitialized
	}
	if err := m.checkCorpus(corpus); err != nil {
		return EpochResult{}, err
	}

	res := EpochResult{Epoch: m.completedEpochs + 1, Samples: corpus.Len()}
	total := 0.0
	for i, x := range corpus.Images {
		loss, err := m.TrainOneImage(x, corpus.Labels[i])
		if err != nil {
			return res, errors.Wrapf(err, "epoch %d image %d", res.Epoch, i)
		}
		if klog.V(3).Enabled() {
			klog.Infof("epoch=%d image=%d loss=%.6f", res.Epoch, i, loss)
		}
		total += loss
		if floats.MaxIdx(m.outputLayer.RawVector().Data) == floats.MaxIdx(corpus.Labels[i]) {
			res.Correct++
		}
	}
	if res.Samples > 0 {
		res.MeanLoss = total / float64(res.Samples)
	}
	m.completedEpochs++
	return res, nil
}

// Train initializes the model from Config.Seed when needed and runs epochs
// until the configured count is reached. Corpus order is kept every epoch.
func (m *MLP) Train(corpus Corpus) ([]EpochResult, error) {
	if !m.initialized {
		m.Init(rand.New(rand.NewSource(m.cfg.Seed)))
	}
	var results []EpochResult
	for m.completedEpochs < m.cfg.Epochs {
		res, err := m.TrainOneEpoch(corpus)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Predict runs the forward pass only and returns the most probable class with
// a copy of the full probability vector.
func (m *MLP) Predict(x []float64) (Prediction, error) {
	if !m.initialized {
		return Prediction{}, ErrNotInitialized
	}
	if len(x) != m.cfg.InputSize {
		return Prediction{}, errors.Wrapf(ErrDimensionMismatch, "input has %d entries, want %d", len(x), m.cfg.InputSize)
	}
	if err := m.forward(x); err != nil {
		return Prediction{}, err
	}
	probs := make([]float64, m.cfg.OutputSize)
	copy(probs, m.outputLayer.RawVector().Data)
	return Prediction{Class: floats.MaxIdx(probs), Probabilities: probs}, nil
}

// forward fills the three layer buffers for input x. The softmax is taken
// without max-subtraction, so very large logits overflow into ErrNumerical.
// Logits far below the rest underflow to a probability of exactly zero.
func (m *MLP) forward(x []float64) error {
	copy(m.inputLayer.RawVector().Data, x)

	m.hiddenLayer.MulVec(m.w1.T(), m.inputLayer)
	hidden := m.hiddenLayer.RawVector().Data
	for j, pre := range hidden {
		hidden[j] = m.activation.Forward(pre + m.b1)
	}

	m.outputLayer.MulVec(m.w2.T(), m.hiddenLayer)
	out := m.outputLayer.RawVector().Data
	for k, logit := range out {
		out[k] = math.Exp(logit + m.b2)
	}
	sum := floats.Sum(out)
	if sum == 0 || math.IsInf(sum, 0) || math.IsNaN(sum) {
		return errors.Wrapf(ErrNumerical, "sum of exponentiated logits is %v", sum)
	}
	for k := range out {
		out[k] /= sum
	}
	return nil
}

func (m *MLP) checkSample(x, y []float64) error {
	if len(x) != m.cfg.InputSize {
		return errors.Wrapf(ErrDimensionMismatch, "image has %d entries, want %d", len(x), m.cfg.InputSize)
	}
	if len(y) != m.cfg.OutputSize {
		return errors.Wrapf(ErrDimensionMismatch, "label has %d entries, want %d", len(y), m.cfg.OutputSize)
	}
	return nil
}

func (m *MLP) checkCorpus(corpus Corpus) error {
	if len(corpus.Images) != len(corpus.Labels) {
		return errors.Wrapf(ErrDimensionMismatch, "corpus has %d images but %d labels",
			len(corpus.Images), len(corpus.Labels))
	}
	for i, x := range corpus.Images {
		if err := m.checkSample(x, corpus.Labels[i]); err != nil {
			return errors.WithMessagef(err, "corpus entry %d", i)
		}
	}
	return nil
}
