package model

import (
	"math"
	"math/rand"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

func newSmall(t *testing.T, act string) *MLP {
	t.Helper()
	m, err := New(Config{InputSize: 2, HiddenSize: 3, OutputSize: 2, LearningRate: 0.1, Activation: act, Epochs: 1, Seed: 7})
	require.NoError(t, err)
	m.Init(rand.New(rand.NewSource(7)))
	return m
}

func randomCorpus(rng *rand.Rand, n, inputSize, classes int) Corpus {
	var c Corpus
	for i := 0; i < n; i++ {
		x := make([]float64, inputSize)
		for j := range x {
			x[j] = rng.Float64()
		}
		y := make([]float64, classes)
		y[rng.Intn(classes)] = 1
		c.Images = append(c.Images, x)
		c.Labels = append(c.Labels, y)
	}
	return c
}

type snapshot struct {
	w1, w2 *mat.Dense
	b1, b2 float64
}

func takeSnapshot(m *MLP) snapshot {
	return snapshot{w1: mat.DenseCopyOf(m.w1), w2: mat.DenseCopyOf(m.w2), b1: m.b1, b2: m.b2}
}

func (s snapshot) equal(m *MLP) bool {
	return mat.Equal(s.w1, m.w1) && mat.Equal(s.w2, m.w2) && s.b1 == m.b1 && s.b2 == m.b2
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Activation = "softsign"
	_, err := New(cfg)
	require.ErrorIs(t, err, ErrConfiguration)

	cfg = DefaultConfig()
	cfg.HiddenSize = 0
	_, err = New(cfg)
	require.ErrorIs(t, err, ErrConfiguration)

	cfg = DefaultConfig()
	cfg.LearningRate = 0
	_, err = New(cfg)
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestInitScaling(t *testing.T) {
	m := must.M1(New(DefaultConfig()))
	m.Init(rand.New(rand.NewSource(3)))
	require.True(t, m.Initialized())
	assert.Zero(t, m.b1)
	assert.Zero(t, m.b2)

	r, c := m.w1.Dims()
	assert.Equal(t, 384, r)
	assert.Equal(t, 128, c)
	limit1 := math.Sqrt(2.0 / 384)
	for i := 0; i < r; i++ {
		for _, v := range m.w1.RawRowView(i) {
			require.True(t, v >= 0 && v < limit1, "w1 entry %v outside [0, %v)", v, limit1)
		}
	}
	r, c = m.w2.Dims()
	assert.Equal(t, 128, r)
	assert.Equal(t, 10, c)
	limit2 := math.Sqrt(2.0 / 128)
	for i := 0; i < r; i++ {
		for _, v := range m.w2.RawRowView(i) {
			require.True(t, v >= 0 && v < limit2, "w2 entry %v outside [0, %v)", v, limit2)
		}
	}

	// First draw lands in w1[0][0].
	first := rand.New(rand.NewSource(3)).Float64()
	assert.Equal(t, limit1*first, m.w1.At(0, 0))
}

func TestPredictAfterInitIsADistribution(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for _, act := range []string{"relu", "logistic"} {
		cfg := DefaultConfig()
		cfg.Activation = act
		m := must.M1(New(cfg))
		m.Init(rng)
		corpus := randomCorpus(rng, 20, cfg.InputSize, cfg.OutputSize)
		for _, x := range corpus.Images {
			pred, err := m.Predict(x)
			require.NoError(t, err)
			require.Len(t, pred.Probabilities, cfg.OutputSize)
			sum := 0.0
			for _, p := range pred.Probabilities {
				require.False(t, math.IsNaN(p) || math.IsInf(p, 0))
				require.True(t, p > 0 && p < 1, "probability %v outside (0,1)", p)
				sum += p
			}
			assert.InDelta(t, 1.0, sum, 1e-9)
			for k, p := range pred.Probabilities {
				assert.LessOrEqual(t, p, pred.Probabilities[pred.Class], "class %d", k)
			}
		}
	}
}

func TestPredictLeavesParametersAlone(t *testing.T) {
	m := newSmall(t, "relu")
	before := takeSnapshot(m)
	_, err := m.Predict([]float64{0.3, 0.9})
	require.NoError(t, err)
	assert.True(t, before.equal(m))
	assert.Equal(t, 0, m.CompletedEpochs())

	_, err = m.Predict([]float64{0.3})
	require.ErrorIs(t, err, ErrDimensionMismatch)

	fresh := must.M1(New(DefaultConfig()))
	_, err = fresh.Predict(make([]float64, 384))
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestTrainOneImageMatchesFiniteDifferences(t *testing.T) {
	for _, act := range []string{"relu", "logistic"} {
		t.Run(act, func(t *testing.T) {
			m := newSmall(t, act)
			x := []float64{1, 0}
			y := []float64{1, 0}
			lr := m.cfg.LearningRate

			lossAt := func() float64 {
				require.NoError(t, m.forward(x))
				p := m.outputLayer.RawVector().Data
				return y[0]*math.Log(p[0]) + y[1]*math.Log(p[1])
			}
			settings := &fd.Settings{Formula: fd.Central, Step: 1e-6}
			partial := func(param *float64) float64 {
				orig := *param
				defer func() { *param = orig }()
				return fd.Derivative(func(v float64) float64 {
					*param = v
					return lossAt()
				}, orig, settings)
			}

			wantLoss := lossAt()
			gradW1 := mat.NewDense(2, 3, nil)
			for i := 0; i < 2; i++ {
				for j := 0; j < 3; j++ {
					gradW1.Set(i, j, partial(&m.w1.RawRowView(i)[j]))
				}
			}
			gradW2 := mat.NewDense(3, 2, nil)
			for j := 0; j < 3; j++ {
				for k := 0; k < 2; k++ {
					gradW2.Set(j, k, partial(&m.w2.RawRowView(j)[k]))
				}
			}
			gradB1 := partial(&m.b1)
			gradB2 := partial(&m.b2)
			before := takeSnapshot(m)

			loss, err := m.TrainOneImage(x, y)
			require.NoError(t, err)
			require.False(t, math.IsNaN(loss) || math.IsInf(loss, 0))
			assert.InDelta(t, wantLoss, loss, 1e-12)

			for i := 0; i < 2; i++ {
				for j := 0; j < 3; j++ {
					step := m.w1.At(i, j) - before.w1.At(i, j)
					assert.InDelta(t, lr*gradW1.At(i, j), step, 1e-6, "w1[%d][%d]", i, j)
				}
			}
			for j := 0; j < 3; j++ {
				for k := 0; k < 2; k++ {
					step := m.w2.At(j, k) - before.w2.At(j, k)
					assert.InDelta(t, lr*gradW2.At(j, k), step, 1e-6, "w2[%d][%d]", j, k)
				}
			}
			assert.InDelta(t, lr*gradB1, m.b1-before.b1, 1e-6)
			assert.InDelta(t, lr*gradB2, m.b2-before.b2, 1e-6)
			assert.False(t, before.equal(m), "parameters did not move")
		})
	}
}

func TestTrainOneImageOverflowKeepsParameters(t *testing.T) {
	m := newSmall(t, "relu")
	for j := 0; j < 3; j++ {
		row := m.w2.RawRowView(j)
		row[0] = 1e6
	}
	before := takeSnapshot(m)
	_, err := m.TrainOneImage([]float64{1, 1}, []float64{1, 0})
	require.ErrorIs(t, err, ErrNumerical)
	assert.True(t, before.equal(m))
}

func TestTrainOneImageUnderflow(t *testing.T) {
	m := newSmall(t, "relu")
	for j := 0; j < 3; j++ {
		m.w2.RawRowView(j)[1] = -1e6
	}
	x := []float64{1, 1}
	p, err := m.Predict(x)
	require.NoError(t, err)
	require.Equal(t, []float64{1, 0}, p.Probabilities)

	before := takeSnapshot(m)
	loss, err := m.TrainOneImage(x, []float64{1, 0})
	require.NoError(t, err)
	assert.False(t, math.IsNaN(loss) || math.IsInf(loss, 0), "loss %v", loss)
	assert.Equal(t, 0.0, loss)
	// p equals y exactly, so every gradient is zero.
	assert.True(t, before.equal(m))

	_, err = m.TrainOneImage(x, []float64{0, 1})
	require.ErrorIs(t, err, ErrNumerical)
	assert.True(t, before.equal(m))
}

func TestTrainOneEpochDimensionMismatchIsAtomic(t *testing.T) {
	m := newSmall(t, "relu")
	corpus := Corpus{
		Images: [][]float64{{1, 0}, {0, 1}, {0.5, 0.5, 0.5}},
		Labels: [][]float64{{1, 0}, {0, 1}, {1, 0}},
	}
	before := takeSnapshot(m)
	_, err := m.TrainOneEpoch(corpus)
	require.ErrorIs(t, err, ErrDimensionMismatch)
	assert.True(t, before.equal(m))
	assert.Equal(t, 0, m.CompletedEpochs())

	corpus.Images[2] = []float64{0.5, 0.5}
	corpus.Labels[1] = []float64{0, 1, 0}
	_, err = m.TrainOneEpoch(corpus)
	require.ErrorIs(t, err, ErrDimensionMismatch)
	assert.True(t, before.equal(m))

	_, err = m.TrainOneEpoch(Corpus{Images: [][]float64{{1, 0}}})
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestTrainOneEpochRequiresInit(t *testing.T) {
	m := must.M1(New(Config{InputSize: 2, HiddenSize: 3, OutputSize: 2, LearningRate: 0.1, Activation: "relu", Epochs: 1}))
	_, err := m.TrainOneEpoch(Corpus{Images: [][]float64{{1, 0}}, Labels: [][]float64{{1, 0}}})
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestEpochCounter(t *testing.T) {
	corpus := randomCorpus(rand.New(rand.NewSource(5)), 8, 2, 2)
	m := must.M1(New(Config{InputSize: 2, HiddenSize: 3, OutputSize: 2, LearningRate: 0.05, Activation: "relu", Epochs: 3, Seed: 9}))

	results, err := m.Train(corpus)
	require.NoError(t, err)
	require.True(t, m.Initialized())
	assert.Equal(t, 3, m.CompletedEpochs())
	require.Len(t, results, 3)
	for i, res := range results {
		assert.Equal(t, i+1, res.Epoch)
		assert.Equal(t, 8, res.Samples)
		assert.LessOrEqual(t, res.MeanLoss, 0.0)
	}

	// Already at target: nothing to do.
	results, err = m.Train(corpus)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 3, m.CompletedEpochs())

	for n := 1; n <= 2; n++ {
		_, err := m.TrainOneEpoch(corpus)
		require.NoError(t, err)
		assert.Equal(t, 3+n, m.CompletedEpochs())
	}

	require.ErrorIs(t, m.SetTargetEpochs(4), ErrConfiguration)
	require.NoError(t, m.SetTargetEpochs(7))
	_, err = m.Train(corpus)
	require.NoError(t, err)
	assert.Equal(t, 7, m.CompletedEpochs())
}

func TestTrainIsDeterministic(t *testing.T) {
	cfg := Config{InputSize: 12, HiddenSize: 6, OutputSize: 3, LearningRate: 0.03, Activation: "relu", Epochs: 4, Seed: 42}
	corpus := randomCorpus(rand.New(rand.NewSource(1)), 30, cfg.InputSize, cfg.OutputSize)

	a := must.M1(New(cfg))
	b := must.M1(New(cfg))
	_, err := a.Train(corpus)
	require.NoError(t, err)
	_, err = b.Train(corpus)
	require.NoError(t, err)

	assert.True(t, takeSnapshot(a).equal(b))

	cfg.Seed = 43
	c := must.M1(New(cfg))
	_, err = c.Train(corpus)
	require.NoError(t, err)
	assert.False(t, takeSnapshot(a).equal(c))
}

func TestTrainingLearnsSeparableCorpus(t *testing.T) {
	corpus := Corpus{
		Images: [][]float64{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}},
		Labels: [][]float64{{1, 0}, {1, 0}, {0, 1}, {0, 1}},
	}
	m := must.M1(New(Config{InputSize: 4, HiddenSize: 8, OutputSize: 2, LearningRate: 0.1, Activation: "logistic", Epochs: 500, Seed: 2}))
	results, err := m.Train(corpus)
	require.NoError(t, err)
	assert.Greater(t, results[len(results)-1].MeanLoss, results[0].MeanLoss)
	assert.Equal(t, 4, results[len(results)-1].Correct)
	for i, x := range corpus.Images {
		pred, err := m.Predict(x)
		require.NoError(t, err)
		assert.Equal(t, 1-int(corpus.Labels[i][0]), pred.Class)
	}
}
