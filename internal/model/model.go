package model

// Corpus is a training set held as two parallel sequences: flattened
// normalized images and their one-hot labels.
type Corpus struct {
	Images [][]float64
	Labels [][]float64
}

// Len reports the number of images in the corpus.
func (c Corpus) Len() int {
	return len(c.Images)
}

// Prediction is the outcome of a forward pass.
type Prediction struct {
	Class         int
	Probabilities []float64
}

// EpochResult summarises one pass over a corpus.
type EpochResult struct {
	Epoch    int
	Samples  int
	Correct  int
	MeanLoss float64
}

// Classifier is the training and inference surface of a model. The predict
// driver classifies through it.
type Classifier interface {
	TrainOneEpoch(corpus Corpus) (EpochResult, error)
	Predict(x []float64) (Prediction, error)
}
