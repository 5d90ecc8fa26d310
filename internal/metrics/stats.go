package metrics

import "time"

// Window accumulates training statistics across one or more epochs.
type Window struct {
	samples  int
	correct  int
	lossSum  float64
	compute  time.Duration
	epochs   int
	lastLoss float64
}

// Record adds the outcome of one epoch to the window. meanLoss is the
// per-sample mean reported by the model for that epoch.
func (w *Window) Record(samples, correct int, meanLoss float64, computeTime time.Duration) {
	w.samples += samples
	w.correct += correct
	w.lossSum += meanLoss * float64(samples)
	w.compute += computeTime
	w.epochs++
	w.lastLoss = meanLoss
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Epochs: w.epochs, LastLoss: w.lastLoss}
	if w.compute > 0 {
		snap.ImagesPerSec = float64(w.samples) / w.compute.Seconds()
	}
	if w.epochs > 0 {
		snap.AvgEpochMS = (w.compute.Seconds() * 1000) / float64(w.epochs)
	}
	if w.samples > 0 {
		snap.MeanLoss = w.lossSum / float64(w.samples)
		snap.Accuracy = float64(w.correct) / float64(w.samples)
	}

	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Epochs       int
	ImagesPerSec float64
	AvgEpochMS   float64
	MeanLoss     float64
	LastLoss     float64
	Accuracy     float64
}
