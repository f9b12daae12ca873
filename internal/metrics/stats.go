package metrics

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// Window accumulates timing stats across multiple steps.
type Window struct {
	samples    int
	data       time.Duration
	compute    time.Duration
	steps      int
	queueDepth int
	lastLoss   float64
}

// Record adds a new measurement to the window. queueDepth is the number of
// batches that were buffered when the step began.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss float64, queueDepth int) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.queueDepth += queueDepth
	w.lastLoss = loss
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{}
	total := w.data + w.compute
	if total > 0 {
		snap.ImagesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
		snap.AvgQueueDepth = float64(w.queueDepth) / float64(w.steps)
	}
	snap.LastLoss = w.lastLoss

	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	ImagesPerSec  float64
	AvgDataMS     float64
	AvgComputeMS  float64
	AvgQueueDepth float64
	LastLoss      float64
}

// Accuracy tracks categorical accuracy over an evaluation pass.
type Accuracy struct {
	perBatch []float64
	correct  int
	total    int
}

// Add records one batch with correct hits out of size rows and returns the
// batch accuracy.
func (a *Accuracy) Add(correct, size int) float64 {
	if size <= 0 {
		return 0
	}
	acc := float64(correct) / float64(size)
	a.perBatch = append(a.perBatch, acc)
	a.correct += correct
	a.total += size
	return acc
}

// Mean is the accuracy over every recorded row.
func (a *Accuracy) Mean() float64 {
	if a.total == 0 {
		return 0
	}
	return float64(a.correct) / float64(a.total)
}

// BatchSpread returns the mean and standard deviation of per-batch accuracy.
func (a *Accuracy) BatchSpread() (mean, std float64) {
	switch len(a.perBatch) {
	case 0:
		return 0, 0
	case 1:
		return a.perBatch[0], 0
	}
	return stat.MeanStdDev(a.perBatch, nil)
}

// Batches is the number of recorded batches.
func (a *Accuracy) Batches() int { return len(a.perBatch) }

// Reset clears the tracker.
func (a *Accuracy) Reset() { *a = Accuracy{} }
