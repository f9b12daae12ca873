package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Softmax is a linear classifier with softmax cross-entropy, optionally
// weighted per class.
type Softmax struct {
	NumClasses   int       `json:"num_classes"`
	InputSize    int       `json:"input_size"`
	Weights      []float64 `json:"weights"`
	Bias         []float64 `json:"bias"`
	LR           float64   `json:"learning_rate"`
	ClassWeights []float64 `json:"class_weights,omitempty"`
}

var _ Model = (*Softmax)(nil)

// NewSoftmax constructs the model with random initialization.
func NewSoftmax(numClasses, inputSize int, lr float64, seed int64) *Softmax {
	if numClasses <= 0 {
		numClasses = 10
	}
	if inputSize <= 0 {
		inputSize = 64
	}
	if lr <= 0 {
		lr = 0.01
	}
	rng := rand.New(rand.NewSource(seed))
	weights := make([]float64, numClasses*inputSize)
	for i := range weights {
		weights[i] = (rng.Float64()*2 - 1) * 0.01
	}
	return &Softmax{
		NumClasses: numClasses,
		InputSize:  inputSize,
		Weights:    weights,
		Bias:       make([]float64, numClasses),
		LR:         lr,
	}
}

// SetClassWeights scales each class's loss term. nil restores uniform weights.
func (m *Softmax) SetClassWeights(w []float64) error {
	if w != nil && len(w) != m.NumClasses {
		return fmt.Errorf("model: %d class weights for %d classes", len(w), m.NumClasses)
	}
	m.ClassWeights = w
	return nil
}

// TrainStep executes one SGD step and returns the average loss.
func (m *Softmax) TrainStep(batch Batch) float64 {
	if batch.Size == 0 {
		return 0
	}
	totalLoss := 0.0
	for i := 0; i < batch.Size; i++ {
		input, target := m.row(batch, i)
		label := argmax32(target)
		probs := m.forward(input)

		w := 1.0
		if m.ClassWeights != nil {
			w = m.ClassWeights[label]
		}
		totalLoss += -w * math.Log(math.Max(probs[label], 1e-9))

		probs[label] -= 1
		for c := 0; c < m.NumClasses; c++ {
			grad := w * probs[c]
			m.Bias[c] -= m.LR * grad
			wStart := c * m.InputSize
			for j, x := range input {
				m.Weights[wStart+j] -= m.LR * grad * float64(x)
			}
		}
	}
	return totalLoss / float64(batch.Size)
}

// Predict returns the most likely class of every row.
func (m *Softmax) Predict(batch Batch) []int {
	out := make([]int, batch.Size)
	for i := range out {
		input, _ := m.row(batch, i)
		out[i] = floats.MaxIdx(m.forward(input))
	}
	return out
}

// Correct counts rows whose prediction matches the one-hot label.
func (m *Softmax) Correct(batch Batch) int {
	correct := 0
	for i, pred := range m.Predict(batch) {
		_, target := m.row(batch, i)
		if pred == argmax32(target) {
			correct++
		}
	}
	return correct
}

func (m *Softmax) row(batch Batch, i int) (input, target []float32) {
	return batch.Features[i*m.InputSize : (i+1)*m.InputSize],
		batch.Labels[i*m.NumClasses : (i+1)*m.NumClasses]
}

func (m *Softmax) forward(input []float32) []float64 {
	logits := make([]float64, m.NumClasses)
	for c := range logits {
		sum := m.Bias[c]
		wStart := c * m.InputSize
		for j, x := range input {
			sum += m.Weights[wStart+j] * float64(x)
		}
		logits[c] = sum
	}
	return softmax(logits)
}

func softmax(logits []float64) []float64 {
	maxLogit := floats.Max(logits)
	out := make([]float64, len(logits))
	for i, v := range logits {
		out[i] = math.Exp(v - maxLogit)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

func argmax32(v []float32) int {
	best := 0
	for i, x := range v {
		if x > v[best] {
			best = i
		}
	}
	return best
}

// MedianFrequencyWeights returns median(counts)/count per class, so rare
// classes weigh more. Classes with no samples get weight 0.
func MedianFrequencyWeights(counts []int) ([]float64, error) {
	if len(counts) == 0 {
		return nil, errors.New("model: no class counts")
	}
	sorted := make([]float64, len(counts))
	for i, c := range counts {
		sorted[i] = float64(c)
	}
	sort.Float64s(sorted)
	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = 0.5 * (sorted[n/2-1] + sorted[n/2])
	}
	weights := make([]float64, len(counts))
	for i, c := range counts {
		if c > 0 {
			weights[i] = median / float64(c)
		}
	}
	return weights, nil
}

// Save writes the model as JSON.
func (m *Softmax) Save(path string) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	return nil
}

// LoadSoftmax reads a model written by Save.
func LoadSoftmax(path string) (*Softmax, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	m := &Softmax{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if len(m.Weights) != m.NumClasses*m.InputSize || len(m.Bias) != m.NumClasses {
		return nil, fmt.Errorf("decode model: inconsistent shapes in %s", path)
	}
	return m, nil
}
