package classifier

// MaxEntModel is a maximum-entropy (multinomial logistic) linear model.
// Weights[k] holds the per-feature weights for class k; the last entry of
// each row is the bias term.
type MaxEntModel struct {
	Weights [][]float64 `cbor:"1,keyasint"`
	Classes int         `cbor:"2,keyasint"`
}

// Fixed maxent training hyperparameters. Full-batch gradient descent keeps
// the fit deterministic without a seed.
const (
	maxentEpochs       = 400
	maxentLearningRate = 0.5
	maxentL2           = 1e-3
)

// fitMaxEnt trains a multinomial logistic model with L2 regularization.
func fitMaxEnt(features [][]float64, labels []int, classes int) *MaxEntModel {
	n := len(features)
	dims := len(features[0]) + 1 // trailing bias

	m := &MaxEntModel{
		Weights: make([][]float64, classes),
		Classes: classes,
	}
	for k := range m.Weights {
		m.Weights[k] = make([]float64, dims)
	}

	grad := make([][]float64, classes)
	for k := range grad {
		grad[k] = make([]float64, dims)
	}
	probs := make([]float64, classes)
	logits := make([]float64, classes)

	for epoch := 0; epoch < maxentEpochs; epoch++ {
		for k := range grad {
			for d := range grad[k] {
				grad[k][d] = 0
			}
		}

		for i := 0; i < n; i++ {
			x := features[i]
			for k := 0; k < classes; k++ {
				logits[k] = m.logit(k, x)
			}
			softmaxInto(logits, probs)

			for k := 0; k < classes; k++ {
				delta := probs[k]
				if labels[i] == k {
					delta -= 1
				}
				for d, xv := range x {
					grad[k][d] += delta * xv
				}
				grad[k][dims-1] += delta
			}
		}

		step := maxentLearningRate / float64(n)
		for k := 0; k < classes; k++ {
			for d := 0; d < dims; d++ {
				m.Weights[k][d] -= step * (grad[k][d] + maxentL2*m.Weights[k][d])
			}
		}
	}
	return m
}

func (m *MaxEntModel) logit(k int, x []float64) float64 {
	w := m.Weights[k]
	s := w[len(w)-1]
	for d, xv := range x {
		s += w[d] * xv
	}
	return s
}

// Scores returns the per-class logits for a sample.
func (m *MaxEntModel) Scores(x []float64) []float64 {
	out := make([]float64, m.Classes)
	for k := range out {
		out[k] = m.logit(k, x)
	}
	return out
}
