package classifier

import "math"

// BoostedModel is a multiclass gradient-boosted tree ensemble with a
// softmax objective. Trees[i][k] is the i-th round's tree for class k.
type BoostedModel struct {
	Trees        [][]Tree `cbor:"1,keyasint"`
	LearningRate float64  `cbor:"2,keyasint"`
	Classes      int      `cbor:"3,keyasint"`
}

// Regularization applied to leaf values during tree growth.
const boostLambda = 1.0

// fitBoosted trains a multiclass GBDT. Per round, one regression tree per
// class is fit to the softmax gradients (p - y) with hessians p(1-p).
func fitBoosted(features [][]float64, labels []int, classes int, cfg Config) *BoostedModel {
	n := len(features)
	m := &BoostedModel{
		Trees:        make([][]Tree, 0, cfg.Iterations),
		LearningRate: cfg.LearningRate,
		Classes:      classes,
	}

	scores := make([][]float64, n)
	for i := range scores {
		scores[i] = make([]float64, classes)
	}

	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}

	params := treeParams{
		maxDepth:       depthForLeaves(cfg.Leaves),
		minLeafSamples: cfg.MinLeafSamples,
		lambda:         boostLambda,
	}

	grads := make([]float64, n)
	hess := make([]float64, n)
	probs := make([]float64, classes)

	for iter := 0; iter < cfg.Iterations; iter++ {
		round := make([]Tree, classes)
		for k := 0; k < classes; k++ {
			for i := 0; i < n; i++ {
				softmaxInto(scores[i], probs)
				y := 0.0
				if labels[i] == k {
					y = 1.0
				}
				p := probs[k]
				grads[i] = p - y
				hess[i] = p * (1 - p)
				if hess[i] < 1e-9 {
					hess[i] = 1e-9
				}
			}
			tree := buildTree(features, grads, hess, rows, params)
			round[k] = *tree
			for i := 0; i < n; i++ {
				scores[i][k] += cfg.LearningRate * tree.Score(features[i])
			}
		}
		m.Trees = append(m.Trees, round)
	}
	return m
}

// Scores returns the accumulated per-class logits for a sample.
func (m *BoostedModel) Scores(x []float64) []float64 {
	out := make([]float64, m.Classes)
	for _, round := range m.Trees {
		for k := range round {
			out[k] += m.LearningRate * round[k].Score(x)
		}
	}
	return out
}

// depthForLeaves maps a leaf budget to the depth of the complete binary
// tree holding that many leaves (31 -> 5, 63 -> 6).
func depthForLeaves(leaves int) int {
	if leaves < 2 {
		return 1
	}
	return int(math.Ceil(math.Log2(float64(leaves + 1))))
}

func softmaxInto(scores, out []float64) {
	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}
	sum := 0.0
	for i, s := range scores {
		out[i] = math.Exp(s - maxScore)
		sum += out[i]
	}
	if sum <= 0 {
		u := 1 / float64(len(out))
		for i := range out {
			out[i] = u
		}
		return
	}
	for i := range out {
		out[i] /= sum
	}
}
