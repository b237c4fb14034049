package classifier

import "sort"

// Node is one node of a regression tree. Leaf nodes carry a score
// contribution; internal nodes route on Feature <= Threshold.
type Node struct {
	Feature   int     `cbor:"1,keyasint"`
	Threshold float64 `cbor:"2,keyasint"`
	Left      int     `cbor:"3,keyasint"`
	Right     int     `cbor:"4,keyasint"`
	Value     float64 `cbor:"5,keyasint"`
	Leaf      bool    `cbor:"6,keyasint"`
}

// Tree is a serialized regression tree; Nodes[0] is the root.
type Tree struct {
	Nodes []Node `cbor:"1,keyasint"`
}

// Score routes a sample down the tree and returns the leaf value.
func (t *Tree) Score(x []float64) float64 {
	if len(t.Nodes) == 0 {
		return 0
	}
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// treeParams bound tree growth during boosting.
type treeParams struct {
	maxDepth       int
	minLeafSamples int
	lambda         float64
}

// buildTree fits a regression tree to per-sample gradients and hessians
// using Newton leaf values: value = -sum(g) / (sum(h) + lambda).
// Splits maximize the standard second-order gain.
func buildTree(features [][]float64, grads, hess []float64, rows []int, p treeParams) *Tree {
	t := &Tree{}
	t.grow(features, grads, hess, rows, 0, p)
	return t
}

// grow appends the subtree for rows and returns its node index.
func (t *Tree) grow(features [][]float64, grads, hess []float64, rows []int, depth int, p treeParams) int {
	var sumG, sumH float64
	for _, r := range rows {
		sumG += grads[r]
		sumH += hess[r]
	}

	idx := len(t.Nodes)
	if depth >= p.maxDepth || len(rows) < 2*p.minLeafSamples {
		t.Nodes = append(t.Nodes, leafNode(sumG, sumH, p.lambda))
		return idx
	}

	feat, threshold, gain := bestSplit(features, grads, hess, rows, sumG, sumH, p)
	if gain <= 0 {
		t.Nodes = append(t.Nodes, leafNode(sumG, sumH, p.lambda))
		return idx
	}

	var left, right []int
	for _, r := range rows {
		if features[r][feat] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	if len(left) < p.minLeafSamples || len(right) < p.minLeafSamples {
		t.Nodes = append(t.Nodes, leafNode(sumG, sumH, p.lambda))
		return idx
	}

	// Reserve the internal node, then grow children.
	t.Nodes = append(t.Nodes, Node{Feature: feat, Threshold: threshold})
	leftIdx := t.grow(features, grads, hess, left, depth+1, p)
	rightIdx := t.grow(features, grads, hess, right, depth+1, p)
	t.Nodes[idx].Left = leftIdx
	t.Nodes[idx].Right = rightIdx
	return idx
}

func leafNode(sumG, sumH, lambda float64) Node {
	return Node{Leaf: true, Value: -sumG / (sumH + lambda)}
}

// bestSplit scans every feature for the split maximizing
// G_L^2/(H_L+λ) + G_R^2/(H_R+λ) - G^2/(H+λ).
func bestSplit(features [][]float64, grads, hess []float64, rows []int, sumG, sumH float64, p treeParams) (int, float64, float64) {
	bestFeat, bestThreshold, bestGain := -1, 0.0, 0.0
	parentScore := sumG * sumG / (sumH + p.lambda)

	order := make([]int, len(rows))
	for f := 0; f < len(features[rows[0]]); f++ {
		copy(order, rows)
		sort.Slice(order, func(i, j int) bool {
			return features[order[i]][f] < features[order[j]][f]
		})

		var gl, hl float64
		for i := 0; i < len(order)-1; i++ {
			r := order[i]
			gl += grads[r]
			hl += hess[r]

			// No split between equal feature values.
			cur, next := features[r][f], features[order[i+1]][f]
			if cur == next {
				continue
			}
			if i+1 < p.minLeafSamples || len(order)-i-1 < p.minLeafSamples {
				continue
			}

			gr := sumG - gl
			hr := sumH - hl
			gain := gl*gl/(hl+p.lambda) + gr*gr/(hr+p.lambda) - parentScore
			if gain > bestGain {
				bestGain = gain
				bestFeat = f
				bestThreshold = (cur + next) / 2
			}
		}
	}
	return bestFeat, bestThreshold, bestGain
}
