package ensemble

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Node represents a single node of a regression tree.
// Leaf nodes have Left == Right == -1.
type Node struct {
	Feature   int     // Feature index used for splitting
	Threshold float64 // Samples with x <= Threshold go left
	Left      int     // Left child node index (-1 if leaf)
	Right     int     // Right child node index (-1 if leaf)
	Value     float64 // Leaf output, learning rate already applied
	Gain      float64 // Split gain (reduction in loss)
	Count     int     // Number of in-bag training samples reaching the node
}

// IsLeaf returns true if the node is a leaf node
func (n *Node) IsLeaf() bool {
	return n.Left < 0
}

// Tree is one boosting stage.
type Tree struct {
	Nodes []Node
}

// Predict returns the leaf output for a single sample
func (t *Tree) Predict(features []float64) float64 {
	i := 0
	for {
		node := &t.Nodes[i]
		if node.IsLeaf() {
			return node.Value
		}
		if features[node.Feature] <= node.Threshold {
			i = node.Left
		} else {
			i = node.Right
		}
	}
}

// Depth returns the depth of the deepest leaf (a single leaf has depth 0).
func (t *Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := &t.Nodes[i]
		if n.IsLeaf() {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

// treeParams are the growth limits of a single tree.
type treeParams struct {
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	regLambda       float64
	learningRate    float64
}

// nodeStats holds the gradient statistics of a frontier node.
type nodeStats struct {
	grad, hess float64
	count      int
}

// splitCandidate is the best split found for a frontier node.
type splitCandidate struct {
	feature      int
	threshold    float64
	gain         float64
	left, right  nodeStats
	found        bool
	lastValue    float64
	scanned      nodeStats
	valueStarted bool
}

const hessEpsilon = 1e-10

func leafValue(s nodeStats, lambda float64) float64 {
	return -s.grad / (s.hess + lambda + hessEpsilon)
}

func score(g, h, lambda float64) float64 {
	return g * g / (h + lambda + hessEpsilon)
}

// calculateSplitGain はXGBoost形式の分割ゲインを計算する
func calculateSplitGain(left, right, total nodeStats, lambda float64) float64 {
	return 0.5 * (score(left.grad, left.hess, lambda) +
		score(right.grad, right.hess, lambda) -
		score(total.grad, total.hess, lambda))
}

// buildTree grows one tree level by level over pre-sorted feature indices.
//
// nodeOf maps each training row to its current frontier node, or -1 when the
// row is out of bag. It is overwritten.
func buildTree(X *mat.Dense, orderedIdx [][]int, grad, hess []float64, nodeOf []int, p treeParams) Tree {
	raw := X.RawMatrix()
	at := func(i, j int) float64 { return raw.Data[i*raw.Stride+j] }

	tree := Tree{Nodes: []Node{{Left: -1, Right: -1}}}
	root := nodeStats{}
	for i, k := range nodeOf {
		if k < 0 {
			continue
		}
		root.grad += grad[i]
		root.hess += hess[i]
		root.count++
	}
	stats := []nodeStats{root}
	frontier := []int{0}

	for depth := 0; depth < p.maxDepth && len(frontier) > 0; depth++ {
		// ノード番号 → candidates のスロット（frontier 外は -1）
		slotOf := make([]int, len(tree.Nodes))
		for i := range slotOf {
			slotOf[i] = -1
		}
		cands := make([]splitCandidate, len(frontier))
		for s, node := range frontier {
			slotOf[node] = s
		}

		for j := 0; j < raw.Cols; j++ {
			for s := range cands {
				cands[s].scanned = nodeStats{}
				cands[s].valueStarted = false
			}
			for _, i := range orderedIdx[j] {
				k := nodeOf[i]
				if k < 0 || slotOf[k] < 0 {
					continue
				}
				c := &cands[slotOf[k]]
				x := at(i, j)
				if c.valueStarted && x > c.lastValue {
					c.tryBoundary(j, x, stats[k], p)
				}
				c.scanned.grad += grad[i]
				c.scanned.hess += hess[i]
				c.scanned.count++
				c.lastValue = x
				c.valueStarted = true
			}
		}

		var next []int
		for s, node := range frontier {
			c := cands[s]
			if !c.found || stats[node].count < p.minSamplesSplit {
				continue
			}
			left := len(tree.Nodes)
			right := left + 1
			tree.Nodes = append(tree.Nodes, Node{Left: -1, Right: -1}, Node{Left: -1, Right: -1})
			stats = append(stats, c.left, c.right)

			n := &tree.Nodes[node]
			n.Feature = c.feature
			n.Threshold = c.threshold
			n.Gain = c.gain
			n.Left = left
			n.Right = right
			next = append(next, left, right)
		}
		if len(next) == 0 {
			break
		}

		for i, k := range nodeOf {
			if k < 0 || k >= len(slotOf) || slotOf[k] < 0 {
				continue
			}
			n := &tree.Nodes[k]
			if n.IsLeaf() {
				continue
			}
			if at(i, n.Feature) <= n.Threshold {
				nodeOf[i] = n.Left
			} else {
				nodeOf[i] = n.Right
			}
		}
		frontier = next
	}

	for i := range tree.Nodes {
		n := &tree.Nodes[i]
		n.Count = stats[i].count
		if n.IsLeaf() {
			n.Value = p.learningRate * leafValue(stats[i], p.regLambda)
		}
	}
	return tree
}

// tryBoundary evaluates the split between the scanned prefix and the rest.
func (c *splitCandidate) tryBoundary(feature int, x float64, total nodeStats, p treeParams) {
	if total.count < p.minSamplesSplit {
		return
	}
	left := c.scanned
	right := nodeStats{
		grad:  total.grad - left.grad,
		hess:  total.hess - left.hess,
		count: total.count - left.count,
	}
	if left.count < p.minSamplesLeaf || right.count < p.minSamplesLeaf {
		return
	}
	gain := calculateSplitGain(left, right, total, p.regLambda)
	if gain <= 1e-12 || (c.found && gain <= c.gain) {
		return
	}
	c.found = true
	c.feature = feature
	c.gain = gain
	c.threshold = midpoint(c.lastValue, x)
	c.left = left
	c.right = right
}

func midpoint(a, b float64) float64 {
	m := a + (b-a)/2
	// 浮動小数点の丸めで b に一致すると右側の行が左へ落ちる
	if m >= b {
		return a
	}
	return m
}

// presort returns, per feature, row indices sorted by that feature's value.
func presort(X *mat.Dense) [][]int {
	n, p := X.Dims()
	out := make([][]int, p)
	for j := 0; j < p; j++ {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		col := make([]float64, n)
		mat.Col(col, j, X)
		sort.SliceStable(idx, func(a, b int) bool { return col[idx[a]] < col[idx[b]] })
		out[j] = idx
	}
	return out
}

// logLoss は二値分類の平均対数損失を生のスコアから計算する
func logLoss(y, raw []float64, rows []int) float64 {
	if len(rows) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, i := range rows {
		// log(1+exp(f)) - y*f を安定に計算
		f := raw[i]
		var l float64
		if f > 0 {
			l = f + math.Log1p(math.Exp(-f))
		} else {
			l = math.Log1p(math.Exp(f))
		}
		sum += l - y[i]*f
	}
	return sum / float64(len(rows))
}
