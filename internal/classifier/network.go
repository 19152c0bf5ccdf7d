// Package classifier trains and evaluates the per-identity binary
// classifier that scores generated images.
package classifier

import (
	"fmt"
	"math"
	"math/rand"
)

// hiddenSizes are the two fully connected hidden layers.
var hiddenSizes = []int{256, 64}

// Network is a small MLP with ReLU hidden layers and a sigmoid output
// producing the probability that an input belongs to the target identity.
// Weights are stored flattened row-major, one slice per layer.
type Network struct {
	Sizes   []int       `json:"sizes"`
	Weights [][]float32 `json:"weights"`
	Biases  [][]float32 `json:"biases"`
}

// NewNetwork builds a network for the given input dimension with
// He-initialized weights drawn from the seeded source.
func NewNetwork(inputDim int, seed int64) *Network {
	sizes := append([]int{inputDim}, hiddenSizes...)
	sizes = append(sizes, 1)

	rng := rand.New(rand.NewSource(seed))
	n := &Network{
		Sizes:   sizes,
		Weights: make([][]float32, len(sizes)-1),
		Biases:  make([][]float32, len(sizes)-1),
	}
	for l := 0; l < len(sizes)-1; l++ {
		in, out := sizes[l], sizes[l+1]
		scale := float32(math.Sqrt(2 / float64(in)))
		weights := make([]float32, out*in)
		for i := range weights {
			weights[i] = float32(rng.NormFloat64()) * scale
		}
		n.Weights[l] = weights
		n.Biases[l] = make([]float32, out)
	}
	return n
}

// InputDim returns the expected feature vector length.
func (n *Network) InputDim() int { return n.Sizes[0] }

// Predict runs a forward pass and returns the output probability.
func (n *Network) Predict(features []float32) (float32, error) {
	if len(features) != n.InputDim() {
		return 0, fmt.Errorf("classifier: feature length %d, want %d", len(features), n.InputDim())
	}
	activations, _ := n.forward(features)
	return activations[len(activations)-1][0], nil
}

// forward returns post-activation values and pre-activation values for
// every layer, with the input as the first activation entry.
func (n *Network) forward(features []float32) (activations, preActivations [][]float32) {
	activations = make([][]float32, len(n.Sizes))
	preActivations = make([][]float32, len(n.Sizes))
	activations[0] = features

	for l := 0; l < len(n.Weights); l++ {
		in, out := n.Sizes[l], n.Sizes[l+1]
		z := make([]float32, out)
		prev := activations[l]
		for o := 0; o < out; o++ {
			sum := n.Biases[l][o]
			row := n.Weights[l][o*in : (o+1)*in]
			for i, w := range row {
				sum += w * prev[i]
			}
			z[o] = sum
		}
		preActivations[l+1] = z

		a := make([]float32, out)
		if l == len(n.Weights)-1 {
			for o, v := range z {
				a[o] = sigmoid(v)
			}
		} else {
			for o, v := range z {
				if v > 0 {
					a[o] = v
				}
			}
		}
		activations[l+1] = a
	}
	return activations, preActivations
}

// gradients holds per-layer weight and bias gradients, matching the
// network's layout.
type gradients struct {
	weights [][]float32
	biases  [][]float32
}

func newGradients(n *Network) *gradients {
	g := &gradients{
		weights: make([][]float32, len(n.Weights)),
		biases:  make([][]float32, len(n.Biases)),
	}
	for l := range n.Weights {
		g.weights[l] = make([]float32, len(n.Weights[l]))
		g.biases[l] = make([]float32, len(n.Biases[l]))
	}
	return g
}

func (g *gradients) zero() {
	for l := range g.weights {
		clear(g.weights[l])
		clear(g.biases[l])
	}
}

func (g *gradients) scale(factor float32) {
	for l := range g.weights {
		for i := range g.weights[l] {
			g.weights[l][i] *= factor
		}
		for i := range g.biases[l] {
			g.biases[l][i] *= factor
		}
	}
}

// accumulate adds the gradient contribution of one example. With a
// sigmoid output and binary cross-entropy the output delta reduces to
// prediction minus label.
func (n *Network) accumulate(g *gradients, features []float32, label float32) float32 {
	activations, preActivations := n.forward(features)
	prediction := activations[len(activations)-1][0]

	delta := []float32{prediction - label}
	for l := len(n.Weights) - 1; l >= 0; l-- {
		in := n.Sizes[l]
		prev := activations[l]
		for o, d := range delta {
			g.biases[l][o] += d
			row := g.weights[l][o*in : (o+1)*in]
			for i := range row {
				row[i] += d * prev[i]
			}
		}
		if l == 0 {
			break
		}
		next := make([]float32, in)
		for i := 0; i < in; i++ {
			if preActivations[l][i] <= 0 {
				continue // ReLU gradient is zero here
			}
			var sum float32
			for o, d := range delta {
				sum += n.Weights[l][o*in+i] * d
			}
			next[i] = sum
		}
		delta = next
	}
	return prediction
}

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

// bceLoss is the binary cross-entropy for a single prediction, with the
// prediction clamped away from 0 and 1 to keep the logarithms finite.
func bceLoss(prediction, label float32) float64 {
	const eps = 1e-7
	p := float64(prediction)
	if p < eps {
		p = eps
	} else if p > 1-eps {
		p = 1 - eps
	}
	if label >= 0.5 {
		return -math.Log(p)
	}
	return -math.Log(1 - p)
}
