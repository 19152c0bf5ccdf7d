package classifier

import "math"

// Adam hyperparameters, standard defaults.
const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8
)

// adamState carries first and second moment estimates per parameter.
type adamState struct {
	learningRate float64
	step         int
	mWeights     [][]float32
	vWeights     [][]float32
	mBiases      [][]float32
	vBiases      [][]float32
}

func newAdamState(n *Network, learningRate float64) *adamState {
	s := &adamState{
		learningRate: learningRate,
		mWeights:     make([][]float32, len(n.Weights)),
		vWeights:     make([][]float32, len(n.Weights)),
		mBiases:      make([][]float32, len(n.Biases)),
		vBiases:      make([][]float32, len(n.Biases)),
	}
	for l := range n.Weights {
		s.mWeights[l] = make([]float32, len(n.Weights[l]))
		s.vWeights[l] = make([]float32, len(n.Weights[l]))
		s.mBiases[l] = make([]float32, len(n.Biases[l]))
		s.vBiases[l] = make([]float32, len(n.Biases[l]))
	}
	return s
}

// apply performs one Adam update with bias-corrected moments.
func (s *adamState) apply(n *Network, g *gradients) {
	s.step++
	correction1 := 1 - math.Pow(adamBeta1, float64(s.step))
	correction2 := 1 - math.Pow(adamBeta2, float64(s.step))

	for l := range n.Weights {
		updateSlice(n.Weights[l], g.weights[l], s.mWeights[l], s.vWeights[l], s.learningRate, correction1, correction2)
		updateSlice(n.Biases[l], g.biases[l], s.mBiases[l], s.vBiases[l], s.learningRate, correction1, correction2)
	}
}

func updateSlice(params, grads, m, v []float32, lr, correction1, correction2 float64) {
	for i, grad := range grads {
		gf := float64(grad)
		mf := adamBeta1*float64(m[i]) + (1-adamBeta1)*gf
		vf := adamBeta2*float64(v[i]) + (1-adamBeta2)*gf*gf
		m[i] = float32(mf)
		v[i] = float32(vf)

		mHat := mf / correction1
		vHat := vf / correction2
		params[i] -= float32(lr * mHat / (math.Sqrt(vHat) + adamEpsilon))
	}
}
