// Package tensor provides the flat float32 tensor used across the
// sampling, decoding, and scoring stages.
package tensor

import (
	"fmt"
	"math"
	"math/rand"

	"vouch/internal/services"
)

// Tensor is a dense float32 tensor with row-major layout.
type Tensor struct {
	Data  []float32
	Shape []int
}

// New allocates a zero-filled tensor with the given shape.
func New(shape ...int) *Tensor {
	return &Tensor{Data: make([]float32, Numel(shape)), Shape: cloneShape(shape)}
}

// From wraps existing data in a tensor. The data length must match the shape.
func From(data []float32, shape ...int) (*Tensor, error) {
	if len(data) != Numel(shape) {
		return nil, fmt.Errorf("tensor: data length %d does not match shape %v", len(data), shape)
	}
	return &Tensor{Data: data, Shape: cloneShape(shape)}, nil
}

// Numel returns the element count implied by a shape. An empty shape is 0.
func Numel(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, dim := range shape {
		if dim <= 0 {
			return 0
		}
		n *= dim
	}
	return n
}

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return &Tensor{Data: data, Shape: cloneShape(t.Shape)}
}

// Scale multiplies every element in place and returns the tensor.
func (t *Tensor) Scale(factor float32) *Tensor {
	for i := range t.Data {
		t.Data[i] *= factor
	}
	return t
}

// Add accumulates other into t element-wise.
func (t *Tensor) Add(other *Tensor) error {
	if len(t.Data) != len(other.Data) {
		return fmt.Errorf("tensor: add length mismatch %d vs %d", len(t.Data), len(other.Data))
	}
	for i := range t.Data {
		t.Data[i] += other.Data[i]
	}
	return nil
}

// Clamp limits every element to [lo, hi] in place.
func (t *Tensor) Clamp(lo, hi float32) *Tensor {
	for i, v := range t.Data {
		if v < lo {
			t.Data[i] = lo
		} else if v > hi {
			t.Data[i] = hi
		}
	}
	return t
}

// CheckFinite returns a numeric instability error naming the first
// non-finite element, or nil when all elements are finite.
func CheckFinite(t *Tensor, where string) error {
	for i, v := range t.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return services.Wrap(services.ErrNumericInstability, "tensor", where,
				fmt.Sprintf("non-finite value %v at element %d", v, i), nil)
		}
	}
	return nil
}

// Noise fills a new tensor of the given shape with standard gaussian
// samples using the Box-Muller transform over the supplied source.
func Noise(rng *rand.Rand, shape ...int) *Tensor {
	t := New(shape...)
	n := len(t.Data)
	for i := 0; i < n; i += 2 {
		u1 := rng.Float64()
		for u1 <= 1e-12 {
			u1 = rng.Float64()
		}
		u2 := rng.Float64()
		radius := math.Sqrt(-2 * math.Log(u1))
		t.Data[i] = float32(radius * math.Cos(2*math.Pi*u2))
		if i+1 < n {
			t.Data[i+1] = float32(radius * math.Sin(2*math.Pi*u2))
		}
	}
	return t
}

func cloneShape(shape []int) []int {
	out := make([]int, len(shape))
	copy(out, shape)
	return out
}
