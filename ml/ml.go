// Package ml provides the numeric primitives shared by the training and
// inference paths: the tensor map currency used at the extractor boundary,
// probability normalization, and one-hot encoding.
package ml

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"gorgonia.org/tensor"
)

// Tensors is the currency exchanged with an embedding backend: a map of named
// dense tensors.
type Tensors map[string]*tensor.Dense

// number interface for converting between numbers.
type number interface {
	constraints.Integer | constraints.Float
}

func convertNumberSlice[T1, T2 number](t1 []T1) []T2 {
	t2 := make([]T2, len(t1))
	for i := range t1 {
		t2[i] = T2(t1[i])
	}
	return t2
}

// ToFloat32Slice flattens the raw backing data of a tensor into a []float32,
// converting from whatever numeric type the backend produced.
func ToFloat32Slice(data interface{}) ([]float32, error) {
	switch v := data.(type) {
	case []float32:
		return v, nil
	case []float64:
		return convertNumberSlice[float64, float32](v), nil
	case []uint8:
		return convertNumberSlice[uint8, float32](v), nil
	case []int8:
		return convertNumberSlice[int8, float32](v), nil
	case []int16:
		return convertNumberSlice[int16, float32](v), nil
	case []int32:
		return convertNumberSlice[int32, float32](v), nil
	case []int64:
		return convertNumberSlice[int64, float32](v), nil
	case []int:
		return convertNumberSlice[int, float32](v), nil
	case []uint32:
		return convertNumberSlice[uint32, float32](v), nil
	default:
		return nil, errors.Errorf("dont know how to convert %T into a []float32", data)
	}
}

// Softmax applies the softmax function to the input slice.
func Softmax(in []float64) []float64 {
	out := make([]float64, 0, len(in))
	// subtract the max first so exp never overflows
	max := math.Inf(-1)
	for _, x := range in {
		if x > max {
			max = x
		}
	}
	bigSum := 0.0
	for _, x := range in {
		bigSum += math.Exp(x - max)
	}
	for _, x := range in {
		out = append(out, math.Exp(x-max)/bigSum)
	}
	return out
}

// NormalizeScores ensures that the input scores (output of a classifier)
// represent confidence values from 0-1. Logits are softmaxed, a single raw
// score is sigmoided.
func NormalizeScores(in []float64) []float64 {
	if len(in) > 1 {
		for _, p := range in {
			if p < 0 || p > 1 { // is logit, needs softmax
				return Softmax(in)
			}
		}
		return in
	}
	if len(in) == 1 && (in[0] < -1 || in[0] > 1) {
		out, err := stats.Sigmoid(in)
		if err != nil {
			return in
		}
		return out
	}
	return in
}

// OneHot returns a length-c vector with a 1 at position idx.
func OneHot(idx, c int) ([]float64, error) {
	if idx < 0 || idx >= c {
		return nil, errors.Errorf("one-hot index %d out of range for %d classes", idx, c)
	}
	out := make([]float64, c)
	out[idx] = 1
	return out, nil
}

// ArgMax returns the index of the largest value, ties broken by lowest index.
func ArgMax(in []float64) int {
	best := 0
	for i, v := range in {
		if v > in[best] {
			best = i
		}
	}
	return best
}
