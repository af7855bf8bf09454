package ml

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestSoftmax(t *testing.T) {
	out := Softmax([]float64{1, 2, 3})
	sum := 0.0
	for _, v := range out {
		sum += v
	}
	test.That(t, sum, test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, out[2], test.ShouldBeGreaterThan, out[1])
	test.That(t, out[1], test.ShouldBeGreaterThan, out[0])

	// large logits must not overflow
	out = Softmax([]float64{1000, 1001})
	test.That(t, math.IsNaN(out[0]), test.ShouldBeFalse)
	test.That(t, out[0]+out[1], test.ShouldAlmostEqual, 1, 1e-9)
}

func TestNormalizeScores(t *testing.T) {
	// already probabilities, untouched
	in := []float64{0.2, 0.8}
	test.That(t, NormalizeScores(in), test.ShouldResemble, in)

	// logits get softmaxed
	out := NormalizeScores([]float64{-2, 5})
	sum := 0.0
	for _, v := range out {
		test.That(t, v, test.ShouldBeBetweenOrEqual, 0, 1)
		sum += v
	}
	test.That(t, sum, test.ShouldAlmostEqual, 1, 1e-9)

	// single raw score gets sigmoided
	out = NormalizeScores([]float64{4})
	test.That(t, out[0], test.ShouldBeBetween, 0.5, 1)
}

func TestOneHot(t *testing.T) {
	v, err := OneHot(1, 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldResemble, []float64{0, 1, 0})

	_, err = OneHot(3, 3)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = OneHot(-1, 3)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestArgMax(t *testing.T) {
	test.That(t, ArgMax([]float64{0.1, 0.7, 0.2}), test.ShouldEqual, 1)
	// ties break toward the lowest index
	test.That(t, ArgMax([]float64{0.5, 0.5}), test.ShouldEqual, 0)
	test.That(t, ArgMax([]float64{0.3}), test.ShouldEqual, 0)
}

func TestToFloat32Slice(t *testing.T) {
	out, err := ToFloat32Slice([]uint8{0, 128, 255})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldResemble, []float32{0, 128, 255})

	out, err = ToFloat32Slice([]float64{1.5, -2})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldResemble, []float32{1.5, -2})

	_, err = ToFloat32Slice("nope")
	test.That(t, err, test.ShouldNotBeNil)
}
