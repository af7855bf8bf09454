package utils

import (
	"context"
	"testing"

	"go.viam.com/test"
)

func TestYielderTick(t *testing.T) {
	y := NewYielder(4)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		test.That(t, y.Tick(ctx), test.ShouldBeNil)
	}
}

func TestYielderCancellation(t *testing.T) {
	y := NewYielder(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	test.That(t, y.Tick(ctx), test.ShouldNotBeNil)
	test.That(t, y.Yield(ctx), test.ShouldNotBeNil)
}

func TestYielderDefaultStride(t *testing.T) {
	y := NewYielder(0)
	test.That(t, y.stride, test.ShouldEqual, DefaultYieldStride)
}
