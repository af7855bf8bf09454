// Package utils contains small helpers shared across the pipeline.
package utils

import (
	"context"
	"time"

	goutils "go.viam.com/utils"
)

// DefaultYieldStride is how many units of work a loop performs between
// voluntary suspensions when no explicit stride is configured.
const DefaultYieldStride = 16

// Yielder is a cooperative yield token handed to long-running loops. The
// host runtime shares one execution thread with the presentation layer, so
// loops must park briefly at a tunable stride instead of running unboundedly.
type Yielder struct {
	stride int
	pause  time.Duration
	count  int
}

// NewYielder returns a token that suspends once per stride ticks. A
// non-positive stride falls back to DefaultYieldStride.
func NewYielder(stride int) *Yielder {
	if stride <= 0 {
		stride = DefaultYieldStride
	}
	return &Yielder{stride: stride, pause: time.Millisecond}
}

// Tick marks one unit of work done. Every stride ticks it parks the
// goroutine briefly so rendering and input handling are not starved. It
// reports context cancellation either way.
func (y *Yielder) Tick(ctx context.Context) error {
	y.count++
	if y.count%y.stride == 0 {
		if !goutils.SelectContextOrWait(ctx, y.pause) {
			return ctx.Err()
		}
		return nil
	}
	return ctx.Err()
}

// Yield suspends immediately regardless of the stride. Used at coarse
// boundaries such as the end of a training epoch.
func (y *Yielder) Yield(ctx context.Context) error {
	if !goutils.SelectContextOrWait(ctx, y.pause) {
		return ctx.Err()
	}
	return nil
}
