// Package fake provides a deterministic in-process embedding backend used by
// tests and demos. The "embedding" is a grid of per-cell RGB means, so equal
// images always produce equal vectors and similarly colored images land near
// each other.
package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/snapclass/snapclass/extractor"
	"github.com/snapclass/snapclass/ml"
)

const (
	inputSize = 32
	gridCells = 4
	baseDim   = gridCells * gridCells * 3
)

// Config configures the fake backend.
type Config struct {
	// OutputDim pads or truncates the grid statistics to this length.
	// Defaults to the natural grid size (48).
	OutputDim int `json:"output_dim"`
}

// Backend is a deterministic extractor.Service.
type Backend struct {
	mu     sync.Mutex
	ready  bool
	outDim int
}

// New returns a ready fake backend.
func New(cfg Config) *Backend {
	dim := cfg.OutputDim
	if dim <= 0 {
		dim = baseDim
	}
	return &Backend{ready: true, outDim: dim}
}

// SetReady toggles readiness, for exercising not-ready failure paths.
func (b *Backend) SetReady(ready bool) {
	b.mu.Lock()
	b.ready = ready
	b.mu.Unlock()
}

// SetOutputDim changes the emitted vector length mid-session, for exercising
// dimension-mismatch failure paths.
func (b *Backend) SetOutputDim(dim int) {
	b.mu.Lock()
	b.outDim = dim
	b.mu.Unlock()
}

// Ready implements extractor.Service.
func (b *Backend) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// Metadata implements extractor.Service.
func (b *Backend) Metadata(ctx context.Context) (extractor.Metadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return extractor.Metadata{
		ModelName: "fake_grid_embedder",
		ModelType: "embedder",
		Inputs: []extractor.TensorInfo{
			{Name: "image", DataType: "float32", Shape: []int{1, inputSize, inputSize, 3}},
		},
		Outputs: []extractor.TensorInfo{
			{Name: "embedding", DataType: "float32", Shape: []int{1, b.outDim}},
		},
	}, nil
}

// Infer implements extractor.Service: per-cell RGB means over a fixed grid.
func (b *Backend) Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error) {
	b.mu.Lock()
	ready, outDim := b.ready, b.outDim
	b.mu.Unlock()
	if !ready {
		return nil, extractor.ErrNotReady
	}
	in, ok := tensors["image"]
	if !ok {
		return nil, errors.New("fake backend expects an input tensor named image")
	}
	buf, err := ml.ToFloat32Slice(in.Data())
	if err != nil {
		return nil, err
	}
	if len(buf) != inputSize*inputSize*3 {
		return nil, errors.Errorf("fake backend expects a %dx%dx3 image buffer, got %d values",
			inputSize, inputSize, len(buf))
	}

	cell := inputSize / gridCells
	sums := make([]float32, baseDim)
	counts := make([]float32, baseDim)
	for y := 0; y < inputSize; y++ {
		for x := 0; x < inputSize; x++ {
			cellIdx := (y/cell)*gridCells + x/cell
			for ch := 0; ch < 3; ch++ {
				i := cellIdx*3 + ch
				sums[i] += buf[(y*inputSize+x)*3+ch]
				counts[i]++
			}
		}
	}
	vec := make([]float32, outDim)
	for i := 0; i < outDim && i < baseDim; i++ {
		vec[i] = sums[i] / counts[i]
	}

	out := tensor.New(tensor.WithShape(1, outDim), tensor.WithBacking(vec))
	return ml.Tensors{"embedding": out}, nil
}

// Close implements extractor.Service.
func (b *Backend) Close(ctx context.Context) error {
	b.SetReady(false)
	return nil
}
