// Package extractor defines the boundary around the frozen pretrained
// embedding model: a backend service that maps image tensors to a
// fixed-length feature vector, and the adapter the pipeline uses to run one
// decoded image through it.
package extractor

import (
	"context"
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"github.com/viant/vec/search"
	"gorgonia.org/tensor"

	"github.com/snapclass/snapclass/ml"
)

// ErrNotReady is returned when extraction is attempted before the underlying
// model finished loading.
var ErrNotReady = errors.New("embedding backend is not ready")

// TensorInfo describes one input or output tensor of a backend.
type TensorInfo struct {
	Name     string
	DataType string // "uint8" or "float32"
	Shape    []int
}

// Metadata describes a loaded embedding backend.
type Metadata struct {
	ModelName string
	ModelType string
	Inputs    []TensorInfo
	Outputs   []TensorInfo
}

// Service is an embedding backend: it takes a map of named input tensors,
// passes them through the frozen model, and returns named output tensors.
// Backends are stateless per call and reusable across training and
// prediction, but this pipeline never invokes one concurrently.
type Service interface {
	Ready() bool
	Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error)
	Metadata(ctx context.Context) (Metadata, error)
	Close(ctx context.Context) error
}

// Adapter converts one decoded image into one feature vector through a
// Service. Extraction is deterministic for a given backend and image and
// leaves no per-call state behind.
type Adapter struct {
	svc       Service
	normalize bool
	md        *Metadata
}

// NewAdapter wraps a backend. When normalize is set, extracted vectors are
// L2-normalized before being returned.
func NewAdapter(svc Service, normalize bool) *Adapter {
	return &Adapter{svc: svc, normalize: normalize}
}

// Ready reports whether the underlying backend finished loading.
func (a *Adapter) Ready() bool {
	return a.svc.Ready()
}

// Close releases the underlying backend.
func (a *Adapter) Close(ctx context.Context) error {
	return a.svc.Close(ctx)
}

// Extract runs one decoded image through the backend and returns its feature
// vector. The returned slice is owned by the caller; every intermediate
// tensor is released before Extract returns.
func (a *Adapter) Extract(ctx context.Context, img image.Image) ([]float32, error) {
	if !a.svc.Ready() {
		return nil, ErrNotReady
	}
	md, err := a.metadata(ctx)
	if err != nil {
		return nil, err
	}
	if len(md.Inputs) == 0 {
		return nil, errors.New("backend metadata has no input tensors")
	}
	in := md.Inputs[0]
	height, width, channelsFirst, err := inputLayout(in.Shape)
	if err != nil {
		return nil, err
	}
	shape := tensor.WithShape(1, height, width, 3)
	if channelsFirst {
		shape = tensor.WithShape(1, 3, height, width)
	}

	resized := resize.Resize(uint(width), uint(height), img, resize.Bilinear)
	var inTensor *tensor.Dense
	switch in.DataType {
	case "uint8":
		buf := ImageToUInt8Buffer(resized)
		if channelsFirst {
			buf = toPlanar(buf, height*width)
		}
		inTensor = tensor.New(shape, tensor.WithBacking(buf))
	case "float32":
		buf := ImageToFloatBuffer(resized)
		if channelsFirst {
			buf = toPlanar(buf, height*width)
		}
		inTensor = tensor.New(shape, tensor.WithBacking(buf))
	default:
		return nil, errors.Errorf("unsupported backend input type %q, want uint8 or float32", in.DataType)
	}

	out, err := a.svc.Infer(ctx, ml.Tensors{"image": inTensor})
	if err != nil {
		return nil, errors.Wrap(err, "embedding inference failed")
	}
	outTensor, err := pickEmbeddingTensor(out, md)
	if err != nil {
		return nil, err
	}
	raw, err := ml.ToFloat32Slice(outTensor.Data())
	if err != nil {
		return nil, err
	}
	// copy out of the tensor backing so the backend may reuse its buffers
	vec := make([]float32, len(raw))
	copy(vec, raw)
	if a.normalize {
		l2Normalize(vec)
	}
	return vec, nil
}

func (a *Adapter) metadata(ctx context.Context) (Metadata, error) {
	if a.md != nil {
		return *a.md, nil
	}
	md, err := a.svc.Metadata(ctx)
	if err != nil {
		return Metadata{}, errors.Wrap(err, "could not read backend metadata")
	}
	a.md = &md
	return md, nil
}

// inputLayout pulls H and W out of an input shape and reports whether the
// layout is channels first (NCHW).
func inputLayout(shape []int) (height, width int, channelsFirst bool, err error) {
	switch {
	case len(shape) == 4 && shape[1] == 3:
		return shape[2], shape[3], true, nil // NCHW
	case len(shape) == 4:
		return shape[1], shape[2], false, nil // NHWC
	case len(shape) == 3:
		return shape[0], shape[1], false, nil
	default:
		return 0, 0, false, errors.Errorf("cannot derive input height/width from shape %v", shape)
	}
}

// toPlanar reorders an interleaved RGB buffer into three contiguous channel
// planes for channels-first models.
func toPlanar[T uint8 | float32](buf []T, pixels int) []T {
	out := make([]T, len(buf))
	for p := 0; p < pixels; p++ {
		for ch := 0; ch < 3; ch++ {
			out[ch*pixels+p] = buf[p*3+ch]
		}
	}
	return out
}

// pickEmbeddingTensor selects the backend output holding the feature vector:
// the tensor named in metadata, a conventional name, or the sole output.
func pickEmbeddingTensor(out ml.Tensors, md Metadata) (*tensor.Dense, error) {
	if len(md.Outputs) > 0 {
		if t, ok := out[md.Outputs[0].Name]; ok {
			return t, nil
		}
	}
	for _, name := range []string{"embedding", "feature", "probability"} {
		if t, ok := out[name]; ok {
			return t, nil
		}
	}
	if len(out) == 1 {
		for _, t := range out {
			return t, nil
		}
	}
	return nil, errors.Errorf("could not identify the embedding among %d output tensors", len(out))
}

func l2Normalize(vec []float32) {
	mag := search.Float32s(vec).Magnitude()
	if mag == 0 {
		return
	}
	for i := range vec {
		vec[i] /= mag
	}
}
