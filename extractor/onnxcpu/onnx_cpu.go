// Package onnxcpu runs an ONNX embedding model on the host CPU through ONNX
// Runtime as an implementation of the extractor service.
package onnxcpu

import (
	"context"
	fp "path/filepath"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/snapclass/snapclass/extractor"
	"github.com/snapclass/snapclass/ml"
)

// Config contains the parameters specific to an onnx_cpu backend. ONNX models
// do not always carry usable shape metadata, so the tensor shapes are part of
// the config.
type Config struct {
	ModelPath   string  `json:"model_path"`
	InputName   string  `json:"input_name"`   // default "input"
	OutputName  string  `json:"output_name"`  // default "output"
	InputShape  []int64 `json:"input_shape"`  // e.g. [1, 224, 224, 3]
	OutputShape []int64 `json:"output_shape"` // e.g. [1, 1280]
}

// Backend wraps an ONNX Runtime session with pre-allocated input and output
// tensors, reused across calls.
type Backend struct {
	mu           sync.Mutex
	conf         Config
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewBackend initializes the ONNX runtime environment and opens a session for
// the configured model.
func NewBackend(ctx context.Context, conf Config) (*Backend, error) {
	if len(conf.InputShape) == 0 || len(conf.OutputShape) == 0 {
		return nil, errors.New("onnx backend config needs input_shape and output_shape")
	}
	if conf.InputName == "" {
		conf.InputName = "input"
	}
	if conf.OutputName == "" {
		conf.OutputName = "output"
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize the ONNX environment")
	}
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(conf.InputShape...))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create the input tensor")
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(conf.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, errors.Wrap(err, "failed to create the output tensor")
	}
	session, err := ort.NewAdvancedSession(conf.ModelPath,
		[]string{conf.InputName}, []string{conf.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		outputTensor.Destroy()
		inputTensor.Destroy()
		return nil, errors.Wrapf(err, "failed to open an ONNX session for %q", conf.ModelPath)
	}
	return &Backend{
		conf:         conf,
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Ready implements extractor.Service.
func (b *Backend) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session != nil
}

// Metadata implements extractor.Service from the configured shapes.
func (b *Backend) Metadata(ctx context.Context) (extractor.Metadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return extractor.Metadata{}, extractor.ErrNotReady
	}
	return extractor.Metadata{
		ModelName: fp.Base(b.conf.ModelPath),
		ModelType: "onnx_embedder",
		Inputs: []extractor.TensorInfo{
			{Name: "image", DataType: "float32", Shape: toIntShape(b.conf.InputShape)},
		},
		Outputs: []extractor.TensorInfo{
			{Name: "embedding", DataType: "float32", Shape: toIntShape(b.conf.OutputShape)},
		},
	}, nil
}

// Infer implements extractor.Service: copies the image buffer into the
// session's input tensor, runs it, and copies the embedding back out.
func (b *Backend) Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil, extractor.ErrNotReady
	}
	in, ok := tensors["image"]
	if !ok {
		return nil, errors.New("onnx backend expects an input tensor named image")
	}
	buf, err := ml.ToFloat32Slice(in.Data())
	if err != nil {
		return nil, err
	}
	dst := b.inputTensor.GetData()
	if len(buf) != len(dst) {
		return nil, errors.Errorf("image buffer holds %d values, model input wants %d", len(buf), len(dst))
	}
	copy(dst, buf)

	if err := b.session.Run(); err != nil {
		return nil, errors.Wrap(err, "onnx inference failed")
	}

	src := b.outputTensor.GetData()
	vec := make([]float32, len(src))
	copy(vec, src)
	out := tensor.New(tensor.WithShape(1, len(vec)), tensor.WithBacking(vec))
	return ml.Tensors{"embedding": out}, nil
}

// Close implements extractor.Service, destroying the session, its tensors,
// and the runtime environment.
func (b *Backend) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil
	}
	b.inputTensor.Destroy()
	b.outputTensor.Destroy()
	b.session.Destroy()
	b.session = nil
	return ort.DestroyEnvironment()
}

func toIntShape(shape []int64) []int {
	out := make([]int, len(shape))
	for i, d := range shape {
		out[i] = int(d)
	}
	return out
}
