//go:build !no_tflite && !no_cgo

// Package tflitecpu runs a tflite embedding model on the host CPU as an
// implementation of the extractor service.
package tflitecpu

import (
	"context"
	fp "path/filepath"
	"runtime"
	"sync"

	tflite "github.com/mattn/go-tflite"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/snapclass/snapclass/extractor"
	"github.com/snapclass/snapclass/ml"
)

// Config contains the parameters specific to a tflite_cpu backend.
type Config struct {
	ModelPath  string `json:"model_path"`
	NumThreads int    `json:"num_threads"`
}

// Backend wraps a loaded tflite model and its interpreter.
type Backend struct {
	mu          sync.Mutex
	conf        Config
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
}

// NewBackend loads the model at the configured path and allocates an
// interpreter for it.
func NewBackend(ctx context.Context, conf Config) (*Backend, error) {
	fullPath, err := fp.Abs(conf.ModelPath)
	if err != nil {
		fullPath = conf.ModelPath
	}
	model := tflite.NewModelFromFile(fullPath)
	if model == nil {
		return nil, errors.Errorf("failed to load tflite model from %q", fullPath)
	}
	options := tflite.NewInterpreterOptions()
	if options == nil {
		model.Delete()
		return nil, errors.New("interpreter options failed to be created")
	}
	numThreads := conf.NumThreads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}
	options.SetNumThread(numThreads)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return nil, errors.New("failed to create interpreter")
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return nil, errors.New("failed to allocate tensors")
	}
	return &Backend{conf: conf, model: model, options: options, interpreter: interpreter}, nil
}

// Ready implements extractor.Service.
func (b *Backend) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interpreter != nil
}

// Metadata implements extractor.Service, describing the model's tensors from
// the interpreter.
func (b *Backend) Metadata(ctx context.Context) (extractor.Metadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.interpreter == nil {
		return extractor.Metadata{}, extractor.ErrNotReady
	}
	md := extractor.Metadata{
		ModelName: fp.Base(b.conf.ModelPath),
		ModelType: "tflite_embedder",
	}
	input := b.interpreter.GetInputTensor(0)
	md.Inputs = append(md.Inputs, extractor.TensorInfo{
		Name:     "image",
		DataType: tensorTypeName(input.Type()),
		Shape:    tensorShape(input),
	})
	for i := 0; i < b.interpreter.GetOutputTensorCount(); i++ {
		out := b.interpreter.GetOutputTensor(i)
		name := "embedding"
		if i > 0 {
			name = out.Name()
		}
		md.Outputs = append(md.Outputs, extractor.TensorInfo{
			Name:     name,
			DataType: tensorTypeName(out.Type()),
			Shape:    tensorShape(out),
		})
	}
	return md, nil
}

// Infer implements extractor.Service: one image tensor in, the model's output
// tensors out.
func (b *Backend) Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.interpreter == nil {
		return nil, extractor.ErrNotReady
	}
	in, ok := tensors["image"]
	if !ok {
		return nil, errors.New("tflite backend expects an input tensor named image")
	}
	if status := b.interpreter.GetInputTensor(0).CopyFromBuffer(in.Data()); status != tflite.OK {
		return nil, errors.New("copying image to the input buffer failed")
	}
	if status := b.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.New("tflite invoke failed")
	}

	out := ml.Tensors{}
	for i := 0; i < b.interpreter.GetOutputTensorCount(); i++ {
		outTensor := b.interpreter.GetOutputTensor(i)
		shape := tensorShape(outTensor)
		count := 1
		for _, d := range shape {
			count *= d
		}
		name := "embedding"
		if i > 0 {
			name = outTensor.Name()
		}
		switch outTensor.Type() {
		case tflite.Float32:
			buf := make([]float32, count)
			outTensor.CopyToBuffer(buf)
			out[name] = tensor.New(tensor.WithShape(shape...), tensor.WithBacking(buf))
		case tflite.UInt8:
			buf := make([]uint8, count)
			outTensor.CopyToBuffer(buf)
			out[name] = tensor.New(tensor.WithShape(shape...), tensor.WithBacking(buf))
		default:
			return nil, errors.Errorf("unsupported tflite output type %s", outTensor.Type())
		}
	}
	return out, nil
}

// Close implements extractor.Service, deleting the interpreter and model.
func (b *Backend) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.interpreter == nil {
		return nil
	}
	b.interpreter.Delete()
	b.options.Delete()
	b.model.Delete()
	b.interpreter = nil
	b.options = nil
	b.model = nil
	return nil
}

func tensorShape(t *tflite.Tensor) []int {
	shape := make([]int, t.NumDims())
	for i := range shape {
		shape[i] = t.Dim(i)
	}
	return shape
}

func tensorTypeName(t tflite.TensorType) string {
	switch t {
	case tflite.Float32:
		return "float32"
	case tflite.UInt8:
		return "uint8"
	default:
		return t.String()
	}
}
