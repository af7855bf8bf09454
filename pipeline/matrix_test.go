package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gorgonia.org/tensor"

	"github.com/snapclass/snapclass/dataset"
	"github.com/snapclass/snapclass/extractor"
	"github.com/snapclass/snapclass/ml"
	"github.com/snapclass/snapclass/utils"
)

// emptyEmbedder is a backend that reports zero-length embeddings.
type emptyEmbedder struct{}

func (emptyEmbedder) Ready() bool { return true }

func (emptyEmbedder) Metadata(context.Context) (extractor.Metadata, error) {
	return extractor.Metadata{
		ModelName: "empty",
		ModelType: "embedder",
		Inputs: []extractor.TensorInfo{
			{Name: "image", DataType: "float32", Shape: []int{1, 8, 8, 3}},
		},
		Outputs: []extractor.TensorInfo{
			{Name: "embedding", DataType: "float32", Shape: []int{1, 0}},
		},
	}, nil
}

func (emptyEmbedder) Infer(context.Context, ml.Tensors) (ml.Tensors, error) {
	out := tensor.New(tensor.WithShape(1, 0), tensor.WithBacking([]float32{}))
	return ml.Tensors{"embedding": out}, nil
}

func (emptyEmbedder) Close(context.Context) error { return nil }

func TestBuildTrainingMatrixRejectsEmptyFeatureVector(t *testing.T) {
	logger := golog.NewTestLogger(t)
	adapter := extractor.NewAdapter(emptyEmbedder{}, false)

	var buf bytes.Buffer
	test.That(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))), test.ShouldBeNil)
	examples := []dataset.Example{{Image: buf.Bytes(), Label: "cats"}}

	_, err := buildTrainingMatrix(context.Background(), examples, adapter, utils.NewYielder(0), logger)
	test.That(t, errors.Is(err, ErrFeatureDimensionMismatch), test.ShouldBeTrue)
}
