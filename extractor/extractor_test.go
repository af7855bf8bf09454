package extractor_test

import (
	"context"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"gorgonia.org/tensor"

	"github.com/snapclass/snapclass/extractor"
	"github.com/snapclass/snapclass/extractor/fake"
	"github.com/snapclass/snapclass/ml"
)

func solidImage(c color.RGBA, w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestAdapterExtract(t *testing.T) {
	backend := fake.New(fake.Config{})
	adapter := extractor.NewAdapter(backend, false)
	test.That(t, adapter.Ready(), test.ShouldBeTrue)

	img := solidImage(color.RGBA{255, 0, 0, 255}, 64, 48)
	vec, err := adapter.Extract(context.Background(), img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(vec), test.ShouldEqual, 48)

	// deterministic for the same image
	again, err := adapter.Extract(context.Background(), img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again, test.ShouldResemble, vec)

	// a solid red image embeds with full first channel per grid cell
	test.That(t, vec[0], test.ShouldAlmostEqual, 1, 1e-3)
	test.That(t, vec[1], test.ShouldAlmostEqual, 0, 1e-3)
}

// captureBackend records the input tensor handed to Infer so tests can check
// its layout.
type captureBackend struct {
	inputShape []int
	captured   *tensor.Dense
}

func (b *captureBackend) Ready() bool { return true }

func (b *captureBackend) Metadata(ctx context.Context) (extractor.Metadata, error) {
	return extractor.Metadata{
		ModelName: "capture",
		ModelType: "embedder",
		Inputs: []extractor.TensorInfo{
			{Name: "image", DataType: "float32", Shape: b.inputShape},
		},
		Outputs: []extractor.TensorInfo{
			{Name: "embedding", DataType: "float32", Shape: []int{1, 4}},
		},
	}, nil
}

func (b *captureBackend) Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error) {
	b.captured = tensors["image"]
	out := tensor.New(tensor.WithShape(1, 4), tensor.WithBacking(make([]float32, 4)))
	return ml.Tensors{"embedding": out}, nil
}

func (b *captureBackend) Close(ctx context.Context) error { return nil }

func TestAdapterChannelsFirstInput(t *testing.T) {
	backend := &captureBackend{inputShape: []int{1, 3, 4, 4}}
	adapter := extractor.NewAdapter(backend, false)

	_, err := adapter.Extract(context.Background(), solidImage(color.RGBA{255, 0, 0, 255}, 8, 8))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, backend.captured, test.ShouldNotBeNil)
	test.That(t, []int(backend.captured.Shape()), test.ShouldResemble, []int{1, 3, 4, 4})

	// a pure red image must arrive as a full red plane followed by zeroed
	// green and blue planes, not interleaved pixels
	buf, err := ml.ToFloat32Slice(backend.captured.Data())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(buf), test.ShouldEqual, 48)
	for i := 0; i < 16; i++ {
		test.That(t, buf[i], test.ShouldAlmostEqual, 1, 1e-3)
	}
	for i := 16; i < 48; i++ {
		test.That(t, buf[i], test.ShouldAlmostEqual, 0, 1e-3)
	}
}

func TestAdapterChannelsLastInput(t *testing.T) {
	backend := &captureBackend{inputShape: []int{1, 4, 4, 3}}
	adapter := extractor.NewAdapter(backend, false)

	_, err := adapter.Extract(context.Background(), solidImage(color.RGBA{255, 0, 0, 255}, 8, 8))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, []int(backend.captured.Shape()), test.ShouldResemble, []int{1, 4, 4, 3})

	buf, err := ml.ToFloat32Slice(backend.captured.Data())
	test.That(t, err, test.ShouldBeNil)
	for p := 0; p < 16; p++ {
		test.That(t, buf[p*3], test.ShouldAlmostEqual, 1, 1e-3)
		test.That(t, buf[p*3+1], test.ShouldAlmostEqual, 0, 1e-3)
		test.That(t, buf[p*3+2], test.ShouldAlmostEqual, 0, 1e-3)
	}
}

func TestAdapterNotReady(t *testing.T) {
	backend := fake.New(fake.Config{})
	backend.SetReady(false)
	adapter := extractor.NewAdapter(backend, false)

	_, err := adapter.Extract(context.Background(), solidImage(color.RGBA{}, 8, 8))
	test.That(t, errors.Is(err, extractor.ErrNotReady), test.ShouldBeTrue)
}

func TestAdapterNormalize(t *testing.T) {
	backend := fake.New(fake.Config{})
	adapter := extractor.NewAdapter(backend, true)

	vec, err := adapter.Extract(context.Background(), solidImage(color.RGBA{200, 40, 90, 255}, 32, 32))
	test.That(t, err, test.ShouldBeNil)
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	test.That(t, math.Sqrt(sum), test.ShouldAlmostEqual, 1, 1e-3)
}

func TestDecodeImage(t *testing.T) {
	_, err := extractor.DecodeImage([]byte("definitely not an image"))
	test.That(t, errors.Is(err, extractor.ErrDecode), test.ShouldBeTrue)
}

func TestDecodeAttributes(t *testing.T) {
	var conf fake.Config
	err := extractor.DecodeAttributes(extractor.AttributeMap{"output_dim": 32}, &conf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.OutputDim, test.ShouldEqual, 32)
}

func TestImageBuffers(t *testing.T) {
	img := solidImage(color.RGBA{255, 0, 0, 255}, 2, 2)

	raw := extractor.ImageToUInt8Buffer(img)
	test.That(t, len(raw), test.ShouldEqual, 12)
	test.That(t, raw[0], test.ShouldEqual, uint8(255))
	test.That(t, raw[1], test.ShouldEqual, uint8(0))

	floats := extractor.ImageToFloatBuffer(img)
	test.That(t, len(floats), test.ShouldEqual, 12)
	test.That(t, floats[0], test.ShouldAlmostEqual, 1, 1e-6)
	test.That(t, floats[2], test.ShouldAlmostEqual, 0, 1e-6)
}
