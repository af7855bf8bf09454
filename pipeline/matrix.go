package pipeline

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/snapclass/snapclass/dataset"
	"github.com/snapclass/snapclass/extractor"
	"github.com/snapclass/snapclass/ml"
	"github.com/snapclass/snapclass/utils"
)

// trainingMatrix is the stacked training input: features x [N,D] and one-hot
// labels y [N,C], with the label index frozen for this run. It lives only for
// the duration of one fit and is released afterwards.
type trainingMatrix struct {
	x, y   *mat.Dense
	labels *dataset.LabelIndex
	n, d   int
}

// release drops the matrices so their backing arrays can be reclaimed.
func (m *trainingMatrix) release() {
	m.x = nil
	m.y = nil
}

// buildTrainingMatrix runs every stored example through the extractor
// adapter. D is pinned on the first successful extraction and validated, not
// re-derived, on every one after it. The yielder suspends the loop at its
// stride so the host stays responsive; this loop is the dominant cost of a
// training run.
func buildTrainingMatrix(
	ctx context.Context,
	examples []dataset.Example,
	adapter *extractor.Adapter,
	yielder *utils.Yielder,
	logger golog.Logger,
) (*trainingMatrix, error) {
	n := len(examples)
	if n == 0 {
		return nil, ErrEmptyDataset
	}
	labelSet := make([]string, 0, n)
	for _, ex := range examples {
		labelSet = append(labelSet, ex.Label)
	}
	labels := dataset.BuildLabelIndex(labelSet)
	c := labels.Len()

	var xFlat, yFlat []float64
	d := 0
	for i, ex := range examples {
		img, err := extractor.DecodeImage(ex.Image)
		if err != nil {
			return nil, errors.Wrapf(err, "example %d (label %q)", i, ex.Label)
		}
		vec, err := adapter.Extract(ctx, img)
		if err != nil {
			return nil, errors.Wrapf(err, "example %d (label %q)", i, ex.Label)
		}
		if len(vec) == 0 {
			return nil, errors.Wrapf(ErrFeatureDimensionMismatch,
				"example %d yielded an empty feature vector", i)
		}
		if d == 0 {
			d = len(vec)
			xFlat = make([]float64, 0, n*d)
			yFlat = make([]float64, 0, n*c)
			logger.Debugw("pinned feature dimension for this run", "dim", d)
		} else if len(vec) != d {
			return nil, errors.Wrapf(ErrFeatureDimensionMismatch,
				"example %d yielded dimension %d, run pinned %d", i, len(vec), d)
		}
		for _, v := range vec {
			xFlat = append(xFlat, float64(v))
		}
		idx, err := labels.IndexOf(ex.Label)
		if err != nil {
			return nil, err
		}
		oneHot, err := ml.OneHot(idx, c)
		if err != nil {
			return nil, err
		}
		yFlat = append(yFlat, oneHot...)
		// the per-example vector is folded into the flat backing above and
		// not referenced again
		if err := yielder.Tick(ctx); err != nil {
			return nil, err
		}
	}

	return &trainingMatrix{
		x:      mat.NewDense(n, d, xFlat),
		y:      mat.NewDense(n, c, yFlat),
		labels: labels,
		n:      n,
		d:      d,
	}, nil
}
