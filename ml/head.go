package ml

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/snapclass/snapclass/dataset"
)

// ErrHeadClosed is returned when a forward pass is attempted after the head's
// parameters were released.
var ErrHeadClosed = errors.New("trained head has been closed")

// HeadConfig configures the classifier head and its fitting schedule. Zero
// values fall back to the defaults.
type HeadConfig struct {
	HiddenWidth  int     `json:"hidden_width"`  // default 128
	DropoutRate  float64 `json:"dropout_rate"`  // training-time only; 0 means the default 0.3, negative disables dropout
	LearningRate float64 `json:"learning_rate"` // default 0.001
	Epochs       int     `json:"epochs"`        // default 20
	BatchSize    int     `json:"batch_size"`    // default 16, clamped to N
	Seed         int64   `json:"seed"`          // 0 means seed from the clock
}

func (c HeadConfig) withDefaults() HeadConfig {
	if c.HiddenWidth <= 0 {
		c.HiddenWidth = 128
	}
	switch {
	case c.DropoutRate == 0 || c.DropoutRate >= 1:
		c.DropoutRate = 0.3
	case c.DropoutRate < 0:
		c.DropoutRate = 0
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.001
	}
	if c.Epochs <= 0 {
		c.Epochs = 20
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	return c
}

// EpochStats is reported to the epoch callback after every pass over the
// training matrix.
type EpochStats struct {
	Epoch    int
	Loss     float64
	Accuracy float64
	Duration time.Duration
}

// EpochCallback receives per-epoch progress. Returning an error aborts the
// remaining epochs; the pipeline uses this to honor yield-point failures.
type EpochCallback func(EpochStats) error

// headParams are the fitted parameters of the two dense layers.
type headParams struct {
	w1, b1 *mat.Dense
	w2, b2 *mat.Dense
}

// TrainedHead is the composite training artifact: fitted parameters, the
// label index frozen at training time, and the input dimension D the head
// expects. Exactly one of these is live per pipeline; Close releases the
// parameter matrices of a superseded or discarded head.
type TrainedHead struct {
	RunID  uuid.UUID
	labels *dataset.LabelIndex
	dim    int
	params *headParams
}

// Labels returns the label index the head was trained against.
func (h *TrainedHead) Labels() *dataset.LabelIndex {
	return h.labels
}

// InputDim returns the feature dimension D the head expects.
func (h *TrainedHead) InputDim() int {
	return h.dim
}

// Forward runs one feature vector through the fitted head and returns the
// probability distribution over the C classes, positional against Labels().
// Dropout is inactive here, so repeated calls on the same vector are
// identical.
func (h *TrainedHead) Forward(vec []float32) ([]float64, error) {
	if h.params == nil {
		return nil, ErrHeadClosed
	}
	if len(vec) != h.dim {
		return nil, errors.Errorf("feature vector has dimension %d, head expects %d", len(vec), h.dim)
	}
	x := mat.NewDense(1, h.dim, convertNumberSlice[float32, float64](vec))
	var z1 mat.Dense
	z1.Mul(x, h.params.w1)
	addRowVec(&z1, h.params.b1)
	reluInPlace(&z1)
	var z2 mat.Dense
	z2.Mul(&z1, h.params.w2)
	addRowVec(&z2, h.params.b2)
	return Softmax(z2.RawRowView(0)), nil
}

// Close releases the parameter matrices. Safe to call more than once.
func (h *TrainedHead) Close() error {
	h.params = nil
	return nil
}

// HeadTrainer fits the classifier head: D -> dense(HiddenWidth, relu) ->
// dropout -> dense(C, softmax), categorical cross-entropy loss, Adam.
type HeadTrainer struct {
	cfg   HeadConfig
	clock clock.Clock
}

// NewHeadTrainer returns a trainer with the given config, wall-clock timed.
func NewHeadTrainer(cfg HeadConfig) *HeadTrainer {
	return newHeadTrainer(cfg, clock.New())
}

func newHeadTrainer(cfg HeadConfig, clk clock.Clock) *HeadTrainer {
	return &HeadTrainer{cfg: cfg.withDefaults(), clock: clk}
}

// Train fits the head on x [N,D] against one-hot y [N,C] and bundles the
// result with the given frozen label index. The caller owns releasing x and y
// once Train returns. onEpoch may be nil.
func (t *HeadTrainer) Train(
	ctx context.Context,
	x, y *mat.Dense,
	labels *dataset.LabelIndex,
	onEpoch EpochCallback,
) (*TrainedHead, error) {
	n, d := x.Dims()
	yn, c := y.Dims()
	if n == 0 {
		return nil, errors.New("training matrix has no rows")
	}
	if yn != n {
		return nil, errors.Errorf("feature matrix has %d rows but label matrix has %d", n, yn)
	}
	if c != labels.Len() {
		return nil, errors.Errorf("label matrix has %d columns but label index holds %d classes", c, labels.Len())
	}

	seed := t.cfg.Seed
	if seed == 0 {
		seed = t.clock.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	h := t.cfg.HiddenWidth
	params := &headParams{
		w1: randomDense(rng, d, h, math.Sqrt(2/float64(d))),
		b1: mat.NewDense(1, h, nil),
		w2: randomDense(rng, h, c, math.Sqrt(2/float64(h))),
		b2: mat.NewDense(1, c, nil),
	}
	opt := newAdam(t.cfg.LearningRate, params)

	batchSize := t.cfg.BatchSize
	if batchSize > n {
		batchSize = n
	}
	keepRate := 1 - t.cfg.DropoutRate

	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := t.clock.Now()
		perm := rng.Perm(n)
		var lossSum float64
		var correct int

		for off := 0; off < n; off += batchSize {
			end := off + batchSize
			if end > n {
				end = n
			}
			rows := perm[off:end]
			xb := gatherRows(x, rows)
			yb := gatherRows(y, rows)
			b := len(rows)

			// forward
			var z1 mat.Dense
			z1.Mul(xb, params.w1)
			addRowVec(&z1, params.b1)
			relu := copyOf(&z1)
			reluInPlace(relu)
			dropped, mask := dropout(relu, keepRate, rng)
			var z2 mat.Dense
			z2.Mul(dropped, params.w2)
			addRowVec(&z2, params.b2)
			probs := softmaxRows(&z2)

			for i := 0; i < b; i++ {
				pRow := probs.RawRowView(i)
				yRow := yb.RawRowView(i)
				for j := 0; j < c; j++ {
					if yRow[j] > 0 {
						lossSum += -math.Log(pRow[j] + 1e-12)
					}
				}
				if ArgMax(pRow) == ArgMax(yRow) {
					correct++
				}
			}

			// backward
			var dz2 mat.Dense
			dz2.Sub(probs, yb)
			dz2.Scale(1/float64(b), &dz2)
			var dw2 mat.Dense
			dw2.Mul(dropped.T(), &dz2)
			db2 := colSums(&dz2)
			var da1 mat.Dense
			da1.Mul(&dz2, params.w2.T())
			da1.MulElem(&da1, mask)
			reluGradInPlace(&da1, &z1)
			var dw1 mat.Dense
			dw1.Mul(xb.T(), &da1)
			db1 := colSums(&da1)

			opt.step(params, &headParams{w1: &dw1, b1: db1, w2: &dw2, b2: db2})
		}

		if onEpoch != nil {
			stats := EpochStats{
				Epoch:    epoch,
				Loss:     lossSum / float64(n),
				Accuracy: float64(correct) / float64(n),
				Duration: t.clock.Since(start),
			}
			if err := onEpoch(stats); err != nil {
				return nil, err
			}
		}
	}

	return &TrainedHead{
		RunID:  uuid.New(),
		labels: labels,
		dim:    d,
		params: params,
	}, nil
}

func randomDense(rng *rand.Rand, r, c int, scale float64) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64() * scale
	}
	return mat.NewDense(r, c, data)
}

func copyOf(m *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.CloneFrom(m)
	return &out
}

func gatherRows(m *mat.Dense, rows []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for i, r := range rows {
		out.SetRow(i, m.RawRowView(r))
	}
	return out
}

// addRowVec adds a 1xC row vector to every row of m in place.
func addRowVec(m *mat.Dense, row *mat.Dense) {
	r, c := m.Dims()
	rv := row.RawRowView(0)
	for i := 0; i < r; i++ {
		mr := m.RawRowView(i)
		for j := 0; j < c; j++ {
			mr[j] += rv[j]
		}
	}
}

func reluInPlace(m *mat.Dense) {
	m.Apply(func(_, _ int, v float64) float64 {
		if v < 0 {
			return 0
		}
		return v
	}, m)
}

// reluGradInPlace zeroes the gradient entries where the pre-activation was
// not positive.
func reluGradInPlace(grad, preact *mat.Dense) {
	r, c := grad.Dims()
	for i := 0; i < r; i++ {
		gr := grad.RawRowView(i)
		zr := preact.RawRowView(i)
		for j := 0; j < c; j++ {
			if zr[j] <= 0 {
				gr[j] = 0
			}
		}
	}
}

// dropout applies inverted dropout, returning the masked activations and the
// scaled keep mask for the backward pass. A keep rate of 1 passes the
// activations through untouched.
func dropout(a *mat.Dense, keepRate float64, rng *rand.Rand) (*mat.Dense, *mat.Dense) {
	r, c := a.Dims()
	mask := mat.NewDense(r, c, nil)
	if keepRate >= 1 {
		for i := 0; i < r; i++ {
			mr := mask.RawRowView(i)
			for j := range mr {
				mr[j] = 1
			}
		}
		return a, mask
	}
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		ar := a.RawRowView(i)
		mr := mask.RawRowView(i)
		or := out.RawRowView(i)
		for j := 0; j < c; j++ {
			if rng.Float64() < keepRate {
				mr[j] = 1 / keepRate
				or[j] = ar[j] * mr[j]
			}
		}
	}
	return out, mask
}

func softmaxRows(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		out.SetRow(i, Softmax(m.RawRowView(i)))
	}
	return out
}

func colSums(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	sums := make([]float64, c)
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j := 0; j < c; j++ {
			sums[j] += row[j]
		}
	}
	return mat.NewDense(1, c, sums)
}

// adam is the Adam optimizer state for the four parameter matrices.
type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
	m, v                  *headParams
}

func newAdam(lr float64, params *headParams) *adam {
	zeroLike := func(p *mat.Dense) *mat.Dense {
		r, c := p.Dims()
		return mat.NewDense(r, c, nil)
	}
	return &adam{
		lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8,
		m: &headParams{w1: zeroLike(params.w1), b1: zeroLike(params.b1), w2: zeroLike(params.w2), b2: zeroLike(params.b2)},
		v: &headParams{w1: zeroLike(params.w1), b1: zeroLike(params.b1), w2: zeroLike(params.w2), b2: zeroLike(params.b2)},
	}
}

func (a *adam) step(params, grads *headParams) {
	a.t++
	a.update(params.w1, grads.w1, a.m.w1, a.v.w1)
	a.update(params.b1, grads.b1, a.m.b1, a.v.b1)
	a.update(params.w2, grads.w2, a.m.w2, a.v.w2)
	a.update(params.b2, grads.b2, a.m.b2, a.v.b2)
}

func (a *adam) update(p, g, m, v *mat.Dense) {
	rows, cols := p.Dims()
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for i := 0; i < rows; i++ {
		pr := p.RawRowView(i)
		gr := g.RawRowView(i)
		mr := m.RawRowView(i)
		vr := v.RawRowView(i)
		for j := 0; j < cols; j++ {
			mr[j] = a.beta1*mr[j] + (1-a.beta1)*gr[j]
			vr[j] = a.beta2*vr[j] + (1-a.beta2)*gr[j]*gr[j]
			mHat := mr[j] / c1
			vHat := vr[j] / c2
			pr[j] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
		}
	}
}
