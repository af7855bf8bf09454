package pipeline

import (
	"context"
	"image"

	"github.com/pkg/errors"

	"github.com/snapclass/snapclass/classification"
	"github.com/snapclass/snapclass/ml"
)

// Prediction is the result of one query: the arg-max label plus the full
// probability distribution over the head's frozen label index. It is
// recomputed per query and never cached.
type Prediction struct {
	// Top is the highest-probability label, ties broken by the lowest index
	// in the frozen label ordering.
	Top string
	// Probabilities maps every label the head knows to its probability.
	Probabilities map[string]float64
	// Ranked lists the classifications highest probability first.
	Ranked classification.Classifications
}

// Predict extracts a feature vector for the query image and runs it through
// the live trained head. The head's own frozen label index names the
// probabilities even if the dataset changed since it was trained.
func (p *Pipeline) Predict(ctx context.Context, img image.Image) (*Prediction, error) {
	p.mu.Lock()
	if p.busy {
		p.mu.Unlock()
		return nil, ErrOperationInProgress
	}
	head := p.head
	if head == nil {
		p.mu.Unlock()
		return nil, ErrHeadNotTrained
	}
	if img == nil {
		p.mu.Unlock()
		return nil, ErrNoTestImage
	}
	next, err := transition(p.state, eventPredictStarted)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.state = next
	p.busy = true
	p.mu.Unlock()

	pred, err := p.runPrediction(ctx, img, head)

	p.mu.Lock()
	p.busy = false
	if err != nil {
		p.state, _ = transition(p.state, eventPredictFailed)
	} else {
		p.state, _ = transition(p.state, eventPredictDone)
		// one query per cycle; return to idle right away
		p.state, _ = transition(p.state, eventPredictReset)
	}
	p.mu.Unlock()
	if err != nil {
		p.logger.Errorw("prediction failed", "error", err)
		p.progress("predict_failed", err.Error())
		return nil, err
	}
	p.progress("predicted", pred.Top)
	return pred, nil
}

func (p *Pipeline) runPrediction(ctx context.Context, img image.Image, head *ml.TrainedHead) (*Prediction, error) {
	vec, err := p.adapter.Extract(ctx, img)
	if err != nil {
		return nil, err
	}
	if len(vec) != head.InputDim() {
		return nil, errors.Wrapf(ErrFeatureDimensionMismatch,
			"query vector has dimension %d, head expects %d", len(vec), head.InputDim())
	}
	probs, err := head.Forward(vec)
	if err != nil {
		return nil, err
	}
	probs = ml.NormalizeScores(probs)
	labels := head.Labels()
	if len(probs) != labels.Len() {
		return nil, errors.Wrapf(ErrLabelMappingInconsistent,
			"%d probabilities for %d labels", len(probs), labels.Len())
	}
	ranked := make(classification.Classifications, 0, len(probs))
	for i, prob := range probs {
		label, err := labels.LabelOf(i)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, classification.NewClassification(prob, label))
	}
	top, err := ranked.Top()
	if err != nil {
		return nil, err
	}
	byLabel := ranked.ToMap()
	ranked.SortByScore()
	return &Prediction{
		Top:           top.Label(),
		Probabilities: byLabel,
		Ranked:        ranked,
	}, nil
}
