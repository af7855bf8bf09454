// Package pipeline coordinates the transfer-learning flow: dataset
// accumulation, feature extraction into a training matrix, head fitting, and
// prediction, with explicit state transitions and progress reporting.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/snapclass/snapclass/dataset"
	"github.com/snapclass/snapclass/extractor"
	"github.com/snapclass/snapclass/ml"
	"github.com/snapclass/snapclass/utils"
)

// Config tunes a pipeline. Zero values fall back to defaults.
type Config struct {
	Head              ml.HeadConfig `json:"head"`
	YieldStride       int           `json:"yield_stride"`       // images extracted between yields, default 16
	NormalizeFeatures bool          `json:"normalize_features"` // L2-normalize embeddings
	BackendWait       time.Duration `json:"backend_wait"`       // how long Start waits for the backend, default 30s
}

// ProgressFunc receives coarse progress updates for display. It is called
// from the operation's own goroutine; keep it cheap.
type ProgressFunc func(phase, message string)

// Pipeline owns the dataset store, the extractor adapter, and at most one
// trained head at a time. Its operations are synchronous and single-flight:
// starting one while another runs is rejected, not queued.
type Pipeline struct {
	mu         sync.Mutex
	logger     golog.Logger
	cfg        Config
	adapter    *extractor.Adapter
	store      *dataset.Store
	state      State
	head       *ml.TrainedHead
	busy       bool
	onProgress ProgressFunc
}

// New wraps an embedding backend into a pipeline. Call Start before training
// or predicting.
func New(svc extractor.Service, cfg Config, logger golog.Logger) *Pipeline {
	if cfg.BackendWait <= 0 {
		cfg.BackendWait = 30 * time.Second
	}
	return &Pipeline{
		logger:  logger,
		cfg:     cfg,
		adapter: extractor.NewAdapter(svc, cfg.NormalizeFeatures),
		store:   dataset.NewStore(),
	}
}

// SetProgressFunc registers the progress listener. Pass nil to remove it.
func (p *Pipeline) SetProgressFunc(fn ProgressFunc) {
	p.mu.Lock()
	p.onProgress = fn
	p.mu.Unlock()
}

// State returns the current pipeline state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Head returns the live trained head, or nil.
func (p *Pipeline) Head() *ml.TrainedHead {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.head
}

// Start walks the lifecycle to Ready, waiting up to the configured backend
// wait for the embedding model to finish loading. On failure the lifecycle
// resets so Start can be retried.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := p.advance(eventPrepareBackend); err != nil {
		return err
	}
	p.progress("backend_preparing", "preparing the numeric backend")
	if err := p.advance(eventBackendPrepared); err != nil {
		return err
	}
	p.progress("base_model_loading", "waiting for the embedding model to load")
	deadline := time.Now().Add(p.cfg.BackendWait)
	for !p.adapter.Ready() {
		if time.Now().After(deadline) {
			_ = p.advance(eventStartupFailed)
			return ErrNoBaseModel
		}
		if !goutils.SelectContextOrWait(ctx, 50*time.Millisecond) {
			_ = p.advance(eventStartupFailed)
			return ctx.Err()
		}
	}
	if err := p.advance(eventBaseModelLoaded); err != nil {
		return err
	}
	p.progress("ready", "embedding model loaded")
	return nil
}

// AddExamples appends a labeled batch to the dataset store.
func (p *Pipeline) AddExamples(batch []dataset.Example) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy {
		return ErrOperationInProgress
	}
	p.store.AddExamples(batch)
	return nil
}

// LabelCounts returns a snapshot of per-label example counts for display.
func (p *Pipeline) LabelCounts() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.SnapshotLabelCounts()
}

// Clear wipes the dataset store. An existing trained head keeps its frozen
// label index and stays usable until DiscardHead.
func (p *Pipeline) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy {
		return ErrOperationInProgress
	}
	p.store.Clear()
	p.state, _ = transition(p.state, eventCleared)
	return nil
}

// DiscardHead closes and drops the live trained head, if any.
func (p *Pipeline) DiscardHead() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy {
		return ErrOperationInProgress
	}
	var err error
	if p.head != nil {
		err = p.head.Close()
		p.head = nil
	}
	p.state, _ = transition(p.state, eventCleared)
	return err
}

// TrainHead extracts features for every stored example, fits the classifier
// head, and installs the result as the live head, closing any superseded
// one. A failed run installs nothing and returns the pipeline to idle.
func (p *Pipeline) TrainHead(ctx context.Context) (*ml.TrainedHead, error) {
	p.mu.Lock()
	if p.busy {
		p.mu.Unlock()
		return nil, ErrOperationInProgress
	}
	if !p.adapter.Ready() {
		p.mu.Unlock()
		return nil, ErrNoBaseModel
	}
	next, err := transition(p.state, eventTrainStarted)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.state = next
	p.busy = true
	examples := p.store.Examples()
	p.mu.Unlock()

	head, err := p.runTraining(ctx, examples)

	p.mu.Lock()
	p.busy = false
	if err != nil {
		p.state, _ = transition(p.state, eventTrainFailed)
		p.mu.Unlock()
		p.logger.Errorw("training run failed", "error", err)
		p.progress("train_failed", err.Error())
		return nil, err
	}
	if p.head != nil {
		goutils.UncheckedError(p.head.Close())
	}
	p.head = head
	p.state, _ = transition(p.state, eventHeadFitted)
	p.mu.Unlock()
	p.progress("trained", fmt.Sprintf("trained %d-class head (run %s)", head.Labels().Len(), head.RunID))
	return head, nil
}

func (p *Pipeline) runTraining(ctx context.Context, examples []dataset.Example) (*ml.TrainedHead, error) {
	p.progress("extracting", fmt.Sprintf("extracting features from %d examples", len(examples)))
	yielder := utils.NewYielder(p.cfg.YieldStride)
	m, err := buildTrainingMatrix(ctx, examples, p.adapter, yielder, p.logger)
	if err != nil {
		return nil, err
	}
	defer m.release()
	if err := p.advance(eventMatrixBuilt); err != nil {
		return nil, err
	}
	p.progress("fitting_head", fmt.Sprintf("fitting a %d-class head on %d examples", m.labels.Len(), m.n))
	trainer := ml.NewHeadTrainer(p.cfg.Head)
	return trainer.Train(ctx, m.x, m.y, m.labels, func(stats ml.EpochStats) error {
		p.logger.Debugw("epoch complete",
			"epoch", stats.Epoch, "loss", stats.Loss, "accuracy", stats.Accuracy, "took", stats.Duration)
		p.progress("fitting_head",
			fmt.Sprintf("epoch %d: loss %.4f, accuracy %.3f", stats.Epoch, stats.Loss, stats.Accuracy))
		return yielder.Yield(ctx)
	})
}

// Close discards the head and releases the embedding backend.
func (p *Pipeline) Close(ctx context.Context) error {
	return multierr.Combine(p.DiscardHead(), p.adapter.Close(ctx))
}

func (p *Pipeline) advance(e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, err := transition(p.state, e)
	if err != nil {
		return err
	}
	p.state = next
	return nil
}

func (p *Pipeline) progress(phase, message string) {
	p.mu.Lock()
	fn := p.onProgress
	p.mu.Unlock()
	if fn != nil {
		fn(phase, message)
	}
}
