package pipeline

import "github.com/pkg/errors"

// Typed failures surfaced at the operation boundaries. Each one leaves the
// dataset store and any previously trained head untouched; the pipeline
// always returns to an idle state afterwards so the caller can retry.
var (
	// ErrEmptyDataset is returned when training starts with no examples.
	ErrEmptyDataset = errors.New("dataset holds no training examples")
	// ErrFeatureDimensionMismatch is returned when the extractor yields a
	// vector whose length differs from the dimension pinned for the run or
	// head.
	ErrFeatureDimensionMismatch = errors.New("feature vector dimension does not match")
	// ErrNoBaseModel is returned when training is requested before the
	// embedding backend ever became ready.
	ErrNoBaseModel = errors.New("embedding backend is not loaded")
	// ErrHeadNotTrained is returned when prediction is requested with no
	// trained head.
	ErrHeadNotTrained = errors.New("no trained head available")
	// ErrNoTestImage is returned when prediction is requested without a
	// query image.
	ErrNoTestImage = errors.New("no query image supplied")
	// ErrLabelMappingInconsistent is returned when a probability vector does
	// not line up with the head's label index. It should never trigger if
	// the trainer's invariants hold.
	ErrLabelMappingInconsistent = errors.New("probability vector does not match the label index")
	// ErrOperationInProgress rejects a training run or prediction started
	// while another is in flight.
	ErrOperationInProgress = errors.New("another operation is already in progress")
)
