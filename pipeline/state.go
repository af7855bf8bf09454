package pipeline

import "github.com/pkg/errors"

// Lifecycle is the pipeline's readiness phase.
type Lifecycle int

// Lifecycle phases, in startup order.
const (
	Uninitialized Lifecycle = iota
	BackendPreparing
	BaseModelLoading
	Ready
)

func (l Lifecycle) String() string {
	switch l {
	case Uninitialized:
		return "uninitialized"
	case BackendPreparing:
		return "backend_preparing"
	case BaseModelLoading:
		return "base_model_loading"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// TrainState is the training sub-state, orthogonal to Lifecycle.
type TrainState int

// Training sub-states.
const (
	TrainIdle TrainState = iota
	TrainExtracting
	TrainFitting
	TrainTrained
)

func (t TrainState) String() string {
	switch t {
	case TrainIdle:
		return "idle"
	case TrainExtracting:
		return "extracting"
	case TrainFitting:
		return "fitting_head"
	case TrainTrained:
		return "trained"
	default:
		return "unknown"
	}
}

// PredictState is the prediction sub-state, orthogonal to Lifecycle.
type PredictState int

// Prediction sub-states.
const (
	PredictIdle PredictState = iota
	PredictInferring
	PredictDone
)

func (p PredictState) String() string {
	switch p {
	case PredictIdle:
		return "idle"
	case PredictInferring:
		return "inferring"
	case PredictDone:
		return "done"
	default:
		return "unknown"
	}
}

// State is the full pipeline state.
type State struct {
	Lifecycle Lifecycle
	Train     TrainState
	Predict   PredictState
}

// Event drives state transitions.
type Event int

// Events, grouped by the sub-machine they drive.
const (
	eventPrepareBackend Event = iota
	eventBackendPrepared
	eventBaseModelLoaded
	eventStartupFailed

	eventTrainStarted
	eventMatrixBuilt
	eventHeadFitted
	eventTrainFailed
	eventCleared

	eventPredictStarted
	eventPredictDone
	eventPredictFailed
	eventPredictReset
)

// transition is the pure transition function: (state, event) -> state. An
// invalid pair returns the input state unchanged along with an error, so a
// failed operation can never leave the machine half-moved.
func transition(s State, e Event) (State, error) {
	switch e {
	case eventPrepareBackend:
		if s.Lifecycle != Uninitialized {
			return s, errors.Errorf("cannot prepare backend from %q", s.Lifecycle)
		}
		s.Lifecycle = BackendPreparing
	case eventBackendPrepared:
		if s.Lifecycle != BackendPreparing {
			return s, errors.Errorf("cannot load base model from %q", s.Lifecycle)
		}
		s.Lifecycle = BaseModelLoading
	case eventBaseModelLoaded:
		if s.Lifecycle != BaseModelLoading {
			return s, errors.Errorf("cannot become ready from %q", s.Lifecycle)
		}
		s.Lifecycle = Ready
	case eventStartupFailed:
		s.Lifecycle = Uninitialized

	case eventTrainStarted:
		if s.Lifecycle != Ready {
			return s, errors.Errorf("cannot train while %q", s.Lifecycle)
		}
		if s.Train == TrainExtracting || s.Train == TrainFitting {
			return s, ErrOperationInProgress
		}
		s.Train = TrainExtracting
	case eventMatrixBuilt:
		if s.Train != TrainExtracting {
			return s, errors.Errorf("matrix built while training state is %q", s.Train)
		}
		s.Train = TrainFitting
	case eventHeadFitted:
		if s.Train != TrainFitting {
			return s, errors.Errorf("head fitted while training state is %q", s.Train)
		}
		s.Train = TrainTrained
	case eventTrainFailed, eventCleared:
		s.Train = TrainIdle

	case eventPredictStarted:
		if s.Lifecycle != Ready {
			return s, errors.Errorf("cannot predict while %q", s.Lifecycle)
		}
		if s.Predict == PredictInferring {
			return s, ErrOperationInProgress
		}
		s.Predict = PredictInferring
	case eventPredictDone:
		if s.Predict != PredictInferring {
			return s, errors.Errorf("prediction finished while state is %q", s.Predict)
		}
		s.Predict = PredictDone
	case eventPredictFailed:
		s.Predict = PredictIdle
	case eventPredictReset:
		s.Predict = PredictIdle

	default:
		return s, errors.Errorf("unknown pipeline event %d", e)
	}
	return s, nil
}
