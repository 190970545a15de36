package pipeline

import (
	"contractflow/internal/models"
	"contractflow/internal/service/ai"
)

type Stage string

const (
	StageStarted    Stage = "started"
	StageExtracting Stage = "extracting"
	StageAnalyzing  Stage = "analyzing"
	StageSucceeded  Stage = "succeeded"
	StageFailed     Stage = "failed"
)

// maxEvents is the longest event sequence of a run.
const maxEvents = 4

// Event is one progress report. Text is what clients see.
type Event struct {
	Stage Stage
	Text  string
}

// Terminal reports whether no event follows e.
func (e Event) Terminal() bool {
	return e.Stage == StageSucceeded || e.Stage == StageFailed
}

// Outcome is the committed terminal state of a run.
type Outcome struct {
	ContractID int64
	Status     models.ContractStatus
	Data       ai.Document
	// Err is the failure recorded as the analysis summary.
	Err error
}

// Run tracks one ingestion.
type Run struct {
	// Contract is the PENDING snapshot taken when the run started.
	Contract *models.Contract

	events  chan Event
	done    chan struct{}
	outcome Outcome
}

func newRun(c *models.Contract) *Run {
	return &Run{
		Contract: c,
		events:   make(chan Event, maxEvents),
		done:     make(chan struct{}),
	}
}

// Events yields progress in order and is closed after the terminal event.
// Nobody has to read it.
func (r *Run) Events() <-chan Event {
	return r.events
}

// Wait blocks until the terminal state is committed.
func (r *Run) Wait() Outcome {
	<-r.done
	return r.outcome
}

// Done is closed once the outcome is available.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

func (r *Run) emit(e Event) {
	select {
	case r.events <- e:
	default:
	}
}

func (r *Run) complete(final Event, out Outcome) {
	r.emit(final)
	close(r.events)
	r.outcome = out
	close(r.done)
}
