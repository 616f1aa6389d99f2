// Package session runs one diff request end to end: resolve the thread,
// apply the prompt with the agent, and report the staged diff as a stream
// of events.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/holon-run/xavier/pkg/failure"
	holonlog "github.com/holon-run/xavier/pkg/log"
	"github.com/holon-run/xavier/pkg/redact"
	"github.com/holon-run/xavier/pkg/thread"
)

// Caller-facing messages emitted by the orchestrator itself.
const (
	MsgPromptRequired = "Prompt is required"
	MsgRunning        = "Running %s to apply changes..."
	MsgGeneratingDiff = "Generating diff..."
)

// State is a step of the request pipeline.
type State string

const (
	StateStart           State = "start"
	StateResolvingThread State = "resolving_thread"
	StateMutating        State = "mutating"
	StateDiffing         State = "diffing"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// Resolver binds a request to a locked thread.
type Resolver interface {
	Resolve(ctx context.Context, req thread.ResolveRequest, progress func(string)) (*thread.Resolution, error)
}

// Mutator applies a prompt to a working tree.
type Mutator interface {
	Name() string
	Run(ctx context.Context, workDir, prompt string, onLine func(string)) error
}

// DiffProducer reports the changes in a working tree.
type DiffProducer interface {
	Produce(ctx context.Context, workDir string) (string, error)
}

// Trigger starts background maintenance without waiting for it.
type Trigger interface {
	Trigger() bool
}

// Emit receives the events of one request in order.
type Emit func(Event)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStreamOutput forwards every line the agent prints as a status event.
func WithStreamOutput(enabled bool) Option {
	return func(o *Orchestrator) {
		o.streamOutput = enabled
	}
}

// WithRedactor masks secrets in forwarded agent output.
func WithRedactor(r *redact.Redactor) Option {
	return func(o *Orchestrator) {
		o.redactor = r
	}
}

// WithSweeper triggers t at the start of every request.
func WithSweeper(t Trigger) Option {
	return func(o *Orchestrator) {
		o.sweeper = t
	}
}

// Orchestrator sequences thread resolution, mutation and diffing.
type Orchestrator struct {
	resolver     Resolver
	mutator      Mutator
	producer     DiffProducer
	sweeper      Trigger
	streamOutput bool
	redactor     *redact.Redactor
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(resolver Resolver, mutator Mutator, producer DiffProducer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		resolver: resolver,
		mutator:  mutator,
		producer: producer,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle runs req and sends its events to emit. The stream ends with exactly
// one result or error event. Cancelling ctx does not stop a request that is
// already running; emit should drop events nobody is reading.
func (o *Orchestrator) Handle(ctx context.Context, req Request, emit Emit) {
	ctx = context.WithoutCancel(ctx)
	started := time.Now()
	logger := holonlog.With("thread", req.ThreadID, "repo", req.Repo)
	state := StateStart

	transition := func(next State) {
		logger.Debugw("session state", "from", state, "to", next)
		state = next
	}
	fail := func(err error) {
		transition(StateFailed)
		msg := failure.Message(err)
		logger.Warnw("request failed", "kind", failure.KindOf(err), "error", err, "duration", time.Since(started))
		emit(ErrorEvent(msg))
	}

	if o.sweeper != nil {
		o.sweeper.Trigger()
	}

	if req.Prompt == "" {
		fail(failure.Validation(MsgPromptRequired))
		return
	}
	logger.Infow("request accepted", "resume", req.ThreadID != "")

	transition(StateResolvingThread)
	res, err := o.resolver.Resolve(ctx, thread.ResolveRequest{ThreadID: req.ThreadID, Repo: req.Repo}, func(msg string) {
		emit(StatusEvent(msg))
	})
	if err != nil {
		fail(err)
		return
	}
	defer res.Release()
	logger = logger.With("thread", res.ThreadID, "step", res.Step)

	transition(StateMutating)
	emit(StatusEvent(fmt.Sprintf(MsgRunning, o.mutator.Name())))
	var onLine func(string)
	if o.streamOutput {
		onLine = func(line string) {
			emit(StatusEvent(o.redactor.Line(line)))
		}
	}
	if err := o.mutator.Run(ctx, res.WorkDir, req.Prompt, onLine); err != nil {
		fail(err)
		return
	}

	transition(StateDiffing)
	emit(StatusEvent(MsgGeneratingDiff))
	diff, err := o.producer.Produce(ctx, res.WorkDir)
	if err != nil {
		fail(err)
		return
	}

	transition(StateDone)
	logger.Infow("request completed", "diff_bytes", len(diff), "duration", time.Since(started))
	emit(ResultEvent(diff, res.ThreadID, res.Step))
}
