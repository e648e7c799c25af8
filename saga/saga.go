// Package saga provides an in-process saga orchestrator for multi-step
// business transactions that span independently-committed stores.
//
// A saga is an ordered list of steps. Each step performs one forward action
// against a collaborating subsystem and knows how to undo it. Because there
// is no single transaction spanning all collaborators, a failed mandatory
// step triggers compensation: every previously-succeeded step is undone in
// reverse order before the original failure is reported.
//
// Steps communicate through a shared, per-run context value (the type
// parameter T). Data flows forward through the context; compensation data
// flows backward — a step's Compensate reads only the snapshot its own
// Execute wrote.
//
// # Basic Usage
//
// Define steps against your context type:
//
//	type chargeStep struct {
//	    saga.Base[*Checkout]
//	    payments *PaymentService
//	}
//
//	func (s *chargeStep) Name() string { return "charge-card" }
//
//	func (s *chargeStep) Execute(ctx context.Context, c *Checkout) saga.Result {
//	    id, err := s.payments.Charge(ctx, c.CustomerID, c.Total)
//	    if err != nil {
//	        return saga.Wrap(err)
//	    }
//	    c.ChargeID = id
//	    return saga.OK("card charged")
//	}
//
//	func (s *chargeStep) Compensate(ctx context.Context, c *Checkout) saga.Result {
//	    if c.ChargeID == "" {
//	        return saga.OK("nothing to undo")
//	    }
//	    if err := s.payments.Refund(ctx, c.ChargeID); err != nil {
//	        return saga.Wrap(err)
//	    }
//	    return saga.OK("charge refunded")
//	}
//
// Assemble and run:
//
//	orch, err := saga.New("checkout", []saga.Step[*Checkout]{
//	    &chargeStep{payments: payments},
//	    &shipStep{shipping: shipping},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	res := orch.Run(ctx, orderID, &Checkout{CustomerID: custID})
//	if !res.Success {
//	    // mandatory step failed; completed steps were compensated
//	}
//
// # Step Policy
//
// Embedding Base gives a step the default policy: always runs, mandatory,
// no retries. Override the policy methods to change it:
//
//   - ShouldExecute: pure predicate over the context. A false result records
//     the step as skipped; a skipped step is never compensated.
//   - Mandatory: a failed mandatory step aborts the run and compensates.
//     A failed optional step is logged and the run continues.
//   - MaxRetries / RetryDelay: Execute is attempted up to MaxRetries+1 times
//     with a fixed delay between attempts.
//
// # Failure Semantics
//
// Execute and Compensate return Result values rather than raising; a panic
// that escapes a step is recovered at the step boundary and converted into
// a failure Result. Compensation failures are logged and counted as
// requiring manual reconciliation — they never change the already-decided
// overall outcome.
package saga

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/backoff"
)

// Result is the immutable outcome of one step attempt, or of a whole run.
type Result struct {
	Success bool   // whether the attempt succeeded
	Message string // human-readable; always non-empty on failure
	Payload any    // optional, e.g. an amount granted or an identifier created
}

// OK returns a success result.
func OK(message string) Result {
	return Result{Success: true, Message: message}
}

// OKWith returns a success result carrying a payload.
func OKWith(message string, payload any) Result {
	return Result{Success: true, Message: message, Payload: payload}
}

// Fail returns a failure result. The message must be non-empty.
func Fail(message string) Result {
	if message == "" {
		message = "step failed"
	}
	return Result{Success: false, Message: message}
}

// Failf returns a failure result with a formatted message.
func Failf(format string, args ...any) Result {
	return Fail(fmt.Sprintf(format, args...))
}

// Wrap converts an unexpected collaborator error into a failure result.
func Wrap(err error) Result {
	if err == nil {
		return OK("")
	}
	return Fail(err.Error())
}

// Step is one unit of forward/compensating work within a saga.
//
// Steps are stateless and reusable across runs; all per-run information
// lives in the context value T. Embed Base to inherit the default policy.
type Step[T any] interface {
	// Name identifies the step in logs and metrics. Unique within a list.
	Name() string

	// ShouldExecute is evaluated immediately before the step would run.
	// When false the step is recorded as skipped and never compensated.
	// Must be a pure read of the context.
	ShouldExecute(data T) bool

	// Mandatory reports whether a failed Execute aborts the saga.
	Mandatory() bool

	// MaxRetries is the number of additional Execute attempts after the
	// first failure. All attempts exhausted counts as a single failure.
	MaxRetries() int

	// RetryDelay is the fixed delay between Execute attempts.
	RetryDelay() time.Duration

	// Execute performs the forward action. If the action is reversible the
	// step stores its before-state on the context for Compensate.
	Execute(ctx context.Context, data T) Result

	// Compensate undoes the forward action. It reads only the snapshot its
	// own Execute wrote; if that snapshot is absent, Execute never reached
	// the commit point and Compensate returns success as a no-op.
	Compensate(ctx context.Context, data T) Result
}

// Base provides the default step policy: always execute, mandatory,
// no retries. Concrete steps embed it and implement Name, Execute and
// Compensate themselves.
type Base[T any] struct{}

// ShouldExecute always returns true.
func (Base[T]) ShouldExecute(T) bool { return true }

// Mandatory always returns true.
func (Base[T]) Mandatory() bool { return true }

// MaxRetries returns 0 (single attempt).
func (Base[T]) MaxRetries() int { return 0 }

// RetryDelay returns 0.
func (Base[T]) RetryDelay() time.Duration { return 0 }

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *MetricsRecorder
	backoff backoff.Strategy
}

// WithLogger sets a custom logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics enables OpenTelemetry metrics collection for the saga.
func WithMetrics(recorder *MetricsRecorder) Option {
	return func(o *options) {
		o.metrics = recorder
	}
}

// WithBackoff overrides the per-step fixed retry delay with a backoff
// strategy. Any strategy from github.com/rbaliyan/event/v3/backoff works:
//
//	orch, err := saga.New("checkout", steps,
//	    saga.WithBackoff(&backoff.Exponential{
//	        Initial:    time.Second,
//	        Multiplier: 2.0,
//	        Max:        30 * time.Second,
//	    }),
//	)
func WithBackoff(strategy backoff.Strategy) Option {
	return func(o *options) {
		o.backoff = strategy
	}
}

// Orchestrator executes an ordered step list against one context value per
// run. It enforces the predicate/mandatory/retry contract and drives
// backward compensation on mandatory failure.
//
// An Orchestrator is immutable after New and safe for concurrent runs;
// each run owns its context value exclusively.
type Orchestrator[T any] struct {
	name    string
	steps   []Step[T]
	logger  *slog.Logger
	metrics *MetricsRecorder
	backoff backoff.Strategy
}

// New creates an orchestrator for the given step list.
// Returns an error if the name is empty, the list is empty, or two steps
// share a name.
func New[T any](name string, steps []Step[T], opts ...Option) (*Orchestrator[T], error) {
	if name == "" {
		return nil, fmt.Errorf("saga name is required")
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("at least one step is required")
	}
	seen := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		if _, dup := seen[step.Name()]; dup {
			return nil, fmt.Errorf("duplicate step name: %s", step.Name())
		}
		seen[step.Name()] = struct{}{}
	}

	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	return &Orchestrator[T]{
		name:    name,
		steps:   steps,
		logger:  o.logger.With("saga", name),
		metrics: o.metrics,
		backoff: o.backoff,
	}, nil
}

// Name returns the saga name.
func (o *Orchestrator[T]) Name() string {
	return o.name
}

// Steps returns a copy of the step list.
func (o *Orchestrator[T]) Steps() []Step[T] {
	steps := make([]Step[T], len(o.steps))
	copy(steps, o.steps)
	return steps
}

// Run executes the step list to completion or produces a deterministic
// rollback. The id correlates log lines for one run.
//
// Every step either succeeds, is skipped, fails-but-is-optional, or is the
// first mandatory failure. In the last case all previously-succeeded steps
// are compensated in reverse successful-execution order and the original
// failure is returned. Compensation failures are logged, counted, and do
// not change the outcome.
func (o *Orchestrator[T]) Run(ctx context.Context, id string, data T) Result {
	start := time.Now()
	if o.metrics != nil {
		o.metrics.RecordRunStart(ctx, o.name)
	}

	var succeeded []Step[T]

	for i, step := range o.steps {
		if !step.ShouldExecute(data) {
			o.logger.Info("step skipped",
				"run_id", id,
				"step", step.Name(),
				"step_index", i)
			if o.metrics != nil {
				o.metrics.RecordStep(ctx, o.name, step.Name(), ResultSkipped, 0)
			}
			continue
		}

		res := o.runStep(ctx, id, step, data)
		if res.Success {
			succeeded = append(succeeded, step)
			continue
		}

		if !step.Mandatory() {
			o.logger.Warn("optional step failed, continuing",
				"run_id", id,
				"step", step.Name(),
				"message", res.Message)
			continue
		}

		o.logger.Error("mandatory step failed",
			"run_id", id,
			"step", step.Name(),
			"message", res.Message)

		o.compensate(ctx, id, succeeded, data)

		if o.metrics != nil {
			o.metrics.RecordRunEnd(ctx, o.name, OutcomeCompensated, time.Since(start))
		}
		return res
	}

	if o.metrics != nil {
		o.metrics.RecordRunEnd(ctx, o.name, OutcomeSuccess, time.Since(start))
	}
	o.logger.Info("saga completed",
		"run_id", id,
		"steps", len(o.steps),
		"succeeded", len(succeeded))

	return OK(o.name + " completed")
}

// runStep executes one step with its retry policy. Returns the result of
// the last attempt.
func (o *Orchestrator[T]) runStep(ctx context.Context, id string, step Step[T], data T) Result {
	maxAttempts := step.MaxRetries() + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var res Result
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := step.RetryDelay()
			if o.backoff != nil {
				delay = o.backoff.NextDelay(attempt - 1)
			}
			o.logger.Info("retrying step",
				"run_id", id,
				"step", step.Name(),
				"attempt", attempt+1,
				"delay", delay)
			if delay > 0 {
				select {
				case <-ctx.Done():
					return Wrap(ctx.Err())
				case <-time.After(delay):
				}
			}
		}

		stepStart := time.Now()
		res = o.execute(ctx, step, data)
		elapsed := time.Since(stepStart)

		if o.metrics != nil {
			result := ResultSuccess
			if !res.Success {
				result = ResultFailure
			}
			o.metrics.RecordStep(ctx, o.name, step.Name(), result, elapsed)
		}

		if res.Success {
			return res
		}

		if attempt < maxAttempts-1 {
			o.logger.Warn("step failed, will retry",
				"run_id", id,
				"step", step.Name(),
				"attempt", attempt+1,
				"max_attempts", maxAttempts,
				"message", res.Message)
		}
	}

	return res
}

// execute calls the step's forward action, converting a panic into a
// failure result at the step boundary.
func (o *Orchestrator[T]) execute(ctx context.Context, step Step[T], data T) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Failf("step %s panicked: %v", step.Name(), r)
		}
	}()
	res = step.Execute(ctx, data)
	if !res.Success && res.Message == "" {
		res.Message = step.Name() + " failed"
	}
	return res
}

// compensate undoes succeeded steps in reverse insertion order. Failures
// are logged and counted for manual reconciliation, never re-raised.
func (o *Orchestrator[T]) compensate(ctx context.Context, id string, succeeded []Step[T], data T) {
	o.logger.Info("starting compensation",
		"run_id", id,
		"steps_to_compensate", len(succeeded))

	for i := len(succeeded) - 1; i >= 0; i-- {
		step := succeeded[i]

		stepStart := time.Now()
		res := o.undo(ctx, step, data)
		elapsed := time.Since(stepStart)

		if o.metrics != nil {
			result := ResultSuccess
			if !res.Success {
				result = ResultFailure
			}
			o.metrics.RecordCompensation(ctx, o.name, step.Name(), result, elapsed)
		}

		if !res.Success {
			o.logger.Error("compensation failed, manual reconciliation required",
				"run_id", id,
				"step", step.Name(),
				"message", res.Message)
			if o.metrics != nil {
				o.metrics.RecordManualIntervention(ctx, o.name, step.Name())
			}
			continue
		}

		o.logger.Info("step compensated",
			"run_id", id,
			"step", step.Name())
	}
}

// undo calls the step's compensating action, converting a panic into a
// failure result at the step boundary.
func (o *Orchestrator[T]) undo(ctx context.Context, step Step[T], data T) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Failf("compensate %s panicked: %v", step.Name(), r)
		}
	}()
	res = step.Compensate(ctx, data)
	if !res.Success && res.Message == "" {
		res.Message = "compensate " + step.Name() + " failed"
	}
	return res
}
