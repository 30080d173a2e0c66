package evaluator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"justact/internal/scenario"
)

// Evaluator is a policy evaluation backend. Implementations must honour ctx
// and must not retain req after returning. They report recoverable
// failures as *EvaluatorError and unrecoverable ones wrapped with Fatal.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, req Request) (Response, error)
}

// Options configures a Bridge.
type Options struct {
	// Timeout bounds every evaluator call. Zero disables the bound.
	Timeout time.Duration
	// Parallelism caps concurrent calls in EvaluateAll. Zero or less means
	// one call per policy.
	Parallelism int
	Logger      *zap.Logger
}

// Bridge runs an Evaluator against snapshots. Evaluation never touches the
// store: it sees only the immutable snapshot it is given.
type Bridge struct {
	evaluator   Evaluator
	timeout     time.Duration
	parallelism int
	logger      *zap.Logger
}

// NewBridge returns a bridge calling ev.
func NewBridge(ev Evaluator, opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		evaluator:   ev,
		timeout:     opts.Timeout,
		parallelism: opts.Parallelism,
		logger:      logger,
	}
}

// Evaluator returns the backend name.
func (b *Bridge) Evaluator() string {
	if b.evaluator == nil {
		return ""
	}
	return b.evaluator.Name()
}

// Evaluate checks snap against policy. Every recoverable failure is
// reported inside the Verdict with KindError; the returned error is non-nil
// only for failures wrapping ErrFatal.
func (b *Bridge) Evaluate(ctx context.Context, snap *scenario.Snapshot, policy scenario.Policy) (Verdict, error) {
	verdict := Verdict{
		Policy:     policy.Name,
		Seq:        snap.Seq(),
		SnapshotID: snap.Digest(),
		Evaluator:  b.Evaluator(),
	}
	if b.evaluator == nil {
		return b.fail(verdict, &EvaluatorError{Reason: ReasonUnavailable, Detail: "no evaluator configured"}), nil
	}
	if err := ctx.Err(); err != nil {
		return b.fail(verdict, newError(ReasonCancelled, err)), nil
	}

	callCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := b.evaluator.Evaluate(callCtx, NewRequest(snap, policy))
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, ErrFatal) {
			b.logger.Error("fatal evaluator failure",
				zap.String("policy", policy.Name),
				zap.Error(err))
			return verdict, err
		}
		return b.fail(verdict, b.classify(ctx, callCtx, err)), nil
	}
	if err := resp.validate(); err != nil {
		return b.fail(verdict, err), nil
	}

	switch resp.Verdict {
	case AnswerValid:
		verdict.Kind = KindValid
		verdict.Artifact = resp.Artifact
	case AnswerInvalid:
		verdict.Kind = KindInvalid
		verdict.Witness = resp.Witness
		verdict.Artifact = resp.Artifact
	}
	b.logger.Debug("evaluation complete",
		zap.String("policy", policy.Name),
		zap.Int64("seq", int64(verdict.Seq)),
		zap.String("verdict", string(verdict.Kind)),
		zap.Duration("elapsed", elapsed))
	return verdict, nil
}

// EvaluateAll checks snap against every policy concurrently. Verdicts are
// returned in the order of policies. A fatal failure cancels the remaining
// calls and is returned as the error.
func (b *Bridge) EvaluateAll(ctx context.Context, snap *scenario.Snapshot, policies []scenario.Policy) ([]Verdict, error) {
	verdicts := make([]Verdict, len(policies))
	g, gctx := errgroup.WithContext(ctx)
	if b.parallelism > 0 {
		g.SetLimit(b.parallelism)
	}
	for i, p := range policies {
		g.Go(func() error {
			v, err := b.Evaluate(gctx, snap, p)
			if err != nil {
				return err
			}
			verdicts[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return verdicts, nil
}

// classify maps an evaluator error to a reason. The state of the contexts
// takes precedence over what the evaluator reported.
func (b *Bridge) classify(parent, call context.Context, err error) *EvaluatorError {
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return newError(ReasonCancelled, err)
	case errors.Is(call.Err(), context.DeadlineExceeded):
		return &EvaluatorError{Reason: ReasonTimeout, Detail: "no answer before deadline", Err: err}
	}
	var evalErr *EvaluatorError
	if errors.As(err, &evalErr) {
		return evalErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ReasonTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return newError(ReasonCancelled, err)
	}
	return newError(ReasonUnavailable, err)
}

func (b *Bridge) fail(v Verdict, err *EvaluatorError) Verdict {
	v.Kind = KindError
	v.Err = err
	b.logger.Warn("evaluation failed",
		zap.String("policy", v.Policy),
		zap.Int64("seq", int64(v.Seq)),
		zap.String("reason", string(err.Reason)),
		zap.String("detail", err.Detail))
	return v
}
