package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"justact/internal/evaluator"
	"justact/internal/interpreter"
	"justact/internal/scenariolog"
)

// Result pairs a scripted command with what Execute returned for it.
type Result struct {
	Outcome Outcome
	Err     error
}

// Run executes a pre-parsed script. Each command goes through Execute, so a
// script behaves exactly like the same commands typed one by one: rejected
// commands are reported in their Result and the script carries on. Run
// stops early when the session closes or ctx is done, and returns that
// error together with the results so far.
func (s *Session) Run(ctx context.Context, cmds []interpreter.Command) ([]Result, error) {
	results := make([]Result, 0, len(cmds))
	for i, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("script stopped before command %d: %w", i, err)
		}
		out, err := s.Execute(ctx, cmd)
		results = append(results, Result{Outcome: out, Err: err})
		if err != nil && (errors.Is(err, evaluator.ErrFatal) || errors.Is(err, ErrSessionClosed)) {
			return results, fmt.Errorf("script stopped at command %d (%s): %w", i, cmd, err)
		}
	}
	s.logger.Debug("script finished", zap.Int("commands", len(cmds)))
	return results, nil
}

// Rejected returns the results whose command was rejected.
func Rejected(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Mismatch is a difference between a recorded transcript and a re-run.
type Mismatch struct {
	Index   int
	Command interpreter.Command
	Field   string
	Want    string
	Got     string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("record %d (%s): %s: want %s, got %s", m.Index, m.Command, m.Field, m.Want, m.Got)
}

// VerifyOptions controls what Verify compares.
type VerifyOptions struct {
	// Verdicts also compares the kind of each verdict. Leave it off when
	// the re-run uses a different evaluator than the recording.
	Verdicts bool
}

// Verify re-issues the commands of a recorded transcript to s, which should
// be fresh, and reports every record whose status, sequence or snapshot
// digest came out differently. Replay is deterministic, so a clean
// recording yields no mismatches.
func (s *Session) Verify(ctx context.Context, records []scenariolog.Record, opts VerifyOptions) ([]Mismatch, error) {
	var mismatches []Mismatch
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return mismatches, err
		}
		out, err := s.Execute(ctx, rec.Command)
		if err != nil && s.Err() != nil {
			return mismatches, fmt.Errorf("verify record %d: %w", rec.Index, err)
		}
		got := s.outcomeOf(out)
		mismatches = append(mismatches, compare(rec, got, opts)...)
	}
	return mismatches, nil
}

func (s *Session) outcomeOf(out Outcome) scenariolog.Outcome {
	got := scenariolog.Outcome{Status: out.Status, Seq: out.Seq, Verdicts: out.Verdicts}
	if out.Snapshot != nil {
		got.SnapshotID = out.Snapshot.Digest()
	}
	return got
}

func compare(rec scenariolog.Record, got scenariolog.Outcome, opts VerifyOptions) []Mismatch {
	want := rec.Outcome
	var out []Mismatch
	add := func(field, w, g string) {
		if w != g {
			out = append(out, Mismatch{Index: rec.Index, Command: rec.Command, Field: field, Want: w, Got: g})
		}
	}
	add("status", string(want.Status), string(got.Status))
	add("seq", want.Seq.String(), got.Seq.String())
	add("snapshot_id", want.SnapshotID, got.SnapshotID)
	if opts.Verdicts {
		add("verdicts", verdictKinds(want.Verdicts), verdictKinds(got.Verdicts))
	}
	return out
}

func verdictKinds(vs []evaluator.Verdict) string {
	s := ""
	for i, v := range vs {
		if i > 0 {
			s += ","
		}
		s += v.Policy + "=" + string(v.Kind)
	}
	return s
}
