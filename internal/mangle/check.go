package mangle

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/parse"
)

// Stage names the step at which Mangle source was rejected.
type Stage string

const (
	StageParse    Stage = "parse"
	StageAnalysis Stage = "analysis"
)

// SourceError reports Mangle source that does not parse or does not pass
// analysis (undeclared predicates, unsafe variables, unstratifiable
// negation).
type SourceError struct {
	Stage Stage
	Err   error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("mangle %s: %v", e.Stage, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Report summarises a program that passed Check.
type Report struct {
	Rules        int
	Declarations int
	Predicates   []string
}

// Check parses and analyzes the concatenation of sources as one program
// without evaluating it.
func Check(sources ...string) (Report, error) {
	var merged parse.SourceUnit
	for _, src := range sources {
		unit, err := parse.Unit(bytes.NewReader([]byte(src)))
		if err != nil {
			return Report{}, &SourceError{Stage: StageParse, Err: err}
		}
		merged.Clauses = append(merged.Clauses, unit.Clauses...)
		merged.Decls = append(merged.Decls, unit.Decls...)
	}
	info, err := analysis.AnalyzeOneUnit(merged, nil)
	if err != nil {
		return Report{}, &SourceError{Stage: StageAnalysis, Err: err}
	}

	report := Report{Rules: len(info.Rules), Declarations: len(info.Decls)}
	for sym := range info.Decls {
		report.Predicates = append(report.Predicates, sym.Symbol)
	}
	sort.Strings(report.Predicates)
	return report, nil
}
