// Package mangle wraps the Google Mangle Datalog engine for one-shot policy
// evaluation: load source fragments, insert facts, evaluate, read back
// derived facts.
package mangle

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	_ "github.com/google/mangle/packages"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"
)

// Config holds Mangle engine configuration.
type Config struct {
	// FactLimit caps inserted facts. Zero means no cap.
	FactLimit int
	Logger    *zap.Logger
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FactLimit: 100000,
	}
}

// Fact is a ground atom. Args hold strings, int64s, float64s or bools.
type Fact struct {
	Predicate string `json:"predicate"`
	Args      []any  `json:"args"`
}

// String renders the fact in Datalog syntax.
func (f Fact) String() string {
	args := make([]string, len(f.Args))
	for i, arg := range f.Args {
		args[i] = formatArg(arg)
	}
	return f.Predicate + "(" + strings.Join(args, ", ") + ")."
}

func formatArg(arg any) string {
	switch v := arg.(type) {
	case string:
		if strings.HasPrefix(v, "/") {
			return v
		}
		return strconv.Quote(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		if v {
			return "/true"
		}
		return "/false"
	}
	return fmt.Sprint(arg)
}

// Stats summarises one evaluation.
type Stats struct {
	TotalFacts int           `json:"total_facts"`
	Duration   time.Duration `json:"duration"`
}

// Engine holds one program and its facts. Engines are cheap; the evaluator
// builds a fresh one for every request.
type Engine struct {
	config Config
	logger *zap.Logger

	mu        sync.Mutex
	store     factstore.ConcurrentFactStore
	fragments []parse.SourceUnit
	program   *analysis.ProgramInfo
	inserted  int

	// symbols and decls are keyed by predicate name.
	symbols map[string]ast.PredicateSym
	decls   map[string]*ast.Decl
}

// NewEngine returns an engine with no program loaded.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		config:  cfg,
		logger:  logger,
		store:   factstore.NewConcurrentFactStore(factstore.NewSimpleInMemoryStore()),
		symbols: map[string]ast.PredicateSym{},
		decls:   map[string]*ast.Decl{},
	}
}

// Load adds a source fragment of declarations and rules and analyzes the
// whole program again. A fragment that fails is dropped and the engine
// keeps the previous program.
func (e *Engine) Load(src string) error {
	unit, err := parse.Unit(bytes.NewReader([]byte(src)))
	if err != nil {
		return &SourceError{Stage: StageParse, Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	merged := parse.SourceUnit{}
	for _, f := range append(e.fragments, unit) {
		merged.Clauses = append(merged.Clauses, f.Clauses...)
		merged.Decls = append(merged.Decls, f.Decls...)
	}
	program, err := analysis.AnalyzeOneUnit(merged, nil)
	if err != nil {
		return &SourceError{Stage: StageAnalysis, Err: err}
	}

	e.fragments = append(e.fragments, unit)
	e.program = program
	e.symbols = make(map[string]ast.PredicateSym, len(program.Decls))
	e.decls = make(map[string]*ast.Decl, len(program.Decls))
	for sym, decl := range program.Decls {
		e.symbols[sym.Symbol] = sym
		e.decls[sym.Symbol] = decl
	}
	return nil
}

// Insert adds facts without evaluating rules.
func (e *Engine) Insert(facts ...Fact) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.program == nil {
		return fmt.Errorf("no program loaded")
	}
	for _, f := range facts {
		if e.config.FactLimit > 0 && e.inserted >= e.config.FactLimit {
			return fmt.Errorf("fact limit exceeded: %d", e.config.FactLimit)
		}
		atom, err := e.atom(f)
		if err != nil {
			return err
		}
		if e.store.Add(atom) {
			e.inserted++
		}
	}
	return nil
}

func (e *Engine) atom(f Fact) (ast.Atom, error) {
	sym, ok := e.symbols[f.Predicate]
	if !ok {
		return ast.Atom{}, fmt.Errorf("predicate %s is not declared", f.Predicate)
	}
	if len(f.Args) != sym.Arity {
		return ast.Atom{}, fmt.Errorf("predicate %s expects %d args, got %d", f.Predicate, sym.Arity, len(f.Args))
	}
	terms := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		term, err := toTerm(arg, boundOf(e.decls[f.Predicate], i))
		if err != nil {
			return ast.Atom{}, fmt.Errorf("predicate %s arg %d: %w", f.Predicate, i, err)
		}
		terms[i] = term
	}
	return ast.Atom{Predicate: sym, Args: terms}, nil
}

// boundOf returns the type symbol ("/name", "/string", ...) the first bound
// declaration gives argument i, or "" when there is none.
func boundOf(decl *ast.Decl, i int) string {
	if decl == nil || len(decl.Bounds) == 0 || i >= len(decl.Bounds[0].Bounds) {
		return ""
	}
	if c, ok := decl.Bounds[0].Bounds[i].(ast.Constant); ok {
		return c.Symbol
	}
	return ""
}

// toTerm converts a Go value to a constant. Strings become names when the
// argument is bound to /name or the value already starts with "/".
func toTerm(v any, bound string) (ast.BaseTerm, error) {
	switch v := v.(type) {
	case string:
		switch {
		case bound == "/string":
			return ast.String(v), nil
		case bound == "/name" && !strings.HasPrefix(v, "/"):
			return ast.Name("/" + v)
		case strings.HasPrefix(v, "/"):
			return ast.Name(v)
		}
		return ast.String(v), nil
	case int64:
		return ast.Number(v), nil
	case int:
		return ast.Number(int64(v)), nil
	case float64:
		return ast.Float64(v), nil
	case bool:
		if v {
			return ast.TrueConstant, nil
		}
		return ast.FalseConstant, nil
	case ast.BaseTerm:
		return v, nil
	}
	return nil, fmt.Errorf("unsupported argument type %T", v)
}

// Evaluate runs the rules to a fixpoint. Mangle evaluation cannot be
// interrupted: on cancellation Evaluate returns at once, the evaluation
// finishes in the background, and the engine must not be used again.
func (e *Engine) Evaluate(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.program == nil {
			done <- fmt.Errorf("no program loaded")
			return
		}
		_, err := mengine.EvalProgramWithStats(e.program, e.store)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return Stats{}, fmt.Errorf("evaluate program: %w", err)
		}
		e.mu.Lock()
		stats := Stats{TotalFacts: e.store.EstimateFactCount(), Duration: time.Since(start)}
		e.mu.Unlock()
		e.logger.Debug("mangle evaluation complete",
			zap.Int("facts", stats.TotalFacts),
			zap.Duration("duration", stats.Duration))
		return stats, nil
	case <-ctx.Done():
		return Stats{}, fmt.Errorf("evaluation interrupted after %v: %w", time.Since(start), ctx.Err())
	}
}

// Query returns every fact of predicate, ordered by their Datalog text.
func (e *Engine) Query(predicate string) ([]Fact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sym, ok := e.symbols[predicate]
	if !ok {
		return nil, fmt.Errorf("predicate %s is not declared", predicate)
	}
	var out []Fact
	err := e.store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
		args := make([]any, len(atom.Args))
		for i, term := range atom.Args {
			args[i] = fromTerm(term)
		}
		out = append(out, Fact{Predicate: predicate, Args: args})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// Predicates lists the declared predicate names, sorted.
func (e *Engine) Predicates() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.symbols))
	for name := range e.symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func fromTerm(term ast.BaseTerm) any {
	c, ok := term.(ast.Constant)
	if !ok {
		return fmt.Sprint(term)
	}
	switch c.Type {
	case ast.StringType, ast.NameType, ast.BytesType:
		return c.Symbol
	case ast.NumberType:
		return c.NumValue
	case ast.Float64Type:
		return math.Float64frombits(uint64(c.NumValue))
	}
	return c.String()
}
