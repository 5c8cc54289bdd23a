package harness

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/qexp/internal/dialect"
	"github.com/roach88/qexp/internal/inmem"
	"github.com/roach88/qexp/internal/kernel"
	"github.com/roach88/qexp/internal/mapping"
	"github.com/roach88/qexp/internal/qerr"
	"github.com/roach88/qexp/internal/querydoc"
	"github.com/roach88/qexp/internal/store"
)

// Harness is the scenario execution engine. A Harness runs one scenario.
type Harness struct {
	repo      *mapping.Repository
	logger    *slog.Logger
	dialects  []string
	compilers map[string]*kernel.Compiler
	store     *store.Store
	objects   []map[string]any
}

// Option configures a run.
type Option func(*Harness)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// WithRepository sets the mapping used when the scenario names none.
func WithRepository(repo *mapping.Repository) Option {
	return func(h *Harness) {
		h.repo = repo
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Expectations that are not met are reported in the result; the error
// is for scenarios that cannot run at all.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}

	if scenario.Mapping != "" {
		repo, err := mapping.LoadFile(scenario.Mapping)
		if err != nil {
			return nil, fmt.Errorf("failed to load mapping: %w", err)
		}
		h.repo = repo
	}
	if h.repo == nil {
		return nil, fmt.Errorf("scenario %s names no mapping", scenario.Name)
	}

	h.dialects = scenario.dialects()
	h.compilers = make(map[string]*kernel.Compiler, len(h.dialects)+1)
	names := h.dialects
	if len(scenario.Fixtures) > 0 {
		names = append(names[:len(names):len(names)], dialect.DefaultName)
	}
	for _, name := range names {
		if h.compilers[name] != nil {
			continue
		}
		dict, err := dialect.Lookup(name)
		if err != nil {
			return nil, err
		}
		c, err := kernel.NewCompiler(h.repo, dict, kernel.WithLogger(h.logger))
		if err != nil {
			return nil, err
		}
		h.compilers[name] = c
	}

	if len(scenario.Fixtures) > 0 {
		st, err := store.Open(":memory:", store.WithLogger(h.logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		defer st.Close()
		if err := st.CreateSchema(ctx, h.repo); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
		if err := st.Insert(ctx, scenario.Fixtures); err != nil {
			return nil, fmt.Errorf("failed to load fixtures: %w", err)
		}
		h.store = st
	}
	h.objects = scenario.Objects

	result := NewResult()
	translator := querydoc.NewTranslator(h.repo)
	for i := range scenario.Steps {
		step := &scenario.Steps[i]
		sr := h.runStep(ctx, translator, step)
		result.Steps = append(result.Steps, *sr)
		for _, failure := range EvaluateExpect(step, sr) {
			result.AddError(failure.Error())
		}
		h.logger.Debug("step completed", "scenario", scenario.Name, "step", step.Name, "error", sr.Error)
	}

	h.logger.Info("scenario completed", "scenario", scenario.Name, "steps", len(result.Steps), "pass", result.Pass)
	return result, nil
}

// runStep translates, compiles, executes and evaluates one step. The
// first error ends the step and is recorded in its result.
func (h *Harness) runStep(ctx context.Context, translator *querydoc.Translator, step *Step) *StepResult {
	sr := &StepResult{Name: step.Name}
	params := bindParams(step)

	q, err := translator.Query(&step.Query)
	if err != nil {
		sr.Error = errorCode(err)
		return sr
	}
	sr.Query = q.String()

	sr.SQL = make(map[string]string, len(h.dialects))
	for i, name := range h.dialects {
		st, err := h.compilers[name].Compile(q, params)
		if err != nil {
			sr.Error = errorCode(err)
			return sr
		}
		sr.SQL[name] = st.SQL
		if i == 0 {
			sr.Args = st.Args
		}
	}

	if h.store != nil {
		st, err := h.compilers[dialect.DefaultName].Compile(q, params)
		if err != nil {
			sr.Error = errorCode(err)
			return sr
		}
		res, err := h.store.Execute(ctx, st)
		if err != nil {
			sr.Error = err.Error()
			return sr
		}
		sr.Rows = res.Rows
	}

	if step.Expect != nil && step.Expect.Matched != nil {
		f, err := inmem.New(q.Candidate, q.Alias, q.Filter, inmem.WithLogger(h.logger))
		if err != nil {
			sr.Error = errorCode(err)
			return sr
		}
		matched, err := f.Select(h.objects, params)
		if err != nil {
			sr.Error = errorCode(err)
			return sr
		}
		sr.Matched = make([]any, 0, len(matched))
		for _, obj := range matched {
			sr.Matched = append(sr.Matched, obj["id"])
		}
	}
	return sr
}

func bindParams(step *Step) map[string]any {
	out := make(map[string]any, len(step.Query.Params)+len(step.Params))
	for k, v := range step.Query.Params {
		out[k] = v
	}
	for k, v := range step.Params {
		out[k] = v
	}
	return out
}

// errorCode reports an error by its code when it has one.
func errorCode(err error) string {
	if code := qerr.CodeOf(err); code != "" {
		return string(code)
	}
	return err.Error()
}
