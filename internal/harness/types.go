package harness

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step met its expectations.
	Pass bool `json:"pass"`

	// Steps holds what each step produced, in scenario order.
	Steps []StepResult `json:"steps"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// StepResult is what one step produced.
type StepResult struct {
	Name string `json:"name"`

	// Query is the rendered query expression.
	Query string `json:"query,omitempty"`

	// SQL is the statement text keyed by dialect name.
	SQL map[string]string `json:"sql,omitempty"`

	// Args are the bind arguments of the first dialect's statement.
	Args []any `json:"args,omitempty"`

	Rows    [][]any `json:"rows,omitempty"`
	Matched []any   `json:"matched,omitempty"`

	// Error is the error code, or message, translation or compilation
	// failed with.
	Error string `json:"error,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepResult{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
