package harness

// TraceEvent records one applied step.
type TraceEvent struct {
	// Seq is the session sequence number; zero for add_rule, which is not
	// a journaled operation.
	Seq   int64  `json:"seq"`
	Op    string `json:"op"`
	Args  string `json:"args,omitempty"`
	Fact  string `json:"fact,omitempty"`
	Fired int    `json:"fired,omitempty"`
	Error string `json:"error,omitempty"`
}

// Snapshot is the state compared against golden files.
type Snapshot struct {
	Scenario string       `json:"scenario"`
	Session  string       `json:"session"`
	Trace    []TraceEvent `json:"trace"`
	Facts    []string     `json:"facts"`
	Agenda   []string     `json:"agenda"`
	Journal  int          `json:"journal"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step behaved as expected and every assertion
	// held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors contains step and assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Fired is the total number of rule firings across run steps.
	Fired int `json:"fired"`

	// Snapshot is the final state.
	Snapshot *Snapshot `json:"snapshot"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds an error message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a trace event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
	r.Fired += ev.Fired
}
