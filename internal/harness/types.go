package harness

// TraceEvent records one executed step and what it caused.
type TraceEvent struct {
	Seq      int        `json:"seq"`
	Step     string     `json:"step"`
	Record   string     `json:"record,omitempty"`
	LocalID  string     `json:"local_id,omitempty"`
	Outcome  string     `json:"outcome,omitempty"`
	RemoteID string     `json:"remote_id,omitempty"`
	Error    string     `json:"error,omitempty"`
	Pass     *PassTrace `json:"pass,omitempty"`
}

// PassTrace is a drain pass in the trace. Trigger is "manual" for drain
// steps and "auto" for passes started by a reconnect.
type PassTrace struct {
	Trigger string      `json:"trigger"`
	Synced  int         `json:"synced"`
	Failed  int         `json:"failed"`
	Skipped int         `json:"skipped"`
	Pending int         `json:"pending"`
	Items   []ItemTrace `json:"items"`
}

// ItemTrace is one record within a pass, named by its scenario alias.
type ItemTrace struct {
	Record          string `json:"record"`
	State           string `json:"state"`
	RemoteID        string `json:"remote_id,omitempty"`
	Error           string `json:"error,omitempty"`
	Skipped         bool   `json:"skipped,omitempty"`
	NeedsCorrection bool   `json:"needs_correction,omitempty"`
}

// FinalState is the queue and remote after the last step.
type FinalState struct {
	Queue    []QueuedRecord `json:"queue"`
	Entities []EntityRecord `json:"entities"`
	Uploads  int            `json:"uploads"` // successful upload calls
	Creates  int            `json:"creates"` // successful create calls
}

// QueuedRecord is a record still in the local queue.
type QueuedRecord struct {
	Record          string `json:"record"`
	State           string `json:"state"`
	Attempts        int    `json:"attempts"`
	Attachments     int    `json:"attachments"`
	Uploaded        int    `json:"uploaded"`
	NeedsCorrection bool   `json:"needs_correction"`
	LastError       string `json:"last_error,omitempty"`
}

// EntityRecord is an entity the remote holds, attributed to the capture whose
// local id was its idempotency key.
type EntityRecord struct {
	ID          string `json:"id"`
	Collection  string `json:"collection"`
	Record      string `json:"record"`
	Attachments int    `json:"attachments"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	Final FinalState `json:"final"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addEvent(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}
