package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/syncerr"
)

// Scenario is a scripted sequence of captures, connectivity changes and
// remote failures, followed by assertions on the final queue and remote.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Online is the initial reachability reported by the monitor.
	Online bool `yaml:"online,omitempty"`

	// AutoSync drains on every unreachable-to-reachable transition, as the
	// watch command does.
	AutoSync bool `yaml:"auto_sync,omitempty"`

	// Steps run in order. Each step sets exactly one action field.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scripted action.
type Step struct {
	// Capture submits a new capture and names it for later steps.
	Capture     string         `yaml:"capture,omitempty"`
	Collection  string         `yaml:"collection,omitempty"`
	Title       string         `yaml:"title,omitempty"`
	Fields      map[string]any `yaml:"fields,omitempty"`
	Attachments int            `yaml:"attachments,omitempty"`

	// Online reports a reachability observation to the monitor.
	Online *bool `yaml:"online,omitempty"`

	// Remote is "down" (every call fails with NETWORK_ERROR) or "up".
	Remote string `yaml:"remote,omitempty"`

	// Fail makes the named record's upload or create calls fail with Code.
	Fail    string `yaml:"fail,omitempty"`
	On      string `yaml:"on,omitempty"` // "upload" | "create"
	Code    string `yaml:"code,omitempty"`
	Message string `yaml:"message,omitempty"`

	// Heal clears all failure rules. A remote that is down stays down.
	Heal bool `yaml:"heal,omitempty"`

	// Drain runs one manual sync pass.
	Drain bool `yaml:"drain,omitempty"`

	// Correct replaces fields of the named record's payload and requeues it.
	Correct string `yaml:"correct,omitempty"`

	// Expect validates the step outcome. Outcome applies to capture steps;
	// the counters apply to the pass run by a drain or online step.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is a subset match on a step outcome.
type Expect struct {
	Outcome string `yaml:"outcome,omitempty"`
	Synced  *int   `yaml:"synced,omitempty"`
	Failed  *int   `yaml:"failed,omitempty"`
	Skipped *int   `yaml:"skipped,omitempty"`
	Pending *int   `yaml:"pending,omitempty"`
}

// Step kinds as they appear in the trace.
const (
	StepCapture    = "capture"
	StepOnline     = "online"
	StepOffline    = "offline"
	StepRemoteDown = "remote_down"
	StepRemoteUp   = "remote_up"
	StepFail       = "fail"
	StepHeal       = "heal"
	StepDrain      = "drain"
	StepCorrect    = "correct"
)

// Kind returns the step kind, or "" if no action or more than one is set.
func (s Step) Kind() string {
	var kinds []string
	if s.Capture != "" {
		kinds = append(kinds, StepCapture)
	}
	if s.Online != nil {
		if *s.Online {
			kinds = append(kinds, StepOnline)
		} else {
			kinds = append(kinds, StepOffline)
		}
	}
	switch s.Remote {
	case "down":
		kinds = append(kinds, StepRemoteDown)
	case "up":
		kinds = append(kinds, StepRemoteUp)
	}
	if s.Fail != "" {
		kinds = append(kinds, StepFail)
	}
	if s.Heal {
		kinds = append(kinds, StepHeal)
	}
	if s.Drain {
		kinds = append(kinds, StepDrain)
	}
	if s.Correct != "" {
		kinds = append(kinds, StepCorrect)
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Count is the expected number (queue_depth, entity_count).
	Count *int `yaml:"count,omitempty"`

	// Collection restricts entity_count to one collection.
	Collection string `yaml:"collection,omitempty"`

	// Record names a capture (record_state, record_synced).
	Record string `yaml:"record,omitempty"`

	// State and NeedsCorrection are matched by record_state.
	State           string `yaml:"state,omitempty"`
	NeedsCorrection *bool  `yaml:"needs_correction,omitempty"`
}

// Assertion type constants.
const (
	AssertQueueDepth   = "queue_depth"
	AssertEntityCount  = "entity_count"
	AssertRecordState  = "record_state"
	AssertRecordSynced = "record_synced"
	AssertNoDataLoss   = "no_data_loss"
	AssertCreatedOnce  = "created_once"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and that every record a step or
// assertion names was captured by an earlier step.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	captured := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(step, captured); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, captured); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step, captured map[string]bool) error {
	kind := step.Kind()
	if kind == "" {
		return fmt.Errorf("exactly one of capture, online, remote, fail, heal, drain, correct is required")
	}

	switch kind {
	case StepCapture:
		if captured[step.Capture] {
			return fmt.Errorf("record %q captured twice", step.Capture)
		}
		if step.Collection == "" {
			return fmt.Errorf("capture %q: collection is required", step.Capture)
		}
		if step.Attachments < 0 {
			return fmt.Errorf("capture %q: attachments must be non-negative", step.Capture)
		}
		captured[step.Capture] = true
	case StepFail:
		if !captured[step.Fail] {
			return fmt.Errorf("fail: unknown record %q", step.Fail)
		}
		if step.On != "upload" && step.On != "create" {
			return fmt.Errorf("fail: on must be upload or create, got %q", step.On)
		}
		if step.Code == "" {
			return fmt.Errorf("fail: code is required")
		}
	case StepCorrect:
		if !captured[step.Correct] {
			return fmt.Errorf("correct: unknown record %q", step.Correct)
		}
	}

	if step.Remote != "" && step.Remote != "down" && step.Remote != "up" {
		return fmt.Errorf("remote must be down or up, got %q", step.Remote)
	}
	if step.Expect != nil && step.Expect.Outcome != "" && kind != StepCapture {
		return fmt.Errorf("expect.outcome only applies to capture steps")
	}
	return nil
}

func validateAssertion(a Assertion, captured map[string]bool) error {
	switch a.Type {
	case AssertQueueDepth, AssertEntityCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("%s: non-negative count is required", a.Type)
		}
	case AssertRecordState:
		if !captured[a.Record] {
			return fmt.Errorf("%s: unknown record %q", a.Type, a.Record)
		}
		if a.State == "" && a.NeedsCorrection == nil {
			return fmt.Errorf("%s: state or needs_correction is required", a.Type)
		}
	case AssertRecordSynced:
		if !captured[a.Record] {
			return fmt.Errorf("%s: unknown record %q", a.Type, a.Record)
		}
	case AssertNoDataLoss, AssertCreatedOnce:
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// failure builds the error a fail step injects.
func (s Step) failure() error {
	return syncerr.New(syncerr.Code(s.Code), "remote."+s.On, s.Message)
}
