package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes the final queue so a failure can be read without rerunning.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Queue    []QueuedRecord
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Queue) > 0 {
		fmt.Fprintf(&buf, "\nFinal queue:\n")
		for i, q := range e.Queue {
			fmt.Fprintf(&buf, "  [%d] %s %s attempts=%d", i+1, q.Record, q.State, q.Attempts)
			if q.NeedsCorrection {
				buf.WriteString(" needs_correction")
			}
			buf.WriteString("\n")
		}
	}
	return buf.String()
}

// check dispatches one assertion against the final state.
func (h *Harness) check(a Assertion, final FinalState) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Queue: final.Queue}
	}

	switch a.Type {
	case AssertQueueDepth:
		if len(final.Queue) != *a.Count {
			return fail(fmt.Sprintf("%d queued", *a.Count), fmt.Sprintf("%d queued", len(final.Queue)))
		}

	case AssertEntityCount:
		n := 0
		for _, ent := range final.Entities {
			if a.Collection == "" || ent.Collection == a.Collection {
				n++
			}
		}
		if n != *a.Count {
			return fail(fmt.Sprintf("%d entities", *a.Count), fmt.Sprintf("%d entities", n))
		}

	case AssertRecordState:
		q, ok := findQueued(final.Queue, a.Record)
		if !ok {
			return fail(fmt.Sprintf("%s in queue", a.Record), "not queued")
		}
		if a.State != "" && q.State != a.State {
			return fail(fmt.Sprintf("%s state %s", a.Record, a.State), q.State)
		}
		if a.NeedsCorrection != nil && q.NeedsCorrection != *a.NeedsCorrection {
			return fail(fmt.Sprintf("%s needs_correction=%t", a.Record, *a.NeedsCorrection),
				fmt.Sprintf("needs_correction=%t", q.NeedsCorrection))
		}

	case AssertRecordSynced:
		if _, ok := findQueued(final.Queue, a.Record); ok {
			return fail(fmt.Sprintf("%s removed from queue", a.Record), "still queued")
		}
		if n := entitiesFor(final.Entities, a.Record); n != 1 {
			return fail(fmt.Sprintf("one entity for %s", a.Record), fmt.Sprintf("%d entities", n))
		}

	case AssertNoDataLoss:
		var lost []string
		for _, alias := range h.order {
			if _, ok := findQueued(final.Queue, alias); ok {
				continue
			}
			if entitiesFor(final.Entities, alias) == 0 {
				lost = append(lost, alias)
			}
		}
		if len(lost) > 0 {
			return fail("every capture queued or created", "lost "+strings.Join(lost, ", "))
		}

	case AssertCreatedOnce:
		var dup []string
		for _, alias := range h.order {
			if entitiesFor(final.Entities, alias) > 1 {
				dup = append(dup, alias)
			}
		}
		if len(dup) > 0 {
			return fail("at most one entity per capture", "duplicated "+strings.Join(dup, ", "))
		}

	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
	return nil
}

func findQueued(queue []QueuedRecord, alias string) (QueuedRecord, bool) {
	for _, q := range queue {
		if q.Record == alias {
			return q, true
		}
	}
	return QueuedRecord{}, false
}

func entitiesFor(entities []EntityRecord, alias string) int {
	n := 0
	for _, ent := range entities {
		if ent.Record == alias {
			n++
		}
	}
	return n
}
