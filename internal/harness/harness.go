package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/capture"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/connectivity"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/engine"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/store"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/testutil"
)

// AutoPassTimeout bounds the wait for a drain started by a reconnect.
const AutoPassTimeout = 5 * time.Second

// Harness is the scenario execution engine. It wires the real store, router,
// engine and reporter to a FakeRemote with deterministic ids and clock.
type Harness struct {
	store    *store.Store
	remote   *testutil.FakeRemote
	monitor  *connectivity.Monitor
	engine   *engine.Engine
	router   *engine.Router
	reporter *engine.Reporter
	ids      *capture.SequentialIDs
	clock    *testutil.FakeClock
	logger   *slog.Logger
	passes   chan engine.PassSummary

	autoSync   bool
	remoteDown bool

	localIDs map[string]string // alias -> local id
	aliases  map[string]string // local id -> alias
	order    []string          // aliases in capture order
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory database. Expectation and
// assertion failures are reported in the result; the error is non-nil only if
// the scenario could not be executed.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	h, err := newHarness(ctx, st, scenario)
	if err != nil {
		return nil, err
	}
	if h.autoSync {
		stop := engine.AutoSync(ctx, h.monitor, h.reporter)
		defer stop()
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	result.Final, err = h.finalState(ctx)
	if err != nil {
		return nil, err
	}
	for i, a := range scenario.Assertions {
		if err := h.check(a, result.Final); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d] %s: %v", i, a.Type, err))
		}
	}
	return result, nil
}

func newHarness(ctx context.Context, st *store.Store, scenario *Scenario) (*Harness, error) {
	h := &Harness{
		store:    st,
		remote:   testutil.NewFakeRemote(),
		monitor:  connectivity.NewMonitor(scenario.Online),
		ids:      capture.NewSequentialIDs("id"),
		clock:    testutil.NewFakeClock(testutil.Epoch, time.Second),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		passes:   make(chan engine.PassSummary, 16),
		autoSync: scenario.AutoSync,
		localIDs: make(map[string]string),
		aliases:  make(map[string]string),
	}

	h.engine = engine.New(st, h.remote, h.remote,
		engine.WithLogger(h.logger),
		engine.WithClock(h.clock.Now),
		engine.WithPassObserver(func(s engine.PassSummary) { h.passes <- s }),
	)
	h.router = engine.NewRouter(h.engine, st, h.monitor, engine.WithRouterLogger(h.logger))

	var err error
	h.reporter, err = engine.NewReporter(ctx, h.engine, st)
	if err != nil {
		return nil, fmt.Errorf("failed to create reporter: %w", err)
	}
	return h, nil
}

func (h *Harness) execute(ctx context.Context, index int, step Step, result *Result) error {
	kind := step.Kind()
	ev := TraceEvent{Step: kind}

	switch kind {
	case StepCapture:
		h.capture(ctx, index, step, &ev, result)

	case StepOnline, StepOffline:
		changed := h.monitor.Observe(kind == StepOnline)
		if changed && kind == StepOnline && h.autoSync {
			select {
			case s := <-h.passes:
				ev.Pass = h.passTrace("auto", s)
			case <-time.After(AutoPassTimeout):
				return fmt.Errorf("no drain within %s of reconnect", AutoPassTimeout)
			}
			if err := h.waitIdle(); err != nil {
				return err
			}
		}

	case StepRemoteDown, StepRemoteUp:
		h.remoteDown = kind == StepRemoteDown
		h.remote.SetOffline(h.remoteDown)

	case StepFail:
		ev.Record = step.Fail
		localID, ok := h.localIDs[step.Fail]
		if !ok {
			return fmt.Errorf("record %q was not queued", step.Fail)
		}
		if step.On == "upload" {
			h.remote.FailUploadsFor(localID, step.failure())
		} else {
			h.remote.FailCreatesFor(localID, step.failure())
		}

	case StepHeal:
		h.remote.Reset()
		h.remote.SetOffline(h.remoteDown)

	case StepDrain:
		s, started, err := h.reporter.TriggerSync(ctx)
		if err != nil {
			return fmt.Errorf("drain: %w", err)
		}
		if !started {
			return fmt.Errorf("drain: a pass was already running")
		}
		h.discardPasses()
		ev.Pass = h.passTrace("manual", s)

	case StepCorrect:
		ev.Record = step.Correct
		if err := h.correct(ctx, step); err != nil {
			ev.Error = err.Error()
		}

	default:
		return fmt.Errorf("invalid step")
	}

	if ev.Pass != nil && step.Expect != nil {
		h.expectPass(index, step.Expect, ev.Pass, result)
	}
	result.addEvent(ev)
	return nil
}

func (h *Harness) capture(ctx context.Context, index int, step Step, ev *TraceEvent, result *Result) {
	ev.Record = step.Capture

	session := capture.NewSession(step.Collection,
		capture.WithIDGenerator(h.ids),
		capture.WithClock(h.clock.Now),
	)
	if step.Title != "" {
		session.SetTitle(step.Title)
	}
	for k, v := range step.Fields {
		session.SetField(k, v)
	}
	for i := 1; i <= step.Attachments; i++ {
		session.AddAttachment([]byte(fmt.Sprintf("%s-photo-%d", step.Capture, i)), "image/jpeg")
	}

	sub, err := h.router.Submit(ctx, session)
	ev.LocalID = sub.LocalID
	ev.Outcome = string(sub.Outcome)
	ev.RemoteID = sub.RemoteID
	switch {
	case err != nil:
		ev.Error = err.Error()
	case sub.Cause != nil:
		ev.Error = sub.Cause.Error()
	}
	if err == nil {
		h.localIDs[step.Capture] = sub.LocalID
		h.aliases[sub.LocalID] = step.Capture
		h.order = append(h.order, step.Capture)
	}

	if step.Expect != nil && step.Expect.Outcome != "" && step.Expect.Outcome != ev.Outcome {
		result.AddError(fmt.Sprintf("steps[%d] capture %s: expected outcome %s, got %q",
			index, step.Capture, step.Expect.Outcome, ev.Outcome))
	}
}

func (h *Harness) correct(ctx context.Context, step Step) error {
	localID := h.localIDs[step.Correct]
	rec, err := h.store.Get(ctx, localID)
	if err != nil {
		return err
	}
	payload := capture.ClonePayload(rec.Payload)
	for k, v := range step.Fields {
		payload[k] = v
	}
	return h.engine.Correct(ctx, localID, payload)
}

// waitIdle returns once the engine has released its drain flag. Observers run
// before the flag is cleared, so a summary can arrive slightly early.
func (h *Harness) waitIdle() error {
	deadline := time.Now().Add(AutoPassTimeout)
	for h.engine.Draining() {
		if time.Now().After(deadline) {
			return fmt.Errorf("drain still running after %s", AutoPassTimeout)
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

// discardPasses drops summaries already returned by a manual drain.
func (h *Harness) discardPasses() {
	for {
		select {
		case <-h.passes:
		default:
			return
		}
	}
}

func (h *Harness) passTrace(trigger string, s engine.PassSummary) *PassTrace {
	p := &PassTrace{
		Trigger: trigger,
		Synced:  s.Synced,
		Failed:  s.Failed,
		Skipped: s.Skipped,
		Pending: s.Pending,
		Items:   make([]ItemTrace, 0, len(s.Items)),
	}
	for _, it := range s.Items {
		p.Items = append(p.Items, ItemTrace{
			Record:          h.alias(it.LocalID),
			State:           string(it.State),
			RemoteID:        it.RemoteID,
			Error:           it.Error,
			Skipped:         it.Skipped,
			NeedsCorrection: it.NeedsCorrection,
		})
	}
	return p
}

func (h *Harness) expectPass(index int, want *Expect, got *PassTrace, result *Result) {
	check := func(name string, want *int, got int) {
		if want != nil && *want != got {
			result.AddError(fmt.Sprintf("steps[%d] pass: expected %s=%d, got %d", index, name, *want, got))
		}
	}
	check("synced", want.Synced, got.Synced)
	check("failed", want.Failed, got.Failed)
	check("skipped", want.Skipped, got.Skipped)
	check("pending", want.Pending, got.Pending)
}

func (h *Harness) alias(localID string) string {
	if a, ok := h.aliases[localID]; ok {
		return a
	}
	return localID
}

func (h *Harness) finalState(ctx context.Context) (FinalState, error) {
	records, err := h.store.ListAll(ctx)
	if err != nil {
		return FinalState{}, fmt.Errorf("failed to list queue: %w", err)
	}

	final := FinalState{
		Queue:    make([]QueuedRecord, 0, len(records)),
		Entities: []EntityRecord{},
		Uploads:  len(h.remote.SuccessfulCalls(testutil.CallUpload)),
	}
	for _, rec := range records {
		q := QueuedRecord{
			Record:          h.alias(rec.LocalID),
			State:           string(rec.SyncState),
			Attempts:        rec.Attempts,
			Attachments:     len(rec.Attachments),
			NeedsCorrection: rec.NeedsCorrection,
			LastError:       rec.LastError,
		}
		for _, a := range rec.Attachments {
			if a.Uploaded() {
				q.Uploaded++
			}
		}
		final.Queue = append(final.Queue, q)
	}

	creates := h.remote.SuccessfulCalls(testutil.CallCreate)
	final.Creates = len(creates)
	keyOf := make(map[string]string, len(creates))
	for _, c := range creates {
		if _, ok := keyOf[c.Result]; !ok {
			keyOf[c.Result] = c.IdempotencyKey
		}
	}
	for _, ent := range h.remote.Entities() {
		final.Entities = append(final.Entities, EntityRecord{
			ID:          ent.ID,
			Collection:  ent.Collection,
			Record:      h.alias(keyOf[ent.ID]),
			Attachments: countAttachments(ent.Payload[engine.DefaultAttachmentsKey]),
		})
	}
	return final, nil
}

func countAttachments(v any) int {
	switch urls := v.(type) {
	case []string:
		return len(urls)
	case []any:
		return len(urls)
	}
	return 0
}
