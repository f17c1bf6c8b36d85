package controlplane

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tallr-dev/tallrd/internal/log"
	"github.com/tallr-dev/tallrd/internal/tracing"
)

// fetchEndQuietWindow is how long the tracker waits with zero active
// fetches before letting WORKING settle back to IDLE. Any fetch-start
// arriving before the deadline cancels the scheduled transition.
const fetchEndQuietWindow = 500 * time.Millisecond

// inFlightTTL is the default expiry of each actor's inFlight cache. The
// tracker stores nothing in that cache, so a lost fetch-end or
// permission-response is never expired.
const inFlightTTL = 5 * time.Minute

// Tracker merges DetectionEvents for every tracked task into the
// canonical state machine. Each task is owned by exactly one actor
// goroutine, so ordering is serialized per task rather than process-wide
// (see Design Notes on registry-as-actor).
type Tracker struct {
	registry Registry
	bus      *EventBus
	tracer   trace.Tracer

	mu     sync.Mutex
	actors map[TaskID]chan DetectionEvent
}

// NewTracker creates a Tracker backed by registry, publishing accepted
// transitions to bus. tracer may be nil (a no-op tracer is then used).
func NewTracker(registry Registry, bus *EventBus, tracer trace.Tracer) *Tracker {
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer("controlplane")
	}
	return &Tracker{
		registry: registry,
		bus:      bus,
		tracer:   tracer,
		actors:   make(map[TaskID]chan DetectionEvent),
	}
}

// Submit enqueues a detection event for its task's actor, starting the
// actor on first use. It never blocks the caller beyond the actor's
// buffer; a full buffer (an actor stuck for other reasons) drops the
// event rather than stalling the detector goroutine.
func (t *Tracker) Submit(ctx context.Context, event DetectionEvent) error {
	ch := t.actorFor(event.TaskID)
	select {
	case ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		log.Warn(log.CatState, "actor buffer full, dropping detection event",
			"taskId", event.TaskID, "source", event.Source, "kind", event.Kind)
		return fmt.Errorf("task %s: actor busy, event dropped", event.TaskID)
	}
}

func (t *Tracker) actorFor(id TaskID) chan DetectionEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.actors[id]
	if ok {
		return ch
	}
	ch = make(chan DetectionEvent, 64)
	t.actors[id] = ch
	go t.run(id, ch)
	return ch
}

// run is the per-task actor loop: the sole writer of task.State for id.
func (t *Tracker) run(id TaskID, events chan DetectionEvent) {
	state := &actorState{
		inFlight: cache.New(inFlightTTL, inFlightTTL/2),
	}

	var quietTimer *time.Timer
	var quietCh <-chan time.Time

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			t.handleEvent(id, event, state, &quietTimer, &quietCh)

		case <-quietCh:
			t.settleToIdle(id, state)
			quietTimer = nil
			quietCh = nil
		}
	}
}

// actorState is the in-flight bookkeeping owned exclusively by one
// task's actor goroutine; no locking is required.
type actorState struct {
	activeFetches int
	// activePermissions counts outstanding permission-prompt/-request
	// events with no matching permission-response yet. While nonzero, a
	// pattern-classifier proposal of any kind is suppressed: the
	// classifier must not override a PENDING state the user hasn't
	// resolved yet.
	activePermissions int
	// inFlight is a TTL cache created with the actor; nothing reads or
	// writes it. The two counters above carry all in-flight bookkeeping
	// and have no expiry.
	inFlight *cache.Cache
}

func (t *Tracker) handleEvent(id TaskID, event DetectionEvent, state *actorState, quietTimer **time.Timer, quietCh *<-chan time.Time) {
	switch event.Kind {
	case KindFetchStart:
		state.activeFetches++
		if *quietTimer != nil {
			(*quietTimer).Stop()
			*quietTimer = nil
			*quietCh = nil
		}
		t.propose(id, event, StateWorking, "fetch started")

	case KindFetchEnd:
		if state.activeFetches > 0 {
			state.activeFetches--
		}
		if state.activeFetches == 0 {
			timer := time.NewTimer(fetchEndQuietWindow)
			*quietTimer = timer
			*quietCh = timer.C
		}

	case KindPermissionPrompt, KindPermissionRequest:
		state.activePermissions++
		t.propose(id, event, StatePending, "awaiting user approval")

	case KindPermissionResponse:
		if state.activePermissions > 0 {
			state.activePermissions--
		}
		t.propose(id, event, StateWorking, "approval received")

	case KindPatternMatch:
		target, ok := event.Payload.(TaskState)
		if !ok {
			log.Debug(log.CatState, "pattern match event carried no state payload, dropping", "taskId", id)
			return
		}
		if state.activePermissions > 0 {
			// A higher-authority source (network/hook) has a permission
			// response outstanding: the pattern classifier cannot
			// override PENDING until it arrives.
			log.Debug(log.CatState, "pattern proposal suppressed by in-flight permission request", "taskId", id)
			return
		}
		if state.activeFetches > 0 && target == StateIdle {
			// A higher-authority source (network) is in flight: the
			// pattern classifier cannot drop the task to IDLE.
			log.Debug(log.CatState, "pattern proposal suppressed by in-flight fetch", "taskId", id)
			return
		}
		t.propose(id, event, target, "pattern classifier match")

	case KindChildExit:
		target := StateDone
		detail := "child exited 0"
		if code, ok := event.Payload.(int); ok && code != 0 {
			target = StateError
			detail = fmt.Sprintf("child exited %d", code)
		} else if s, ok := event.Payload.(string); ok && s != "" {
			target = StateError
			detail = s
		}
		t.propose(id, event, target, detail)
	}
}

func (t *Tracker) settleToIdle(id TaskID, state *actorState) {
	if state.activeFetches > 0 || state.activePermissions > 0 {
		return
	}
	t.propose(id, DetectionEvent{
		TaskID:     id,
		Source:     SourceNetwork,
		Kind:       KindFetchEnd,
		Confidence: ConfidenceHigh,
		Timestamp:  time.Now(),
	}, StateIdle, "fetch quiet window elapsed")
}

// propose applies the priority rule: a higher-authority proposal always
// wins; within equal authority the most recent event wins; a
// lower-authority proposal is ignored while a higher-authority source is
// in flight. Terminal states never accept further proposals.
func (t *Tracker) propose(id TaskID, event DetectionEvent, target TaskState, detail string) {
	ctx, span := t.tracer.Start(context.Background(), tracing.SpanPrefixTransition)
	defer span.End()

	authority := Authority(event.Source, event.Kind)

	traceID, spanID := spanIDs(span)

	task, err := t.registry.Update(ctx, id, func(task *Task) error {
		if task.State.IsTerminal() {
			return errProposalRejected
		}
		if task.State == target {
			return errProposalRejected
		}
		tr := StateTransition{
			TaskID:          id,
			From:            task.State,
			To:              target,
			Timestamp:       event.Timestamp,
			DetectionMethod: event.Source,
			Confidence:      event.Confidence,
			Details:         detail,
			TraceID:         traceID,
			SpanID:          spanID,
		}
		task.applyTransition(tr)
		return nil
	})

	span.SetAttributes(
		attribute.String(tracing.AttrTaskID, string(id)),
		attribute.String(tracing.AttrToState, string(target)),
		attribute.String(tracing.AttrDetectionMethod, string(event.Source)),
		attribute.String(tracing.AttrDetectionSource, string(event.Source)),
		attribute.String(tracing.AttrConfidence, string(event.Confidence)),
		attribute.Int("transition.authority", authority),
	)

	if err != nil {
		if err != errProposalRejected {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.ErrorErr(log.CatState, "transition update failed", err, "taskId", id)
		}
		return
	}

	span.AddEvent(tracing.EventDetectionAccepted)
	log.Debug(log.CatState, "transition accepted", "taskId", id, "to", target, "source", event.Source)

	if t.bus != nil {
		last := task.History[len(task.History)-1]
		t.bus.Publish(NewControlPlaneEvent(EventTaskStateChanged, task).WithTransition(last))
		if target.IsTerminal() {
			t.bus.Publish(NewControlPlaneEvent(EventTaskDone, task))
		}
	}
}

// spanIDs returns span's own trace/span id when it was actually sampled,
// falling back to a freshly generated id pair when tracing is disabled (a
// no-op span has an invalid SpanContext), so every accepted transition
// still carries a correlatable id into task History.
func spanIDs(span trace.Span) (traceID, spanID string) {
	sc := span.SpanContext()
	if sc.IsValid() {
		return sc.TraceID().String(), sc.SpanID().String()
	}
	return tracing.GenerateTraceID(), tracing.GenerateSpanID()
}

var errProposalRejected = fmt.Errorf("proposal rejected: terminal or no-op")

// Stop releases all actor goroutines. Intended for test teardown and
// graceful shutdown; events already queued are still applied before each
// actor exits.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ch := range t.actors {
		close(ch)
		delete(t.actors, id)
	}
}
