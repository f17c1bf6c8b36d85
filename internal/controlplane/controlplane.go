// Package controlplane owns the process-wide task registry: the
// canonical state for every task a local supervisor is tracking, serving
// the operations the HTTP API in ./api exposes.
package controlplane

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/tallr-dev/tallrd/internal/log"
)

// ControlPlane is the process-wide entry point for task lifecycle
// management, backing every endpoint in ./api.
type ControlPlane interface {
	// Upsert creates a task if spec.ID is unset or unknown, or replaces
	// an existing task's metadata (agent, repoPath, title, preferredIde)
	// while preserving its state and history.
	Upsert(ctx context.Context, spec TaskSpec) (*Task, error)

	// ApplyDetection feeds a DetectionEvent to the named task's actor.
	// This is the path used by the PTY host's three detectors and by
	// POST /v1/tasks/state for hook-originated events.
	ApplyDetection(ctx context.Context, event DetectionEvent) error

	// MarkDone force-transitions a task straight to DONE, for callers
	// (e.g. the hook bridge on a Stop event) that observed completion
	// out of band from the normal detection pipeline.
	MarkDone(ctx context.Context, id TaskID, details string) (*Task, error)

	// SetPinned sets a task's pinned flag, used by the UI to keep a
	// task visible regardless of its state's default sort/prune rules.
	SetPinned(ctx context.Context, id TaskID, pinned bool) (*Task, error)

	// Get retrieves a task by ID.
	Get(ctx context.Context, id TaskID) (*Task, error)

	// List returns tasks matching q.
	List(ctx context.Context, q ListQuery) ([]*Task, error)

	// Remove deletes a task (used when its process is known gone and
	// the UI has acknowledged the terminal state).
	Remove(ctx context.Context, id TaskID) error

	// Notify publishes a desktop notification for id's task, retrying
	// with exponential backoff while no subscriber is connected to
	// receive it. Returns ErrNotifyDelivery if every attempt fails.
	Notify(ctx context.Context, id TaskID, n Notification) error

	// Registry returns the underlying task registry for direct reads.
	Registry() Registry

	// Subscribe returns a channel of every published ControlPlaneEvent.
	// The returned cancel func must be called to release resources.
	Subscribe(ctx context.Context) (<-chan ControlPlaneEvent, func())

	// SubscribeFiltered is Subscribe narrowed by filter.
	SubscribeFiltered(ctx context.Context, filter EventFilter) (<-chan ControlPlaneEvent, func())

	// Shutdown stops the tracker's actors and closes the event bus.
	Shutdown(ctx context.Context) error
}

// Config wires a ControlPlane's dependencies.
type Config struct {
	// Registry stores tasks. Defaults to NewInMemoryRegistry() if nil.
	Registry Registry
	// Tracer instruments accepted transitions. Defaults to a no-op
	// tracer if nil (tracing is opt-in; see internal/tracing).
	Tracer trace.Tracer
}

type controlPlane struct {
	registry Registry
	bus      *EventBus
	tracker  *Tracker
}

// New creates a ControlPlane from cfg, defaulting unset fields.
func New(cfg Config) ControlPlane {
	registry := cfg.Registry
	if registry == nil {
		registry = NewInMemoryRegistry()
	}
	bus := NewEventBus()
	tracker := NewTracker(registry, bus, cfg.Tracer)

	return &controlPlane{
		registry: registry,
		bus:      bus,
		tracker:  tracker,
	}
}

func (c *controlPlane) Upsert(ctx context.Context, spec TaskSpec) (*Task, error) {
	if spec.ID != "" {
		if existing, err := c.registry.Get(ctx, spec.ID); err == nil {
			existing.Agent = spec.Agent
			existing.RepoPath = spec.RepoPath
			existing.Title = spec.Title
			existing.PreferredIDE = spec.PreferredIDE
			existing.UpdatedAt = time.Now()
			if err := c.registry.Put(ctx, existing); err != nil {
				return nil, err
			}
			c.bus.Publish(NewControlPlaneEvent(EventTaskUpserted, existing))
			return existing, nil
		}
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	task := NewTask(spec)
	if err := c.registry.Put(ctx, task); err != nil {
		return nil, err
	}
	log.Info(log.CatState, "task created", "taskId", task.ID, "agent", task.Agent)
	c.bus.Publish(NewControlPlaneEvent(EventTaskUpserted, task))
	return task, nil
}

func (c *controlPlane) ApplyDetection(ctx context.Context, event DetectionEvent) error {
	if event.TaskID == "" {
		return fmt.Errorf("detection event missing task id")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return c.tracker.Submit(ctx, event)
}

func (c *controlPlane) MarkDone(ctx context.Context, id TaskID, details string) (*Task, error) {
	task, err := c.registry.Update(ctx, id, func(task *Task) error {
		if task.State.IsTerminal() {
			return nil
		}
		task.applyTransition(StateTransition{
			TaskID:          id,
			From:            task.State,
			To:              StateDone,
			Timestamp:       time.Now(),
			DetectionMethod: SourceHook,
			Confidence:      ConfidenceHigh,
			Details:         details,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.bus.Publish(NewControlPlaneEvent(EventTaskDone, task))
	return task, nil
}

func (c *controlPlane) SetPinned(ctx context.Context, id TaskID, pinned bool) (*Task, error) {
	task, err := c.registry.Update(ctx, id, func(task *Task) error {
		task.Pinned = pinned
		task.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.bus.Publish(NewControlPlaneEvent(EventTaskPinned, task))
	return task, nil
}

func (c *controlPlane) Get(ctx context.Context, id TaskID) (*Task, error) {
	return c.registry.Get(ctx, id)
}

func (c *controlPlane) List(ctx context.Context, q ListQuery) ([]*Task, error) {
	return c.registry.List(ctx, q)
}

func (c *controlPlane) Remove(ctx context.Context, id TaskID) error {
	task, err := c.registry.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := c.registry.Remove(ctx, id); err != nil {
		return err
	}
	c.bus.Publish(NewControlPlaneEvent(EventTaskRemoved, task))
	return nil
}

func (c *controlPlane) Notify(ctx context.Context, id TaskID, n Notification) error {
	var task *Task
	if id != "" {
		t, err := c.registry.Get(ctx, id)
		if err != nil {
			return err
		}
		task = t
	}

	deliver := func() (struct{}, error) {
		c.bus.Publish(NewControlPlaneEvent(EventTaskNotify, task).WithNotification(n))
		if c.bus.SubscriberCount() == 0 {
			return struct{}{}, fmt.Errorf("no subscribers connected")
		}
		return struct{}{}, nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 10 * time.Millisecond
	_, err := backoff.Retry(ctx, deliver,
		backoff.WithMaxTries(3),
		backoff.WithBackOff(eb),
	)
	if err != nil {
		log.Warn(log.CatAPI, "notify delivery exhausted retries", "taskId", id, "error", err)
		return fmt.Errorf("%w: %w", ErrNotifyDelivery, err)
	}
	return nil
}

func (c *controlPlane) Registry() Registry {
	return c.registry
}

func (c *controlPlane) Subscribe(ctx context.Context) (<-chan ControlPlaneEvent, func()) {
	return c.SubscribeFiltered(ctx, EventFilter{})
}

func (c *controlPlane) SubscribeFiltered(ctx context.Context, filter EventFilter) (<-chan ControlPlaneEvent, func()) {
	subCtx, cancel := context.WithCancel(ctx)
	return c.bus.SubscribeFiltered(subCtx, filter), cancel
}

func (c *controlPlane) Shutdown(_ context.Context) error {
	c.tracker.Stop()
	c.bus.Close()
	return nil
}
