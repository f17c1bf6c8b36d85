// Package controlplane holds the Task/Project aggregate model and the
// state tracker that merges detection events from the PTY host's three
// cooperating sources (network interception, permission hooks, text
// pattern classification) into a single lifecycle state per task.
package controlplane

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskID uniquely identifies a supervised agent invocation.
type TaskID string

// NewTaskID generates a random TaskID.
func NewTaskID() TaskID {
	return TaskID(uuid.NewString())
}

// IsValid reports whether the ID is a well-formed UUID.
func (id TaskID) IsValid() bool {
	_, err := uuid.Parse(string(id))
	return err == nil
}

func (id TaskID) String() string {
	return string(id)
}

// ProjectID groups tasks that share a working directory root.
type ProjectID string

func (id ProjectID) String() string {
	return string(id)
}

// Agent identifies which CLI coding agent a task wraps.
type Agent string

const (
	AgentClaude  Agent = "claude"
	AgentGemini  Agent = "gemini"
	AgentCodex   Agent = "codex"
	AgentGeneric Agent = "generic"
)

// TaskState is the lifecycle state of a supervised agent.
type TaskState string

const (
	StateIdle    TaskState = "IDLE"
	StateWorking TaskState = "WORKING"
	StatePending TaskState = "PENDING"
	StateDone    TaskState = "DONE"
	StateError   TaskState = "ERROR"
)

// SortPriority returns the task list's urgency ordering: ascending value
// means higher urgency (PENDING sorts before WORKING before IDLE before
// the terminal states).
func (s TaskState) SortPriority() int {
	switch s {
	case StatePending:
		return 0
	case StateWorking:
		return 1
	case StateIdle:
		return 2
	case StateDone:
		return 3
	case StateError:
		return 4
	default:
		return 5
	}
}

// IsTerminal returns true for DONE/ERROR: once entered, no further
// transitions are accepted for the task.
func (s TaskState) IsTerminal() bool {
	return s == StateDone || s == StateError
}

func (s TaskState) String() string {
	return string(s)
}

// ValidTaskState reports whether s is one of the five defined states.
func ValidTaskState(s TaskState) bool {
	switch s {
	case StateIdle, StateWorking, StatePending, StateDone, StateError:
		return true
	default:
		return false
	}
}

// DetectionSource identifies which of the three cooperating detectors
// produced a DetectionEvent.
type DetectionSource string

const (
	SourceNetwork DetectionSource = "network"
	SourceHook    DetectionSource = "hook"
	SourcePattern DetectionSource = "pattern"
)

// Confidence is the detector's self-reported certainty, used only for
// audit display; authority (see Authority) is what gates acceptance.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// DetectionKind identifies the specific observation a detector reported.
type DetectionKind string

const (
	KindFetchStart         DetectionKind = "fetch-start"
	KindFetchEnd           DetectionKind = "fetch-end"
	KindPermissionPrompt   DetectionKind = "permission-prompt"
	KindPermissionRequest  DetectionKind = "permission-request"
	KindPermissionResponse DetectionKind = "permission-response"
	KindPatternMatch       DetectionKind = "pattern-match"
	KindChildExit          DetectionKind = "child-exit"
)

// Authority returns the source's acceptance precedence: 1 is highest
// (network, hook, and exit-observed all share top authority), 2 is the
// pattern classifier. A higher-authority proposal always wins; within
// equal authority the most recent event wins.
func Authority(source DetectionSource, kind DetectionKind) int {
	if kind == KindChildExit {
		return 1
	}
	switch source {
	case SourceNetwork, SourceHook:
		return 1
	case SourcePattern:
		return 2
	default:
		return 9
	}
}

// DetectionEvent is a candidate state observation reported by one of the
// PTY host's detectors for a single task.
type DetectionEvent struct {
	TaskID     TaskID
	Source     DetectionSource
	Kind       DetectionKind
	Confidence Confidence
	Timestamp  time.Time
	Payload    any
}

// StateTransition records an accepted change of a task's state, carrying
// enough provenance to answer "why did this task become WORKING".
type StateTransition struct {
	TaskID          TaskID
	From            TaskState
	To              TaskState
	Timestamp       time.Time
	DetectionMethod DetectionSource
	Confidence      Confidence
	Details         string

	// TraceID and SpanID identify the tracer span propose() opened for
	// this transition, independent of whether otel sampling/export is
	// enabled, so a disabled tracer still leaves a correlatable id in
	// the task's History for the /v1/debug endpoint.
	TraceID string
	SpanID  string
}

// Task is the aggregate root tracked by the control plane: one wrapped
// agent invocation.
type Task struct {
	ID           TaskID
	Agent        Agent
	ProjectID    ProjectID
	RepoPath     string
	Title        string
	State        TaskState
	Pinned       bool
	CreatedAt    time.Time
	CompletedAt  *time.Time
	Details      string
	PreferredIDE string

	// HasLauncher records whether this task's agent was started through
	// its own launcher shim (currently only Claude's network/hook
	// bridge); a task without one relies on the text classifier alone.
	HasLauncher bool

	UpdatedAt           time.Time
	LastDetectionSource DetectionSource

	// History holds recent accepted transitions, newest last, bounded by
	// maxHistoryLen for the /v1/debug endpoint.
	History []StateTransition
}

// TaskSpec describes a task to be created via Upsert.
type TaskSpec struct {
	ID           TaskID
	Agent        Agent
	ProjectID    ProjectID
	RepoPath     string
	Title        string
	PreferredIDE string
}

// Validate checks that the spec has the fields required to create a Task.
func (s TaskSpec) Validate() error {
	if s.Agent == "" {
		return fmt.Errorf("%w: agent", ErrMissingField)
	}
	if s.RepoPath == "" {
		return fmt.Errorf("%w: repoPath", ErrMissingField)
	}
	return nil
}

// NewTask builds a Task in its initial IDLE state from a spec.
func NewTask(spec TaskSpec) *Task {
	id := spec.ID
	if id == "" {
		id = NewTaskID()
	}
	now := time.Now()
	return &Task{
		ID:           id,
		Agent:        spec.Agent,
		ProjectID:    spec.ProjectID,
		RepoPath:     spec.RepoPath,
		Title:        spec.Title,
		PreferredIDE: spec.PreferredIDE,
		HasLauncher:  spec.Agent == AgentClaude,
		State:        StateIdle,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

const maxHistoryLen = 200

// applyTransition mutates the task to reflect an accepted transition.
// completedAt is set exactly when the task settles back to IDLE from a
// non-IDLE state, or on entry to DONE/ERROR, per the data model invariant.
func (t *Task) applyTransition(tr StateTransition) {
	wasNonIdle := t.State != StateIdle
	t.State = tr.To
	t.LastDetectionSource = tr.DetectionMethod
	t.UpdatedAt = tr.Timestamp
	t.History = append(t.History, tr)
	if len(t.History) > maxHistoryLen {
		t.History = t.History[len(t.History)-maxHistoryLen:]
	}

	if tr.To.IsTerminal() || (tr.To == StateIdle && wasNonIdle) {
		completedAt := tr.Timestamp
		t.CompletedAt = &completedAt
	}
}

// Project groups tasks that share a working directory root, as surfaced
// by the host UI's project list. Created on first task referencing it;
// never mutated by the core thereafter.
type Project struct {
	ID           ProjectID
	Name         string
	RepoPath     string
	PreferredIDE string
	GitHubURL    string
	CreatedAt    time.Time
}
