// Package api provides the local HTTP control plane: the supervisor's
// loopback-only, bearer-token-authenticated surface for state reads,
// external state updates (hooks), and SSE event streaming to the UI.
package api

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tallr-dev/tallrd/internal/controlplane"
	"github.com/tallr-dev/tallrd/internal/log"
)

// Handler provides HTTP endpoints for ControlPlane operations.
type Handler struct {
	cp controlplane.ControlPlane
}

// NewHandler creates a new API handler wrapping the given ControlPlane.
func NewHandler(cp controlplane.ControlPlane) *Handler {
	return &Handler{cp: cp}
}

// Routes returns an http.Handler with all API routes registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/state", h.GetState)
	mux.HandleFunc("POST /v1/tasks/upsert", h.UpsertTask)
	mux.HandleFunc("POST /v1/tasks/state", h.UpdateTaskState)
	mux.HandleFunc("POST /v1/tasks/done", h.MarkDone)
	mux.HandleFunc("POST /v1/tasks/pin", h.PinTask)
	mux.HandleFunc("GET /v1/debug", h.Debug)
	mux.HandleFunc("POST /v1/notify", h.Notify)
	mux.HandleFunc("GET /v1/events", h.StreamEvents)
	mux.HandleFunc("GET /v1/health", h.Health)

	return mux
}

// === Request/Response types ===

// TaskResponse is the wire shape of a Task, matching spec §3.
type TaskResponse struct {
	ID           string     `json:"id"`
	Agent        string     `json:"agent"`
	ProjectID    string     `json:"projectId,omitempty"`
	RepoPath     string     `json:"repoPath"`
	Title        string     `json:"title,omitempty"`
	State        string     `json:"state"`
	Pinned       bool       `json:"pinned"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	Details      string     `json:"details,omitempty"`
	PreferredIDE string     `json:"preferredIde,omitempty"`
	HasLauncher  bool       `json:"hasLauncher"`
}

// StateResponse is the body of GET /v1/state.
type StateResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}

// UpsertTaskRequest is the body of POST /v1/tasks/upsert.
type UpsertTaskRequest struct {
	ID           string `json:"id,omitempty"`
	Agent        string `json:"agent"`
	ProjectID    string `json:"projectId,omitempty"`
	RepoPath     string `json:"repoPath"`
	Title        string `json:"title,omitempty"`
	PreferredIDE string `json:"preferredIde,omitempty"`
}

// UpdateTaskStateRequest is the body of POST /v1/tasks/state, the path
// used by the permission hook bridge and any other out-of-process
// detector that cannot hold an actor channel open.
type UpdateTaskStateRequest struct {
	TaskID     string `json:"taskId"`
	Source     string `json:"source"`
	Kind       string `json:"kind"`
	Confidence string `json:"confidence,omitempty"`
	State      string `json:"state,omitempty"` // for kind=pattern-match
	ExitCode   *int   `json:"exitCode,omitempty"`
}

// MarkDoneRequest is the body of POST /v1/tasks/done.
type MarkDoneRequest struct {
	TaskID  string `json:"taskId"`
	Details string `json:"details,omitempty"`
}

// PinTaskRequest is the body of POST /v1/tasks/pin.
type PinTaskRequest struct {
	TaskID string `json:"taskId"`
	Pinned bool   `json:"pinned"`
}

// NotifyRequest is the body of POST /v1/notify.
type NotifyRequest struct {
	TaskID  string `json:"taskId,omitempty"`
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`
}

// DebugResponse is the body of GET /v1/debug?taskId=….
type DebugResponse struct {
	Task    TaskResponse              `json:"task"`
	History []StateTransitionResponse `json:"history"`
}

// StateTransitionResponse is one entry of a task's transition history.
type StateTransitionResponse struct {
	From            string    `json:"from"`
	To              string    `json:"to"`
	Timestamp       time.Time `json:"timestamp"`
	DetectionMethod string    `json:"detectionMethod"`
	Confidence      string    `json:"confidence,omitempty"`
	Details         string    `json:"details,omitempty"`
	TraceID         string    `json:"traceId,omitempty"`
	SpanID          string    `json:"spanId,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// === Handlers ===

// GetState returns every tracked task.
// GET /v1/state
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.cp.List(r.Context(), controlplane.ListQuery{})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := StateResponse{Tasks: make([]TaskResponse, 0, len(tasks))}
	for _, task := range tasks {
		resp.Tasks = append(resp.Tasks, taskToResponse(task))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// UpsertTask creates a task, or replaces an existing one's metadata while
// preserving state and history.
// POST /v1/tasks/upsert
func (h *Handler) UpsertTask(w http.ResponseWriter, r *http.Request) {
	var req UpsertTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return
	}

	task, err := h.cp.Upsert(r.Context(), controlplane.TaskSpec{
		ID:           controlplane.TaskID(req.ID),
		Agent:        controlplane.Agent(req.Agent),
		ProjectID:    controlplane.ProjectID(req.ProjectID),
		RepoPath:     req.RepoPath,
		Title:        req.Title,
		PreferredIDE: req.PreferredIDE,
	})
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	h.writeJSON(w, http.StatusOK, taskToResponse(task))
}

// UpdateTaskState feeds an externally-observed detection into the named
// task's actor. This is the hook bridge's delivery path.
// POST /v1/tasks/state
func (h *Handler) UpdateTaskState(w http.ResponseWriter, r *http.Request) {
	var req UpdateTaskStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return
	}
	if req.TaskID == "" {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("taskId is required"))
		return
	}

	event := controlplane.DetectionEvent{
		TaskID:     controlplane.TaskID(req.TaskID),
		Source:     controlplane.DetectionSource(req.Source),
		Kind:       controlplane.DetectionKind(req.Kind),
		Confidence: controlplane.Confidence(req.Confidence),
	}

	switch event.Kind {
	case controlplane.KindPatternMatch:
		event.Payload = controlplane.TaskState(req.State)
	case controlplane.KindChildExit:
		if req.ExitCode != nil {
			event.Payload = *req.ExitCode
		}
	}

	if err := h.cp.ApplyDetection(r.Context(), event); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// MarkDone force-transitions a task to DONE out of band from the normal
// detection pipeline.
// POST /v1/tasks/done
func (h *Handler) MarkDone(w http.ResponseWriter, r *http.Request) {
	var req MarkDoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return
	}
	if req.TaskID == "" {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("taskId is required"))
		return
	}

	task, err := h.cp.MarkDone(r.Context(), controlplane.TaskID(req.TaskID), req.Details)
	if err != nil {
		h.writeTaskError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, taskToResponse(task))
}

// PinTask pins or unpins a task.
// POST /v1/tasks/pin
func (h *Handler) PinTask(w http.ResponseWriter, r *http.Request) {
	var req PinTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return
	}
	if req.TaskID == "" {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("taskId is required"))
		return
	}

	task, err := h.cp.SetPinned(r.Context(), controlplane.TaskID(req.TaskID), req.Pinned)
	if err != nil {
		h.writeTaskError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, taskToResponse(task))
}

// Debug returns a task and its full bounded transition history, for UI
// troubleshooting. The response does not include the classifier's
// detection window, the active-fetch count or pattern-rule results.
// GET /v1/debug?taskId=…
func (h *Handler) Debug(w http.ResponseWriter, r *http.Request) {
	taskID := controlplane.TaskID(r.URL.Query().Get("taskId"))
	if taskID == "" {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("taskId query parameter is required"))
		return
	}

	task, err := h.cp.Get(r.Context(), taskID)
	if err != nil {
		h.writeTaskError(w, err)
		return
	}

	resp := DebugResponse{
		Task:    taskToResponse(task),
		History: make([]StateTransitionResponse, 0, len(task.History)),
	}
	for _, tr := range task.History {
		resp.History = append(resp.History, StateTransitionResponse{
			From:            string(tr.From),
			To:              string(tr.To),
			Timestamp:       tr.Timestamp,
			DetectionMethod: string(tr.DetectionMethod),
			Confidence:      string(tr.Confidence),
			Details:         tr.Details,
			TraceID:         tr.TraceID,
			SpanID:          tr.SpanID,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Notify surfaces a desktop notification request to subscribers of the
// event stream; delivery to the OS notification center is the UI's job.
// POST /v1/notify
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return
	}
	if req.Title == "" {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("title is required"))
		return
	}

	log.Info(log.CatAPI, "notify requested", "taskId", req.TaskID, "title", req.Title)
	w.WriteHeader(http.StatusAccepted)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		n := controlplane.Notification{Title: req.Title, Message: req.Message}
		if err := h.cp.Notify(ctx, controlplane.TaskID(req.TaskID), n); err != nil {
			log.Warn(log.CatAPI, "notify delivery failed", "taskId", req.TaskID, "error", err)
		}
	}()
}

// StreamEvents streams every control plane event via SSE, including the
// tasks-updated broadcast the UI uses to refresh its task list.
// GET /v1/events
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	events, unsubscribe := h.cp.Subscribe(r.Context())
	defer unsubscribe()
	h.streamEvents(w, r, events)
}

// Health reports daemon liveness.
// GET /v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// === Helpers ===

func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request, events <-chan controlplane.ControlPlaneEvent) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming not supported"))
		return
	}

	_, _ = fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(eventToJSON(event))
			if err != nil {
				log.ErrorErr(log.CatAPI, "failed to marshal event", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "event: tasks-updated\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func eventToJSON(event controlplane.ControlPlaneEvent) map[string]any {
	result := map[string]any{
		"type":      string(event.Type),
		"taskId":    string(event.TaskID),
		"projectId": string(event.ProjectID),
		"state":     string(event.State),
		"timestamp": event.Timestamp,
	}
	if event.Transition != nil {
		result["detectionMethod"] = string(event.Transition.DetectionMethod)
		result["details"] = event.Transition.Details
	}
	if event.Notification != nil {
		result["title"] = event.Notification.Title
		result["message"] = event.Notification.Message
	}
	return result
}

func taskToResponse(task *controlplane.Task) TaskResponse {
	return TaskResponse{
		ID:           string(task.ID),
		Agent:        string(task.Agent),
		ProjectID:    string(task.ProjectID),
		RepoPath:     task.RepoPath,
		Title:        task.Title,
		State:        string(task.State),
		Pinned:       task.Pinned,
		CreatedAt:    task.CreatedAt,
		UpdatedAt:    task.UpdatedAt,
		CompletedAt:  task.CompletedAt,
		Details:      task.Details,
		PreferredIDE: task.PreferredIDE,
		HasLauncher:  task.HasLauncher,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.ErrorErr(log.CatAPI, "failed to encode json response", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// writeTaskError maps controlplane sentinel errors to their HTTP status.
func (h *Handler) writeTaskError(w http.ResponseWriter, err error) {
	if errors.Is(err, controlplane.ErrTaskNotFound) {
		h.writeError(w, http.StatusNotFound, err)
		return
	}
	h.writeError(w, http.StatusBadRequest, err)
}

// === Auth middleware ===

// GenerateToken returns a random 32-byte bearer token, hex-encoded.
func GenerateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// RequireBearerToken wraps next with loopback bearer-token auth. The
// health endpoint is exempt so a liveness probe doesn't need the token.
func RequireBearerToken(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/health" {
			next.ServeHTTP(w, r)
			return
		}

		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimPrefix(header, prefix)), []byte(token)) != 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "missing or invalid bearer token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// === Server ===

// Server wraps the Handler with an http.Server bound to loopback only.
type Server struct {
	handler  *Handler
	server   *http.Server
	listener net.Listener
	port     int
}

// ServerConfig configures the API server.
type ServerConfig struct {
	// Addr is the loopback address to listen on (e.g. "127.0.0.1:0").
	Addr string
	// ControlPlane is the control plane to expose via HTTP.
	ControlPlane controlplane.ControlPlane
	// Token is the bearer token required on every request but /v1/health.
	Token string
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration
}

// NewServer creates a new API server bound to cfg.Addr. Use Port() after
// Start() to get the actual port when Addr uses port 0.
func NewServer(cfg ServerConfig) (*Server, error) {
	handler := NewHandler(cfg.ControlPlane)

	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}

	port := 0
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}

	routes := handler.Routes()
	if cfg.Token != "" {
		routes = RequireBearerToken(cfg.Token, routes)
	}

	return &Server{
		handler:  handler,
		listener: listener,
		port:     port,
		server: &http.Server{
			Handler:           routes,
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      0, // no timeout: SSE streams stay open
		},
	}, nil
}

// Start starts the HTTP server. It blocks until the server is stopped or
// fails.
func (s *Server) Start() error {
	log.Info(log.CatAPI, "starting control plane API", "addr", s.listener.Addr().String())
	return s.server.Serve(s.listener)
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info(log.CatAPI, "stopping control plane API")
	return s.server.Shutdown(ctx)
}

// Port returns the actual port the server is listening on.
func (s *Server) Port() int {
	return s.port
}
