// Package hubtest runs an in-process fake hub for tests: REST routes with
// envelope responses, SSE feeds, a streamed generation endpoint and a
// terminal socket.
package hubtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Request is one recorded inbound call.
type Request struct {
	Method        string
	Path          string
	Query         string
	Authorization string
	Token         string
}

// Server is a fake hub. The zero configuration answers every route.
type Server struct {
	URL string

	srv      *httptest.Server
	upgrader websocket.Upgrader
	done     chan struct{}
	once     sync.Once

	mu            sync.Mutex
	requests      []Request
	failures      map[string][]int
	tasks         map[string]map[string]any
	taskOrder     []string
	logs          map[string][]map[string]any
	agents        []map[string]any
	sessionToken  string
	eventSubs     map[chan []byte]struct{}
	genTokens     []string
	failStream    bool
	answer        string
	termGreeting  string
	termInputs    []string
	termResizes   [][2]int
	readModeWrite int
}

// New starts a fake hub. Close it when done.
func New() *Server {
	s := &Server{
		done:      make(chan struct{}),
		failures:  make(map[string][]int),
		tasks:     make(map[string]map[string]any),
		logs:      make(map[string][]map[string]any),
		eventSubs: make(map[chan []byte]struct{}),
		agents: []map[string]any{
			{"name": "alpha", "url": "http://localhost:5001", "role": "worker", "status": "online"},
			{"name": "beta", "url": "http://localhost:5002", "role": "worker", "status": "offline"},
		},
		genTokens: []string{"Hel", "lo"},
		answer:    "Hello",
	}
	s.srv = httptest.NewServer(s.routes())
	s.URL = s.srv.URL
	return s
}

// Close stops every open stream and the server.
func (s *Server) Close() {
	s.once.Do(func() { close(s.done) })
	s.srv.Close()
}

// Client returns an HTTP client for the server.
func (s *Server) Client() *http.Client { return s.srv.Client() }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)

	r.Get("/health", s.handleHealth)
	r.Route("/api/system", func(r chi.Router) {
		r.Get("/agents", s.handleAgents)
		r.Get("/stats", s.handleStats)
		r.Get("/stats/history", s.handleStatsHistory)
		r.Get("/audit-logs", s.handleAuditLogs)
		r.Post("/audit/analyze", s.handleAuditAnalyze)
		r.Get("/events", s.handleSystemEvents)
	})
	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.handleListTasks)
		r.Post("/", s.handleCreateTask)
		r.Get("/{id}", s.handleGetTask)
		r.Patch("/{id}", s.handlePatchTask)
		r.Delete("/{id}", s.handleDeleteTask)
		r.Get("/{id}/stream-logs", s.handleTaskLogs)
	})
	r.Post("/llm/generate", s.handleGenerate)
	r.Get("/ws/terminal", s.handleTerminal)
	return r
}

// record logs the call and serves any queued failure for its path.
func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:        r.Method,
			Path:          r.URL.Path,
			Query:         r.URL.RawQuery,
			Authorization: r.Header.Get("Authorization"),
			Token:         r.URL.Query().Get("token"),
		})
		var status int
		if queue := s.failures[r.URL.Path]; len(queue) > 0 {
			status = queue[0]
			s.failures[r.URL.Path] = queue[1:]
		}
		s.mu.Unlock()

		if status != 0 {
			writeJSON(w, status, map[string]string{"error": fmt.Sprintf("injected %d", status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// FailNext makes the next len(statuses) calls to path answer with those
// statuses in order.
func (s *Server) FailNext(path string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = append(s.failures[path], statuses...)
}

// Requests returns a copy of every recorded call.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Hits counts calls to path with method.
func (s *Server) Hits(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, req := range s.requests {
		if req.Method == method && req.Path == path {
			n++
		}
	}
	return n
}

// RequireSession makes the system-event feed accept only token.
func (s *Server) RequireSession(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionToken = token
}

// AddTask stores a task and returns its id. A missing id is generated.
func (s *Server) AddTask(task map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addTaskLocked(task)
}

func (s *Server) addTaskLocked(task map[string]any) string {
	id, _ := task["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	stored := make(map[string]any, len(task)+1)
	for k, v := range task {
		stored[k] = v
	}
	stored["id"] = id
	if _, exists := s.tasks[id]; !exists {
		s.taskOrder = append(s.taskOrder, id)
	}
	s.tasks[id] = stored
	return id
}

// AppendLog adds a log entry to a task's history.
func (s *Server) AppendLog(taskID string, entry map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[taskID] = append(s.logs[taskID], entry)
}

// PublishSystemEvent sends v to every connected system-event subscriber and
// reports how many received it.
func (s *Server) PublishSystemEvent(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for ch := range s.eventSubs {
		select {
		case ch <- data:
			n++
		default:
		}
	}
	return n
}

// EventSubscribers reports open system-event connections.
func (s *Server) EventSubscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.eventSubs)
}

// SetGenerateTokens sets the fragments a streamed generation returns.
func (s *Server) SetGenerateTokens(tokens ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.genTokens = append([]string(nil), tokens...)
}

// SetStreamFailure makes streamed generation answer 500.
func (s *Server) SetStreamFailure(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStream = fail
}

// SetAnswer sets the non-streamed generation answer.
func (s *Server) SetAnswer(answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answer = answer
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	agents := append([]map[string]any(nil), s.agents...)
	s.mu.Unlock()
	writeEnvelope(w, agents)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	stats := map[string]any{"agents": len(s.agents), "tasks": len(s.tasks)}
	s.mu.Unlock()
	writeEnvelope(w, stats)
}

func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, []map[string]any{
		{"timestamp": 1, "tasks": 0},
		{"timestamp": 2, "tasks": 1},
	})
}

func (s *Server) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	entries := make([]map[string]any, 0, limit)
	for i := 0; i < limit && i < 3; i++ {
		entries = append(entries, map[string]any{"id": offset + i, "action": "task.update"})
	}
	writeEnvelope(w, entries)
}

func (s *Server) handleAuditAnalyze(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, map[string]any{"analysis": "no anomalies", "limit": r.URL.Query().Get("limit")})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ids := append([]string(nil), s.taskOrder...)
	tasks := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, copyTask(s.tasks[id]))
	}
	s.mu.Unlock()
	writeEnvelope(w, tasks)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid json"})
		return
	}
	s.mu.Lock()
	id := s.addTaskLocked(body)
	task := copyTask(s.tasks[id])
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]any{"status": "ok", "data": task})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	task, ok := s.tasks[chi.URLParam(r, "id")]
	task = copyTask(task)
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	writeEnvelope(w, task)
}

func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid json"})
		return
	}
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	task, ok := s.tasks[id]
	if ok {
		for k, v := range patch {
			if k != "id" {
				task[k] = v
			}
		}
		task = copyTask(task)
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	writeEnvelope(w, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	_, ok := s.tasks[id]
	delete(s.tasks, id)
	order := s.taskOrder[:0]
	for _, existing := range s.taskOrder {
		if existing != id {
			order = append(order, existing)
		}
	}
	s.taskOrder = order
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTaskLogs(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	entries := append([]map[string]any(nil), s.logs[chi.URLParam(r, "id")]...)
	s.mu.Unlock()

	flusher := startSSE(w)
	for _, entry := range entries {
		writeSSE(w, flusher, entry)
	}
}

func (s *Server) handleSystemEvents(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	required := s.sessionToken
	s.mu.Unlock()
	if required != "" && r.URL.Query().Get("token") != required {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid session"})
		return
	}

	ch := make(chan []byte, 64)
	s.mu.Lock()
	s.eventSubs[ch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.eventSubs, ch)
		s.mu.Unlock()
	}()

	flusher := startSSE(w)
	for {
		select {
		case data := <-ch:
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		}
	}
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompt string `json:"prompt"`
		Stream bool   `json:"stream"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	s.mu.Lock()
	tokens := append([]string(nil), s.genTokens...)
	fail, answer := s.failStream, s.answer
	s.mu.Unlock()

	if !body.Stream {
		writeEnvelope(w, map[string]string{"response": answer})
		return
	}
	if fail {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "stream_failed"})
		return
	}
	flusher := startSSE(w)
	for _, tok := range tokens {
		fmt.Fprintf(w, "data: %s\n\n", tok)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func copyTask(task map[string]any) map[string]any {
	if task == nil {
		return nil
	}
	out := make(map[string]any, len(task))
	for k, v := range task {
		out[k] = v
	}
	return out
}

func startSSE(w http.ResponseWriter) http.Flusher {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher == nil {
		flusher = noFlush{}
	}
	flusher.Flush()
	return flusher
}

type noFlush struct{}

func (noFlush) Flush() {}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, v any) {
	data, _ := json.Marshal(v)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func writeEnvelope(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "data": data})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// SortedTaskIDs returns the ids of every stored task.
func (s *Server) SortedTaskIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
