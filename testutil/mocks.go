package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// MockZulipServer is a test server that mimics the parts of the Zulip REST
// API the bot uses. Handlers are keyed by "METHOD /path"; unmatched requests
// get a 404 with a Zulip-shaped error body.
type MockZulipServer struct {
	*httptest.Server

	mu       sync.Mutex
	Handlers map[string]http.HandlerFunc
	Sent     []SentMessage
}

// SentMessage records one POST /api/v1/messages call.
type SentMessage struct {
	Type    string
	To      string
	Topic   string
	Content string
}

// NewMockZulipServer creates a new mock Zulip server.
func NewMockZulipServer(t *testing.T) *MockZulipServer {
	t.Helper()
	m := &MockZulipServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		m.mu.Lock()
		handler, ok := m.Handlers[key]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		WriteJSON(w, http.StatusNotFound, map[string]any{"result": "error", "code": "NOT_FOUND", "msg": "no mock for " + key})
	}))
	t.Cleanup(m.Close)
	m.Handle(http.MethodPost, "/api/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			WriteJSON(w, http.StatusBadRequest, map[string]any{"result": "error", "msg": err.Error()})
			return
		}
		m.mu.Lock()
		m.Sent = append(m.Sent, SentMessage{
			Type:    r.PostForm.Get("type"),
			To:      r.PostForm.Get("to"),
			Topic:   r.PostForm.Get("topic"),
			Content: r.PostForm.Get("content"),
		})
		id := len(m.Sent)
		m.mu.Unlock()
		WriteJSON(w, http.StatusOK, map[string]any{"result": "success", "id": id})
	})
	return m
}

// Handle registers h for method and path.
func (m *MockZulipServer) Handle(method, path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[method+" "+path] = h
}

// SentMessages returns a copy of the messages posted so far.
func (m *MockZulipServer) SentMessages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Sent...)
}

// MockRegister answers POST /api/v1/register with queueID.
func (m *MockZulipServer) MockRegister(queueID string) {
	m.Handle(http.MethodPost, "/api/v1/register", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"result": "success", "queue_id": queueID, "last_event_id": -1})
	})
}

// MockEventBatches answers successive GET /api/v1/events calls with the
// given batches. Once they run out it returns heartbeats with increasing ids.
func (m *MockZulipServer) MockEventBatches(batches ...[]map[string]any) {
	var (
		mu   sync.Mutex
		next int
		hb   = int64(1000)
	)
	m.Handle(http.MethodGet, "/api/v1/events", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if next < len(batches) {
			b := batches[next]
			next++
			WriteJSON(w, http.StatusOK, map[string]any{"result": "success", "events": b})
			return
		}
		hb++
		WriteJSON(w, http.StatusOK, map[string]any{"result": "success", "events": []map[string]any{
			{"id": hb, "type": "heartbeat"},
		}})
	})
}

// MockMessage answers GET /api/v1/messages/{id} with msg.
func (m *MockZulipServer) MockMessage(id int64, msg map[string]any) {
	m.Handle(http.MethodGet, "/api/v1/messages/"+strconv.FormatInt(id, 10), func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"result": "success", "message": msg})
	})
}

// MockUpload serves ref through the two-step temporary URL flow.
func (m *MockZulipServer) MockUpload(ref string, data []byte) {
	temp := "/user_uploads/temporary/mock" + ref
	m.Handle(http.MethodGet, "/api/v1"+ref, func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"result": "success", "url": temp})
	})
	m.Handle(http.MethodGet, temp, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	})
}

// WriteJSON writes v as a JSON response with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}
