package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// MockYouTubeServer creates a test server that mocks YouTube Data API responses.
// Handlers are keyed by "<METHOD> <path-suffix>" so tests don't care about the
// client's base path.
type MockYouTubeServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockYouTubeServer creates a new mock YouTube API server.
func NewMockYouTubeServer(t *testing.T) *MockYouTubeServer {
	t.Helper()
	m := &MockYouTubeServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for key, handler := range m.Handlers {
			method, suffix, _ := strings.Cut(key, " ")
			if r.Method == method && strings.HasSuffix(r.URL.Path, suffix) {
				handler(w, r)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockLiveChatList adds a handler for liveChat/messages list calls.
func (m *MockYouTubeServer) MockLiveChatList(fn func(pageToken string) map[string]any) {
	m.Handlers["GET liveChat/messages"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(fn(r.URL.Query().Get("pageToken"))) //nolint:errcheck // test mock response
	}
}

// MockLiveChatInsert adds a handler for liveChat/messages insert calls and
// records each inserted message text into sink.
func (m *MockYouTubeServer) MockLiveChatInsert(sink *[]string) {
	m.Handlers["POST liveChat/messages"] = func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Snippet struct {
				TextMessageDetails struct {
					MessageText string `json:"messageText"`
				} `json:"textMessageDetails"`
			} `json:"snippet"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		*sink = append(*sink, body.Snippet.TextMessageDetails.MessageText)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg-1"}`))
	}
}

// MockBroadcastsList adds a handler for liveBroadcasts list calls.
func (m *MockYouTubeServer) MockBroadcastsList(items []map[string]any) {
	m.Handlers["GET liveBroadcasts"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items}) //nolint:errcheck // test mock response
	}
}
