package handlers_test

import (
	"bufio"
	"context"
	"errors"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/MegaGrindStone/saige-web-ui/internal/handlers"
	"github.com/MegaGrindStone/saige-web-ui/internal/models"
	"github.com/MegaGrindStone/saige-web-ui/internal/session"
)

type mockChat struct {
	reply string
	err   error
}

// blockingChat streams nothing until its context is cancelled.
type blockingChat struct{}

// failingChat streams a first chunk, then fails.
type failingChat struct {
	chunk string
	err   error
}

// pipeChat hands the writing end of every reply stream to the test.
type pipeChat struct {
	writers chan *io.PipeWriter
}

type sseEvent struct {
	typ  string
	data string
}

type mockBackend struct {
	logs    models.Logs
	logsErr error

	verification models.Verification
	verifyErr    error

	result     models.CommandResult
	commandErr error

	mu       sync.Mutex
	verified []models.SignedEntry
	commands []string
}

type mockMarkdown struct{}

type nopTarget struct{}

var testLogger = slog.New(slog.DiscardHandler)

func newMain(t *testing.T, chat session.ChatStreamer, backend *mockBackend) (handlers.Main, *session.Session) {
	t.Helper()

	sess := session.New(chat, testLogger)
	m, err := handlers.NewMain(sess, backend, mockMarkdown{}, testLogger)
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}
	t.Cleanup(func() {
		_ = m.Shutdown(context.Background())
	})
	return m, sess
}

func postForm(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewMain(t *testing.T) {
	sess := session.New(&mockChat{}, testLogger)

	main, err := handlers.NewMain(sess, &mockBackend{}, mockMarkdown{}, testLogger)
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}

	if main.Shutdown(context.Background()) != nil {
		t.Error("Shutdown() should not return error")
	}
}

func TestHandleHome(t *testing.T) {
	main, sess := newMain(t, &mockChat{reply: "Hi there"}, &mockBackend{})

	if _, err := sess.Send(context.Background(), "Hello", nopTarget{}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	tests := []struct {
		name       string
		url        string
		wantStatus int
		wantBody   []string
	}{
		{
			name:       "Home page with conversation",
			url:        "/",
			wantStatus: http.StatusOK,
			wantBody:   []string{"<p>Hello</p>", "<p>Hi there</p>", "chat-form"},
		},
		{
			name:       "Unknown path",
			url:        "/unknown",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			w := httptest.NewRecorder()

			main.HandleHome(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleHome() status = %v, want %v", w.Code, tt.wantStatus)
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(w.Body.String(), want) {
					t.Errorf("HandleHome() body = %v, want to contain %v", w.Body.String(), want)
				}
			}
		})
	}
}

func TestHandleChats(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		message    string
		wantStatus int
		wantBody   []string
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Empty message",
			method:     http.MethodPost,
			message:    "   ",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Valid message",
			method:     http.MethodPost,
			message:    "Hello",
			wantStatus: http.StatusOK,
			wantBody:   []string{"<p>Hello</p>", `data-streaming-state="loading"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			main, sess := newMain(t, &mockChat{reply: "AI response"}, &mockBackend{})

			req := postForm("/chats", url.Values{"message": {tt.message}})
			req.Method = tt.method
			w := httptest.NewRecorder()

			main.HandleChats(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("HandleChats() status = %v, want %v", w.Code, tt.wantStatus)
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(w.Body.String(), want) {
					t.Errorf("HandleChats() body = %v, want to contain %v", w.Body.String(), want)
				}
			}

			if tt.wantStatus != http.StatusOK {
				if sess.Len() != 0 {
					t.Errorf("conversation length = %d, want 0", sess.Len())
				}
				return
			}

			waitFor(t, func() bool { return sess.Len() == 2 })
			msgs := sess.Messages()
			if msgs[0].Content != "Hello" || msgs[1].Content != "AI response" {
				t.Errorf("conversation = %+v, want [Hello, AI response]", msgs)
			}
		})
	}
}

func TestHandleChatsInFlight(t *testing.T) {
	main, sess := newMain(t, blockingChat{}, &mockBackend{})

	w := httptest.NewRecorder()
	main.HandleChats(w, postForm("/chats", url.Values{"message": {"first"}}))
	if w.Code != http.StatusOK {
		t.Fatalf("first HandleChats() status = %v, want %v", w.Code, http.StatusOK)
	}

	w = httptest.NewRecorder()
	main.HandleChats(w, postForm("/chats", url.Values{"message": {"second"}}))
	if w.Code != http.StatusConflict {
		t.Fatalf("second HandleChats() status = %v, want %v", w.Code, http.StatusConflict)
	}

	w = httptest.NewRecorder()
	main.HandleAbort(w, httptest.NewRequest(http.MethodPost, "/chats/abort", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("HandleAbort() status = %v, want %v", w.Code, http.StatusNoContent)
	}

	waitFor(t, func() bool { return !sess.InFlight() })
	if sess.Len() != 0 {
		t.Errorf("conversation length = %d, want 0 after abort", sess.Len())
	}
}

func startServer(t *testing.T, chat session.ChatStreamer) (*httptest.Server, *session.Session) {
	t.Helper()

	main, sess := newMain(t, chat, &mockBackend{})

	mux := http.NewServeMux()
	mux.HandleFunc("/chats", main.HandleChats)
	mux.HandleFunc("/sse/messages", main.HandleSSE)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, sess
}

var messageIDPattern = regexp.MustCompile(`data-message-id="([^"]+)"`)

// postChat sends message and returns the id of the assistant reply placeholder.
func postChat(t *testing.T, srv *httptest.Server, message string) string {
	t.Helper()

	resp, err := http.PostForm(srv.URL+"/chats", url.Values{"message": {message}})
	if err != nil {
		t.Fatalf("POST /chats error = %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /chats status = %v, body %q", resp.StatusCode, body)
	}

	match := messageIDPattern.FindSubmatch(body)
	if match == nil {
		t.Fatalf("POST /chats body has no reply placeholder: %q", body)
	}
	return string(match[1])
}

// subscribeReply opens the event stream of the reply with the given id.
func subscribeReply(t *testing.T, ctx context.Context, srv *httptest.Server, messageID string) io.ReadCloser {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		srv.URL+"/sse/messages?message_id="+url.QueryEscape(messageID), nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /sse/messages error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("GET /sse/messages status = %v", resp.StatusCode)
	}
	return resp.Body
}

// readEvents reads events up to and including closeMessage.
func readEvents(t *testing.T, body io.Reader) []sseEvent {
	t.Helper()

	var events []sseEvent
	var cur sseEvent
	var data []string

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			cur.typ = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case line == "":
			if cur.typ == "" && len(data) == 0 {
				continue
			}
			cur.data = strings.Join(data, "\n")
			events = append(events, cur)
			if cur.typ == "closeMessage" {
				return events
			}
			cur, data = sseEvent{}, nil
		}
	}
	t.Fatalf("event stream ended before closeMessage (err = %v), got %+v", scanner.Err(), events)
	return nil
}

func TestReplyEventsCompleted(t *testing.T) {
	srv, sess := startServer(t, &mockChat{reply: "AI response"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id := postChat(t, srv, "Hello")
	body := subscribeReply(t, ctx, srv, id)
	defer body.Close()

	events := readEvents(t, body)
	if len(events) < 2 {
		t.Fatalf("events = %+v, want a render and closeMessage", events)
	}

	last := events[len(events)-2]
	if last.typ != "messages" || last.data != "<p>AI response</p>" {
		t.Errorf("last render = %+v, want messages with the full reply", last)
	}
	for _, e := range events[:len(events)-1] {
		if e.typ != "messages" {
			t.Errorf("unexpected event %+v before closeMessage", e)
		}
	}

	waitFor(t, func() bool { return sess.Len() == 2 })
}

func TestReplyEventsFailed(t *testing.T) {
	srv, sess := startServer(t, &failingChat{chunk: "partial", err: errors.New("network drop")})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id := postChat(t, srv, "Hello")
	body := subscribeReply(t, ctx, srv, id)
	defer body.Close()

	events := readEvents(t, body)
	if len(events) < 2 {
		t.Fatalf("events = %+v, want messageError and closeMessage", events)
	}

	failure := events[len(events)-2]
	if failure.typ != "messageError" || !strings.Contains(failure.data, "network drop") {
		t.Errorf("event before closeMessage = %+v, want messageError about the network drop", failure)
	}

	waitFor(t, func() bool { return !sess.InFlight() })
	if sess.Len() != 0 {
		t.Errorf("conversation length = %d, want 0 after a failed reply", sess.Len())
	}
}

func TestReplyEventsLiveSubscriber(t *testing.T) {
	chat := &pipeChat{writers: make(chan *io.PipeWriter, 1)}
	srv, sess := startServer(t, chat)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id := postChat(t, srv, "Hello")
	body := subscribeReply(t, ctx, srv, id)
	defer body.Close()

	var pw *io.PipeWriter
	select {
	case pw = <-chat.writers:
	case <-ctx.Done():
		t.Fatal("reply stream was never opened")
	}
	if _, err := io.WriteString(pw, "Hi"); err != nil {
		t.Fatal(err)
	}
	pw.Close()

	events := readEvents(t, body)
	want := []sseEvent{{typ: "messages", data: "<p>Hi</p>"}, {typ: "closeMessage", data: "bye"}}
	if len(events) != len(want) {
		t.Fatalf("events = %+v, want %+v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, events[i], want[i])
		}
	}

	waitFor(t, func() bool { return sess.Len() == 2 })
}

func TestHandleAbort(t *testing.T) {
	main, _ := newMain(t, &mockChat{}, &mockBackend{})

	tests := []struct {
		name       string
		method     string
		wantStatus int
	}{
		{name: "Invalid method", method: http.MethodGet, wantStatus: http.StatusMethodNotAllowed},
		{name: "Nothing in flight", method: http.MethodPost, wantStatus: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			main.HandleAbort(w, httptest.NewRequest(tt.method, "/chats/abort", nil))
			if w.Code != tt.wantStatus {
				t.Errorf("HandleAbort() status = %v, want %v", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleLogs(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		backend    *mockBackend
		wantStatus int
		wantBody   []string
	}{
		{
			name:       "Invalid method",
			method:     http.MethodPost,
			backend:    &mockBackend{},
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Missing logs",
			method:     http.MethodGet,
			backend:    &mockBackend{},
			wantStatus: http.StatusOK,
			wantBody:   []string{models.NoChatLogs, models.NoInferenceLogs},
		},
		{
			name:   "Logs present",
			method: http.MethodGet,
			backend: &mockBackend{logs: models.Logs{
				ChatLogs:      "User: hi\nAssistant: hello\n",
				InferenceLogs: "tokens=12",
			}},
			wantStatus: http.StatusOK,
			wantBody:   []string{"User: hi", "tokens=12"},
		},
		{
			name:       "Backend error",
			method:     http.MethodGet,
			backend:    &mockBackend{logsErr: errors.New("connection refused")},
			wantStatus: http.StatusOK,
			wantBody:   []string{"Error: connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			main, _ := newMain(t, &mockChat{}, tt.backend)

			w := httptest.NewRecorder()
			main.HandleLogs(w, httptest.NewRequest(tt.method, "/logs", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("HandleLogs() status = %v, want %v", w.Code, tt.wantStatus)
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(w.Body.String(), want) {
					t.Errorf("HandleLogs() body = %v, want to contain %v", w.Body.String(), want)
				}
			}
		})
	}
}

func TestHandleVerify(t *testing.T) {
	signedLogs := "User: hi\nAssistant: hello\nSignature: abcd\nBlock Hash: ef01\n---\n"

	tests := []struct {
		name       string
		backend    *mockBackend
		wantBody   string
		wantEntry  *models.SignedEntry
		wantVerify bool
	}{
		{
			name: "Valid entry",
			backend: &mockBackend{
				logs:         models.Logs{ChatLogs: signedLogs},
				verification: models.Verification{Valid: true},
			},
			wantBody: "Blockchain valid",
			wantEntry: &models.SignedEntry{
				Entry:     "User: hi\nAssistant: hello\n",
				Signature: "abcd",
			},
		},
		{
			name: "Invalid entry",
			backend: &mockBackend{
				logs:         models.Logs{ChatLogs: signedLogs},
				verification: models.Verification{Error: "bad signature"},
			},
			wantBody: "Invalid: bad signature",
		},
		{
			name:     "No signed entry",
			backend:  &mockBackend{},
			wantBody: "Error: ",
		},
		{
			name: "Verification failure",
			backend: &mockBackend{
				logs:      models.Logs{ChatLogs: signedLogs},
				verifyErr: errors.New("status 500"),
			},
			wantBody: "Error: status 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			main, _ := newMain(t, &mockChat{}, tt.backend)

			w := httptest.NewRecorder()
			main.HandleVerify(w, httptest.NewRequest(http.MethodPost, "/verify", nil))

			if w.Code != http.StatusOK {
				t.Fatalf("HandleVerify() status = %v, want %v", w.Code, http.StatusOK)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("HandleVerify() body = %v, want to contain %v", w.Body.String(), tt.wantBody)
			}

			if tt.wantEntry == nil {
				return
			}
			tt.backend.mu.Lock()
			defer tt.backend.mu.Unlock()
			if len(tt.backend.verified) != 1 || tt.backend.verified[0] != *tt.wantEntry {
				t.Errorf("verified entries = %+v, want [%+v]", tt.backend.verified, *tt.wantEntry)
			}
		})
	}
}

func TestHandleCommands(t *testing.T) {
	tests := []struct {
		name       string
		command    string
		backend    *mockBackend
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Empty command",
			command:    " ",
			backend:    &mockBackend{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Command output",
			command:    "uptime",
			backend:    &mockBackend{result: models.CommandResult{Output: "up 3 days"}},
			wantStatus: http.StatusOK,
			wantBody:   "up 3 days",
		},
		{
			name:       "Unauthorized command",
			command:    "rm -rf /",
			backend:    &mockBackend{result: models.CommandResult{Error: "Unauthorized command"}},
			wantStatus: http.StatusOK,
			wantBody:   "Unauthorized command",
		},
		{
			name:       "No output",
			command:    "true",
			backend:    &mockBackend{},
			wantStatus: http.StatusOK,
			wantBody:   "(no output)",
		},
		{
			name:       "Transport failure",
			command:    "uptime",
			backend:    &mockBackend{commandErr: errors.New("connection refused")},
			wantStatus: http.StatusOK,
			wantBody:   "Error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			main, _ := newMain(t, &mockChat{}, tt.backend)

			w := httptest.NewRecorder()
			main.HandleCommands(w, postForm("/commands", url.Values{"command": {tt.command}}))

			if w.Code != tt.wantStatus {
				t.Fatalf("HandleCommands() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), html.EscapeString(tt.wantBody)) {
				t.Errorf("HandleCommands() body = %v, want to contain %v", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func (m *mockChat) Chat(context.Context, []models.Message) (io.ReadCloser, error) {
	if m.err != nil {
		return nil, m.err
	}
	return io.NopCloser(strings.NewReader(m.reply)), nil
}

func (blockingChat) Chat(ctx context.Context, _ []models.Message) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	go func() {
		<-ctx.Done()
		pw.CloseWithError(ctx.Err())
	}()
	return pr, nil
}

func (f *failingChat) Chat(context.Context, []models.Message) (io.ReadCloser, error) {
	return io.NopCloser(io.MultiReader(strings.NewReader(f.chunk), iotest.ErrReader(f.err))), nil
}

func (p *pipeChat) Chat(ctx context.Context, _ []models.Message) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	go func() {
		<-ctx.Done()
		pw.CloseWithError(ctx.Err())
	}()
	p.writers <- pw
	return pr, nil
}

func (m *mockBackend) Logs(context.Context) (models.Logs, error) {
	return m.logs, m.logsErr
}

func (m *mockBackend) VerifyBlockchain(_ context.Context, entry models.SignedEntry) (models.Verification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.verified = append(m.verified, entry)
	return m.verification, m.verifyErr
}

func (m *mockBackend) Command(_ context.Context, command string) (models.CommandResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.commands = append(m.commands, command)
	return m.result, m.commandErr
}

func (mockMarkdown) Render(text string) (string, error) {
	return "<p>" + html.EscapeString(text) + "</p>", nil
}

func (nopTarget) Replace(string) error { return nil }

func (nopTarget) ShowError(error) {}
