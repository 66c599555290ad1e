package handlers

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/MegaGrindStone/saige-web-ui/internal/models"
	"github.com/MegaGrindStone/saige-web-ui/internal/session"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

type message struct {
	ID        string
	Role      string
	Content   template.HTML
	Timestamp time.Time

	StreamingState string
}

const (
	streamingStateLoading = "loading"
	streamingStateEnded   = "ended"
)

// sseTarget renders a streaming reply into the browser: every render is converted to HTML and
// published on the reply's topic.
type sseTarget struct {
	m         Main
	messageID string
}

// HandleChats processes a user message sent through an HTTP POST request. It claims the session's
// in-flight slot, renders the user message and a placeholder for the assistant reply, and streams
// the reply in the background through Server-Sent Events on the placeholder's topic.
//
// The handler expects a "message" form field. It responds with 400 when the message is empty and
// with 409 while another reply is still streaming.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// The exchange outlives the request: the reply keeps streaming after this handler returns.
	ex, err := m.session.Prepare(context.Background(), r.FormValue("message"))
	if err != nil {
		switch {
		case errors.Is(err, session.ErrEmptyMessage):
			m.logger.Error("Message is required")
			http.Error(w, "Message is required", http.StatusBadRequest)
		case errors.Is(err, session.ErrSendInFlight):
			m.logger.Warn("Rejected message while a reply is streaming")
			http.Error(w, "A reply is still streaming", http.StatusConflict)
		default:
			m.logger.Error("Failed to prepare message", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	um := ex.UserMessage()
	userContent, err := m.renderContent(um.Content)
	if err != nil {
		ex.Discard()
		m.logger.Error("Failed to render user message",
			slog.String("messageID", um.ID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = m.templates.ExecuteTemplate(w, "user_message", message{
		ID:             um.ID,
		Role:           string(um.Role),
		Content:        userContent,
		Timestamp:      um.Timestamp,
		StreamingState: streamingStateEnded,
	})
	if err != nil {
		ex.Discard()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// The placeholder gets its own id: the assistant message id is only known once it is committed.
	aiMsgID := uuid.New().String()
	err = m.templates.ExecuteTemplate(w, "ai_message", message{
		ID:             aiMsgID,
		Role:           string(models.RoleAssistant),
		Timestamp:      time.Now(),
		StreamingState: streamingStateLoading,
	})
	if err != nil {
		ex.Discard()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m.replies.start(aiMsgID)
	go m.chat(ex, aiMsgID)
}

// HandleAbort cancels the reply being streamed. It responds with 204 whether or not a reply was
// streaming.
func (m Main) HandleAbort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !m.session.Abort() {
		m.logger.Debug("Nothing to abort")
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSSE serves the Server-Sent Events stream the browser subscribes to.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

func (m Main) chat(ex *session.Exchange, aiMsgID string) {
	// Ensure SSE connection cleanup on function exit
	defer func() {
		_ = m.sseSrv.Publish(closeMessage(), messageIDTopic(aiMsgID))
	}()

	ai, err := ex.Run(sseTarget{m: m, messageID: aiMsgID})
	if err != nil {
		// The target already displays the error.
		return
	}

	m.logger.Info("Reply completed",
		slog.String("messageID", ai.ID),
		slog.Int("length", len(ai.Content)))
}

func (m Main) renderContent(text string) (template.HTML, error) {
	rendered, err := m.markdown.Render(text)
	if err != nil {
		return "", err
	}
	//nolint:gosec // The markdown renderer escapes raw HTML.
	return template.HTML(rendered), nil
}

func (t sseTarget) Replace(text string) error {
	rendered, err := t.m.markdown.Render(text)
	if err != nil {
		return err
	}

	msg := &sse.Message{Type: messagesSSEType}
	msg.AppendData(rendered)

	return t.m.sseSrv.Publish(msg, messageIDTopic(t.messageID))
}

func (t sseTarget) ShowError(err error) {
	msg := &sse.Message{Type: messageErrorSSEType}
	msg.AppendData(template.HTMLEscapeString("Error: " + err.Error()))

	if err := t.m.sseSrv.Publish(msg, messageIDTopic(t.messageID)); err != nil {
		t.m.logger.Error("Failed to publish reply error",
			slog.String("messageID", t.messageID),
			slog.String(errLoggerKey, err.Error()))
	}
}
