package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	saigewebui "github.com/MegaGrindStone/saige-web-ui"
	"github.com/MegaGrindStone/saige-web-ui/internal/models"
	"github.com/MegaGrindStone/saige-web-ui/internal/session"
	"github.com/tmaxmax/go-sse"
)

// Backend represents the non-streaming part of the SAIGE backend API: log retrieval, signature
// verification and command execution.
type Backend interface {
	Logs(ctx context.Context) (models.Logs, error)
	VerifyBlockchain(ctx context.Context, entry models.SignedEntry) (models.Verification, error)
	Command(ctx context.Context, command string) (models.CommandResult, error)
}

// MarkdownRenderer converts message text to HTML that is safe to embed in the page.
type MarkdownRenderer interface {
	Render(text string) (string, error)
}

// Main handles the web console: it serves the page and its partials, forwards user commands to the
// session and the backend, and pushes every render of a streaming reply to the browser through
// server-sent events.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	session  *session.Session
	backend  Backend
	markdown MarkdownRenderer

	replies *replyProvider

	logger *slog.Logger
}

// SSE event types for real-time updates.
var (
	messagesSSEType     = sse.Type("messages")
	messageErrorSSEType = sse.Type("messageError")
	closeMessageSSEType = sse.Type("closeMessage")
	closeChatSSEType    = sse.Type("closeChat")
)

const errLoggerKey = "error"

// NewMain creates a new Main instance serving the given session. It initializes the SSE server and
// parses the required HTML templates from the embedded filesystem. Browsers subscribe to the topic
// of the reply they display through the message_id query parameter.
func NewMain(sess *session.Session, backend Backend, markdown MarkdownRenderer, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		saigewebui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	replies := newReplyProvider()
	logger = logger.With(slog.String("module", "handlers"))

	return Main{
		sseSrv: &sse.Server{
			Provider: replies,
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				topics := []string{sse.DefaultTopic}

				// The provider replays the latest render of this reply on subscription.
				if messageID := s.Req.URL.Query().Get("message_id"); messageID != "" {
					topics = append(topics, messageIDTopic(messageID))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates: tmpl,
		session:   sess,
		backend:   backend,
		markdown:  markdown,
		replies:   replies,
		logger:    logger,
	}, nil
}

func messageIDTopic(messageID string) string {
	return fmt.Sprintf("message-%s", messageID)
}

// Shutdown aborts the reply being streamed, if any, and gracefully terminates the SSE server. It
// broadcasts a close message to all connected clients and waits up to 5 seconds for connections to
// terminate. After the timeout, any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	m.session.Abort()

	e := &sse.Message{Type: closeChatSSEType}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

func closeMessage() *sse.Message {
	e := &sse.Message{Type: closeMessageSSEType}
	e.AppendData("bye")
	return e
}
