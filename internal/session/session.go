// Package session holds the conversation of a chat console and coordinates sending messages: at
// most one send is in flight at a time, and an exchange is committed to the conversation only once
// the assistant reply was fully received.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/saige-web-ui/internal/models"
	"github.com/MegaGrindStone/saige-web-ui/internal/stream"
	"github.com/google/uuid"
)

// ChatStreamer opens a streamed assistant reply for the given conversation history. The returned
// body yields the reply as plain incremental text and must be closed by the caller.
type ChatStreamer interface {
	Chat(ctx context.Context, messages []models.Message) (io.ReadCloser, error)
}

// Session owns a Conversation and serializes sends against it. Concurrent sends are rejected with
// ErrSendInFlight rather than queued.
type Session struct {
	conv         *models.Conversation
	chat         ChatStreamer
	rendererOpts []stream.RendererOption

	logger *slog.Logger

	mu       sync.Mutex
	inFlight *Exchange
}

// Exchange is a claimed send: the user message waiting for its reply. It holds the session's
// in-flight slot until Run returns or Discard is called.
type Exchange struct {
	session *Session
	user    models.Message

	ctx    context.Context
	cancel context.CancelFunc

	release sync.Once
}

var (
	// ErrSendInFlight is returned when a send is attempted while another one is streaming.
	ErrSendInFlight = errors.New("a message is already being sent")
	// ErrEmptyMessage is returned when the message is empty after trimming whitespace.
	ErrEmptyMessage = errors.New("message is empty")
)

const errLoggerKey = "error"

// New creates a session with an empty conversation that streams replies from chat. The renderer
// options apply to every reply.
func New(chat ChatStreamer, logger *slog.Logger, rendererOpts ...stream.RendererOption) *Session {
	logger = logger.With(slog.String("module", "session"))
	return &Session{
		conv:         models.NewConversation(),
		chat:         chat,
		rendererOpts: append(slices.Clone(rendererOpts), stream.WithLogger(logger)),
		logger:       logger,
	}
}

// Send trims text and sends it, rendering the streamed reply into target. It returns the assistant
// message once the reply completed; by then both the user message and the reply are appended to the
// conversation. On failure nothing is appended and target shows the error.
func (s *Session) Send(ctx context.Context, text string, target stream.Target) (models.Message, error) {
	ex, err := s.Prepare(ctx, text)
	if err != nil {
		return models.Message{}, err
	}
	return ex.Run(target)
}

// Prepare validates text and claims the session's in-flight slot, without contacting the backend
// yet. The returned exchange is bound to ctx, and must be either run or discarded.
func (s *Session) Prepare(ctx context.Context, text string) (*Exchange, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight != nil {
		return nil, ErrSendInFlight
	}

	ctx, cancel := context.WithCancel(ctx)
	ex := &Exchange{
		session: s,
		user: models.Message{
			ID:        uuid.New().String(),
			Role:      models.RoleUser,
			Content:   text,
			Timestamp: time.Now(),
		},
		ctx:    ctx,
		cancel: cancel,
	}
	s.inFlight = ex
	return ex, nil
}

// Abort cancels the in-flight send, if any, and reports whether there was one. The aborted send
// fails and appends nothing.
func (s *Session) Abort() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight == nil {
		return false
	}
	s.inFlight.cancel()
	s.logger.Info("Aborted in-flight send", slog.String("messageID", s.inFlight.user.ID))
	return true
}

// InFlight reports whether a send is in progress.
func (s *Session) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inFlight != nil
}

// Messages returns a copy of the conversation.
func (s *Session) Messages() []models.Message {
	return s.conv.Messages()
}

// Len returns the number of messages in the conversation.
func (s *Session) Len() int {
	return s.conv.Len()
}

// UserMessage returns the message being sent.
func (e *Exchange) UserMessage() models.Message {
	return e.user
}

// Run opens the reply stream and renders it into target. It releases the session's in-flight slot
// before returning.
func (e *Exchange) Run(target stream.Target) (models.Message, error) {
	defer e.Discard()

	s := e.session
	history := append(s.conv.Messages(), e.user)

	body, err := s.chat.Chat(e.ctx, history)
	if err != nil {
		err = fmt.Errorf("error opening chat stream: %w", err)
		s.logger.Error("Failed to open chat stream",
			slog.String("messageID", e.user.ID),
			slog.String(errLoggerKey, err.Error()))
		target.ShowError(err)
		return models.Message{}, err
	}
	defer body.Close()

	reply, err := stream.NewRenderer(target, s.rendererOpts...).Consume(e.ctx, body)
	if err != nil {
		s.logger.Error("Failed to stream reply",
			slog.String("messageID", e.user.ID),
			slog.String(errLoggerKey, err.Error()))
		return models.Message{}, err
	}

	ai := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Content:   reply,
		Timestamp: time.Now(),
	}
	if err := s.conv.Append(e.user, ai); err != nil {
		return models.Message{}, fmt.Errorf("failed to append exchange: %w", err)
	}

	s.logger.Debug("Exchange committed",
		slog.String("userMessageID", e.user.ID),
		slog.String("assistantMessageID", ai.ID),
		slog.Int("conversationLength", s.conv.Len()))
	return ai, nil
}

// Discard cancels the exchange and frees the session's in-flight slot. It is safe to call more than
// once, and after Run.
func (e *Exchange) Discard() {
	e.release.Do(func() {
		e.cancel()

		s := e.session
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.inFlight == e {
			s.inFlight = nil
		}
	})
}
