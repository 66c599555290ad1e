package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/MegaGrindStone/saige-web-ui/internal/models"
)

type homePageData struct {
	Messages []message
	InFlight bool
}

// HandleHome renders the console page with the conversation so far.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	conv := m.session.Messages()
	msgs := make([]message, len(conv))
	for i, msg := range conv {
		content, err := m.renderContent(msg.Content)
		if err != nil {
			m.logger.Error("Failed to render message",
				slog.String("messageID", msg.ID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		msgs[i] = message{
			ID:             msg.ID,
			Role:           string(msg.Role),
			Content:        content,
			Timestamp:      msg.Timestamp,
			StreamingState: streamingStateEnded,
		}
	}

	data := homePageData{
		Messages: msgs,
		InFlight: m.session.InFlight(),
	}
	// A reload in the middle of a reply resubscribes to it.
	if id := m.replies.current(); data.InFlight && id != "" {
		data.Messages = append(data.Messages, message{
			ID:             id,
			Role:           string(models.RoleAssistant),
			Timestamp:      time.Now(),
			StreamingState: streamingStateLoading,
		})
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
