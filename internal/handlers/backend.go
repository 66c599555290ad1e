package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/saige-web-ui/internal/models"
)

type logsData struct {
	ChatLogs      string
	InferenceLogs string
}

type resultData struct {
	Text  string
	Error bool
}

// HandleLogs renders the chat and inference logs fetched from the backend. Missing logs are shown
// as placeholders; a failed fetch is shown in place of the chat logs.
func (m Main) HandleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data := logsData{}
	logs, err := m.backend.Logs(r.Context())
	if err != nil {
		m.logger.Error("Failed to fetch logs", slog.String(errLoggerKey, err.Error()))
		data.ChatLogs = "Error: " + err.Error()
		data.InferenceLogs = models.NoInferenceLogs
	} else {
		data.ChatLogs = logs.ChatLogsText()
		data.InferenceLogs = logs.InferenceLogsText()
	}

	if err := m.templates.ExecuteTemplate(w, "logs", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleVerify verifies the signature of the most recent chat log entry and renders the verdict.
func (m Main) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.renderResult(w, m.verify(r))
}

// HandleCommands runs the command given in the "command" form field on the backend and renders its
// output, or its error when there is no output.
func (m Main) HandleCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cmd := strings.TrimSpace(r.FormValue("command"))
	if cmd == "" {
		m.logger.Error("Command is required")
		http.Error(w, "Command is required", http.StatusBadRequest)
		return
	}

	res, err := m.backend.Command(r.Context(), cmd)
	if err != nil {
		m.logger.Error("Failed to run command",
			slog.String("command", cmd),
			slog.String(errLoggerKey, err.Error()))
		m.renderResult(w, resultData{Text: "Error: " + err.Error(), Error: true})
		return
	}

	text := res.Text()
	if text == "" {
		text = "(no output)"
	}
	m.renderResult(w, resultData{Text: text, Error: res.Output == "" && res.Error != ""})
}

func (m Main) verify(r *http.Request) resultData {
	logs, err := m.backend.Logs(r.Context())
	if err != nil {
		m.logger.Error("Failed to fetch logs", slog.String(errLoggerKey, err.Error()))
		return resultData{Text: "Error: " + err.Error(), Error: true}
	}

	entry, err := models.LastSignedEntry(logs.ChatLogs)
	if err != nil {
		return resultData{Text: "Error: " + err.Error(), Error: true}
	}

	v, err := m.backend.VerifyBlockchain(r.Context(), entry)
	if err != nil {
		m.logger.Error("Failed to verify log entry", slog.String(errLoggerKey, err.Error()))
		return resultData{Text: "Error: " + err.Error(), Error: true}
	}

	return resultData{Text: v.Text(), Error: !v.Valid}
}

func (m Main) renderResult(w http.ResponseWriter, data resultData) {
	if err := m.templates.ExecuteTemplate(w, "result", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
