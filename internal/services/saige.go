package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/saige-web-ui/internal/models"
)

// SAIGE is a client for the SAIGE backend HTTP API. It streams chat replies, and fetches logs,
// verifies signed log entries and runs commands on the backend host. It implements session.ChatStreamer.
type SAIGE struct {
	baseURL string

	client *http.Client

	logger *slog.Logger
}

// StatusError is returned when the backend answers with a status the call cannot interpret.
type StatusError struct {
	Code int
	Body string
}

type saigeChatRequest struct {
	Messages []saigeMessage `json:"messages"`
}

type saigeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type saigeVerifyRequest struct {
	LogEntry  string `json:"log_entry"`
	Signature string `json:"signature"`
}

type saigeVerifyResponse struct {
	Valid *bool  `json:"valid"`
	Error string `json:"error"`
}

type saigeCommandRequest struct {
	Command string `json:"command"`
}

// ErrMalformedResponse is returned when a backend response lacks the fields the call expects.
var ErrMalformedResponse = errors.New("malformed response")

const maxErrorBody = 4096

// NewSAIGE creates a client for the backend at baseURL. A nil client uses http.DefaultClient's
// settings; streaming replies rely on the client having no overall timeout.
func NewSAIGE(baseURL string, client *http.Client, logger *slog.Logger) SAIGE {
	if client == nil {
		client = &http.Client{}
	}
	return SAIGE{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger.With(slog.String("module", "saige")),
	}
}

// Chat posts the conversation history to /api/chat and returns the response body, which yields the
// assistant reply as plain incremental text. The body is tied to ctx: cancelling ctx interrupts a
// pending read.
func (s SAIGE) Chat(ctx context.Context, messages []models.Message) (io.ReadCloser, error) {
	msgs := make([]saigeMessage, len(messages))
	for i, msg := range messages {
		msgs[i] = saigeMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	resp, err := s.do(ctx, http.MethodPost, "/api/chat", saigeChatRequest{Messages: msgs})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, newStatusError(resp)
	}

	s.logger.Debug("Chat stream opened",
		slog.Int("messages", len(msgs)),
		slog.String("contentType", resp.Header.Get("Content-Type")))
	return resp.Body, nil
}

// Logs fetches the chat and inference logs. Missing fields are left empty.
func (s SAIGE) Logs(ctx context.Context) (models.Logs, error) {
	resp, err := s.do(ctx, http.MethodGet, "/api/logs", nil)
	if err != nil {
		return models.Logs{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return models.Logs{}, newStatusError(resp)
	}

	var logs models.Logs
	if err := json.NewDecoder(resp.Body).Decode(&logs); err != nil {
		return models.Logs{}, fmt.Errorf("error decoding logs: %w", err)
	}
	return logs, nil
}

// VerifyBlockchain asks the backend to verify the signature of a chat log entry. A rejected
// signature is reported in the returned Verification, not as an error.
func (s SAIGE) VerifyBlockchain(ctx context.Context, entry models.SignedEntry) (models.Verification, error) {
	resp, err := s.do(ctx, http.MethodPost, "/api/verify_blockchain", saigeVerifyRequest{
		LogEntry:  entry.Entry,
		Signature: entry.Signature,
	})
	if err != nil {
		return models.Verification{}, err
	}
	defer resp.Body.Close()

	var res saigeVerifyResponse
	if err := decodeBody(resp, &res); err != nil {
		return models.Verification{}, err
	}

	// The backend reports a bad signature as a server error carrying the reason.
	if res.Valid == nil {
		if res.Error == "" {
			return models.Verification{}, fmt.Errorf("%w: verification has neither valid nor error", ErrMalformedResponse)
		}
		return models.Verification{Error: res.Error}, nil
	}
	return models.Verification{Valid: *res.Valid, Error: res.Error}, nil
}

// Command runs one of the backend's allow-listed commands. A command refused by the backend is
// reported in the returned CommandResult, not as an error.
func (s SAIGE) Command(ctx context.Context, command string) (models.CommandResult, error) {
	resp, err := s.do(ctx, http.MethodPost, "/api/command", saigeCommandRequest{Command: command})
	if err != nil {
		return models.CommandResult{}, err
	}
	defer resp.Body.Close()

	var res models.CommandResult
	if err := decodeBody(resp, &res); err != nil {
		return models.CommandResult{}, err
	}
	if resp.StatusCode/100 != 2 && res.Error == "" {
		return models.CommandResult{}, &StatusError{Code: resp.StatusCode}
	}

	s.logger.Debug("Command finished",
		slog.String("command", command),
		slog.Int("status", resp.StatusCode))
	return res, nil
}

func (s SAIGE) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("error marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	return resp, nil
}

// decodeBody decodes a JSON object from the response, whatever the status. A body that is not JSON
// is reported as a StatusError for non-2xx responses.
func decodeBody(resp *http.Response, v any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		if resp.StatusCode/100 != 2 {
			return &StatusError{Code: resp.StatusCode, Body: truncate(string(body))}
		}
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}

func newStatusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Code: resp.StatusCode, Body: string(body)}
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.Code, e.Body)
}
