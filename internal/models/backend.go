package models

import (
	"errors"
	"strings"
)

// Logs holds the log texts exposed by the backend. Either field may be missing from the response.
type Logs struct {
	ChatLogs      string `json:"chat_logs,omitempty"`
	InferenceLogs string `json:"inference_logs,omitempty"`
}

// Verification is the backend verdict on a signed chat log entry.
type Verification struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// CommandResult is the outcome of a backend command. The backend may fill both fields.
type CommandResult struct {
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// SignedEntry is a chat log entry together with the signature the backend computed over it.
type SignedEntry struct {
	Entry     string
	Signature string
}

const (
	// NoChatLogs is displayed when the backend returns no chat logs.
	NoChatLogs = "No logs"
	// NoInferenceLogs is displayed when the backend returns no inference logs.
	NoInferenceLogs = "No inference logs"

	logBlockSeparator = "---"
	signaturePrefix   = "Signature: "
)

// ErrNoSignedEntry is returned when the chat logs hold no entry with a signature line.
var ErrNoSignedEntry = errors.New("no signed log entry found")

// ChatLogsText returns the chat logs, or a placeholder when there are none.
func (l Logs) ChatLogsText() string {
	if l.ChatLogs == "" {
		return NoChatLogs
	}
	return l.ChatLogs
}

// InferenceLogsText returns the inference logs, or a placeholder when there are none.
func (l Logs) InferenceLogsText() string {
	if l.InferenceLogs == "" {
		return NoInferenceLogs
	}
	return l.InferenceLogs
}

// Text returns the verdict as displayed to the user.
func (v Verification) Text() string {
	if v.Valid {
		return "Blockchain valid"
	}
	return "Invalid: " + v.Error
}

// Text returns the text to display for the command result: the output when present, the error
// otherwise.
func (c CommandResult) Text() string {
	if c.Output != "" {
		return c.Output
	}
	return c.Error
}

// LastSignedEntry extracts the most recent signed entry from the chat logs. The backend writes
// each entry as
//
//	User: <message>
//	Assistant: <response>
//	Signature: <hex>
//	Block Hash: <hex>
//	---
//
// and signs exactly the "User: ...\nAssistant: ...\n" part, which is what Entry holds.
func LastSignedEntry(chatLogs string) (SignedEntry, error) {
	blocks := strings.Split(chatLogs, logBlockSeparator)
	for i := len(blocks) - 1; i >= 0; i-- {
		block := strings.TrimSpace(blocks[i])
		if block == "" {
			continue
		}

		entry, sigLine, found := strings.Cut(block, signaturePrefix)
		if !found {
			return SignedEntry{}, ErrNoSignedEntry
		}
		signature, _, _ := strings.Cut(sigLine, "\n")
		signature = strings.TrimSpace(signature)
		if signature == "" {
			return SignedEntry{}, ErrNoSignedEntry
		}

		return SignedEntry{
			Entry:     entry,
			Signature: signature,
		}, nil
	}
	return SignedEntry{}, ErrNoSignedEntry
}
