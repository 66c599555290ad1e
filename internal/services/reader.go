package services

import (
	"io"
	"iter"
)

// StreamReader adapts a sequence of text deltas to a byte stream, so that replies produced by LLM
// clients are consumed exactly like the backend's plain-text response body. An error from the
// sequence is returned by Read once the text before it was read. Closing the reader stops the
// sequence at its next delta.
func StreamReader(seq iter.Seq2[string, error]) io.ReadCloser {
	pr, pw := io.Pipe()

	go func() {
		for text, err := range seq {
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			if text == "" {
				continue
			}
			if _, err := io.WriteString(pw, text); err != nil {
				return
			}
		}
		pw.Close()
	}()

	return pr
}
