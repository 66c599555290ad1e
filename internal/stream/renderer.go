// Package stream turns an in-progress textual response, delivered as a byte stream, into a series
// of renders of the text received so far.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
)

// Target is a display surface for a single streamed response. Replace swaps the displayed content
// for the given text; ShowError switches the surface to a visible error state, replacing whatever
// partial text was displayed.
type Target interface {
	Replace(text string) error
	ShowError(err error)
}

// State is the lifecycle state of a Renderer.
type State int32

const (
	// StateIdle is the state of a renderer that has not started consuming.
	StateIdle State = iota
	// StateStreaming is entered on the first chunk request.
	StateStreaming
	// StateCompleted is entered when the source signals end of stream.
	StateCompleted
	// StateFailed is entered on any read, decode or render error, including cancellation.
	StateFailed
)

// DefaultChunkSize is the read buffer size used when no WithChunkSize option is given.
const DefaultChunkSize = 4096

// ErrRendererUsed is returned when Consume is called on a renderer that already consumed a stream.
var ErrRendererUsed = errors.New("renderer already consumed a stream")

// Renderer progressively decodes a response body and re-renders the accumulated text into its
// Target after each chunk. A Renderer is single-use: it moves from StateIdle to StateStreaming and
// ends in either StateCompleted or StateFailed.
type Renderer struct {
	target    Target
	mode      DecodeMode
	chunkSize int
	logger    *slog.Logger

	state  atomic.Int32
	chunks atomic.Int64
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithDecodeMode sets how malformed UTF-8 is handled. The default is DecodeStrict.
func WithDecodeMode(mode DecodeMode) RendererOption {
	return func(r *Renderer) {
		r.mode = mode
	}
}

// WithChunkSize sets the maximum number of bytes pulled from the stream per read.
func WithChunkSize(size int) RendererOption {
	return func(r *Renderer) {
		if size > 0 {
			r.chunkSize = size
		}
	}
}

// WithLogger sets the logger used for per-chunk debug output.
func WithLogger(logger *slog.Logger) RendererOption {
	return func(r *Renderer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRenderer creates an idle renderer that renders into target.
func NewRenderer(target Target, opts ...RendererOption) *Renderer {
	r := &Renderer{
		target:    target,
		mode:      DecodeStrict,
		chunkSize: DefaultChunkSize,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Consume reads body until end of stream, rendering the accumulated text after every chunk, and
// returns the complete text. On failure the target is switched to its error state and the partial
// text is discarded: the caller only ever gets text that was fully received. Cancelling ctx aborts
// the read loop between chunks; callers that need to interrupt a blocked read should also tie the
// body to ctx, as http.NewRequestWithContext does.
func (r *Renderer) Consume(ctx context.Context, body io.Reader) (string, error) {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateStreaming)) {
		return "", ErrRendererUsed
	}

	text, err := r.consume(ctx, body)
	if err != nil {
		r.state.Store(int32(StateFailed))
		r.logger.Debug("Stream failed",
			slog.Int64("chunks", r.chunks.Load()),
			slog.String(errLoggerKey, err.Error()))
		r.target.ShowError(err)
		return "", err
	}

	r.state.Store(int32(StateCompleted))
	r.logger.Debug("Stream completed",
		slog.Int64("chunks", r.chunks.Load()),
		slog.Int("length", len(text)))
	return text, nil
}

func (r *Renderer) consume(ctx context.Context, body io.Reader) (string, error) {
	dec := NewDecoder(r.mode)
	buf := make([]byte, r.chunkSize)

	var acc strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("stream aborted: %w", err)
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			idx := r.chunks.Add(1)

			text, err := dec.Decode(buf[:n], false)
			if err != nil {
				return "", fmt.Errorf("error decoding chunk %d: %w", idx, err)
			}
			acc.WriteString(text)

			if err := r.target.Replace(acc.String()); err != nil {
				return "", fmt.Errorf("error rendering chunk %d: %w", idx, err)
			}
			r.logger.Debug("Rendered chunk",
				slog.Int64("chunk", idx),
				slog.Int("bytes", n),
				slog.Int("pending", dec.Pending()))
		}

		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("error reading response: %w", readErr)
		}
	}

	tail, err := dec.Decode(nil, true)
	if err != nil {
		return "", fmt.Errorf("error decoding end of stream: %w", err)
	}

	// The last chunk is already displayed unless the flush produced text, or there was no chunk.
	if tail != "" || r.chunks.Load() == 0 {
		acc.WriteString(tail)
		if err := r.target.Replace(acc.String()); err != nil {
			return "", fmt.Errorf("error rendering end of stream: %w", err)
		}
	}

	return acc.String(), nil
}

// State returns the current lifecycle state. It is safe to call from any goroutine.
func (r *Renderer) State() State {
	return State(r.state.Load())
}

// Chunks returns the number of non-empty chunks read so far.
func (r *Renderer) Chunks() int {
	return int(r.chunks.Load())
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const errLoggerKey = "error"
