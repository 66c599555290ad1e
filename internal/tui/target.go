package tui

import (
	"errors"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// replyBuffer bounds how far the stream may run ahead of the program loop.
const replyBuffer = 64

var errReplyStopped = errors.New("console closed")

// replyTarget hands the renders of one streaming reply to the program as messages. The program
// pulls them with wait, one at a time.
type replyTarget struct {
	updates chan tea.Msg
	done    chan struct{}

	closeOnce sync.Once
	stopOnce  sync.Once
}

type replyRenderMsg struct {
	target *replyTarget
	text   string
}

type replyErrorMsg struct {
	target *replyTarget
	err    error
}

func newReplyTarget() *replyTarget {
	return &replyTarget{
		updates: make(chan tea.Msg, replyBuffer),
		done:    make(chan struct{}),
	}
}

func (t *replyTarget) Replace(text string) error {
	return t.push(replyRenderMsg{target: t, text: text})
}

func (t *replyTarget) ShowError(err error) {
	_ = t.push(replyErrorMsg{target: t, err: err})
}

func (t *replyTarget) push(msg tea.Msg) error {
	select {
	case <-t.done:
		return errReplyStopped
	default:
	}

	select {
	case t.updates <- msg:
		return nil
	case <-t.done:
		return errReplyStopped
	}
}

// wait returns a command delivering the next render, or nothing once the reply is over.
func (t *replyTarget) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg, ok := <-t.updates:
			if !ok {
				return nil
			}
			return msg
		case <-t.done:
			return nil
		}
	}
}

// close is called by the stream goroutine once it stopped rendering.
func (t *replyTarget) close() {
	t.closeOnce.Do(func() { close(t.updates) })
}

// stop unblocks the stream goroutine when the program no longer reads renders.
func (t *replyTarget) stop() {
	t.stopOnce.Do(func() { close(t.done) })
}
