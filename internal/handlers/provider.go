package handlers

import (
	"context"
	"slices"
	"sync"

	"github.com/tmaxmax/go-sse"
)

// replyProvider is the SSE provider of the console. Besides delivering published events to the
// subscribers of their topics, it keeps the latest render of the reply being streamed and replays
// it to a subscriber of that reply while registering it. Registration, replay and publishing are
// serialized, so a browser subscribing at any point of the stream misses no event.
type replyProvider struct {
	mu sync.Mutex

	subs   map[*replySubscriber]struct{}
	closed bool

	live liveReply
}

type replySubscriber struct {
	sub  sse.Subscription
	done chan struct{}
}

// liveReply is the latest render of the reply being streamed.
type liveReply struct {
	messageID string
	event     *sse.Message
	ended     bool
}

var _ sse.Provider = (*replyProvider)(nil)

func newReplyProvider() *replyProvider {
	return &replyProvider{subs: make(map[*replySubscriber]struct{})}
}

// Subscribe registers the subscription until ctx is done or the provider shuts down.
func (p *replyProvider) Subscribe(ctx context.Context, sub sse.Subscription) error {
	s := &replySubscriber{sub: sub, done: make(chan struct{})}

	if err := p.register(s); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-s.done:
	}

	p.mu.Lock()
	delete(p.subs, s)
	p.mu.Unlock()

	return nil
}

func (p *replyProvider) register(s *replySubscriber) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return sse.ErrProviderClosed
	}

	p.subs[s] = struct{}{}

	live := p.live
	if live.messageID != "" && slices.Contains(s.sub.Topics, messageIDTopic(live.messageID)) {
		if live.event != nil {
			if err := s.sub.Client.Send(live.event); err != nil {
				delete(p.subs, s)
				return err
			}
		}
		if live.ended {
			if err := s.sub.Client.Send(closeMessage()); err != nil {
				delete(p.subs, s)
				return err
			}
		}
	}

	// Flushing also sends the response headers to a subscriber that got no replay.
	if err := s.sub.Client.Flush(); err != nil {
		delete(p.subs, s)
		return err
	}
	return nil
}

// Publish sends msg to the subscribers of any of topics. Events published on the topic of the live
// reply update its latest render.
func (p *replyProvider) Publish(msg *sse.Message, topics []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return sse.ErrProviderClosed
	}
	if len(topics) == 0 {
		topics = []string{sse.DefaultTopic}
	}

	if p.live.messageID != "" && slices.Contains(topics, messageIDTopic(p.live.messageID)) {
		if msg.Type == closeMessageSSEType {
			p.live.ended = true
		} else {
			p.live.event = msg
		}
	}

	for s := range p.subs {
		if !subscribed(s.sub.Topics, topics) {
			continue
		}
		if err := s.sub.Client.Send(msg); err != nil {
			s.drop()
			continue
		}
		if err := s.sub.Client.Flush(); err != nil {
			s.drop()
		}
	}
	return nil
}

// Shutdown disconnects every subscriber. Later calls to the provider fail with
// sse.ErrProviderClosed.
func (p *replyProvider) Shutdown(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return sse.ErrProviderClosed
	}
	p.closed = true

	for s := range p.subs {
		s.drop()
		delete(p.subs, s)
	}
	return nil
}

// start makes messageID the live reply, forgetting the previous one.
func (p *replyProvider) start(messageID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.live = liveReply{messageID: messageID}
}

// current returns the id of the reply being streamed, or an empty string when none is.
func (p *replyProvider) current() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.live.ended {
		return ""
	}
	return p.live.messageID
}

func (s *replySubscriber) drop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func subscribed(subTopics, topics []string) bool {
	for _, t := range topics {
		if slices.Contains(subTopics, t) {
			return true
		}
	}
	return false
}
