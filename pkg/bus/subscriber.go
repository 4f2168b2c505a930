package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// receiveTimeout bounds each blocking read on the pubsub socket so the run
// loop can notice Close promptly. A timeout is not an error: the loop just
// polls again.
const receiveTimeout = time.Second

// reconnectBackoff is the pause before rebuilding a failed pubsub
// connection, to avoid hot-looping against an unreachable Redis.
const reconnectBackoff = time.Second

// Handler receives every whitelisted event delivered on a subscribed
// channel. Called from the subscriber's single run goroutine: handlers
// must not block (enqueue and return).
type Handler func(channel string, env *Envelope)

// Subscriber multiplexes one Redis Pub/Sub connection over a dynamic
// channel set. The actor manager runs a single long-lived Subscriber shared
// by every actor; each SSE connection opens its own short-lived one scoped
// to the topic it watches.
//
// Self-healing: on a socket read timeout the loop continues; on any other
// receive error it closes the pubsub client and rebuilds the subscription
// with the current channel set. Events published during the rebuild are
// lost: Redis delivers at most once and the callers tolerate that.
type Subscriber struct {
	rdb     redis.UniversalClient
	handler Handler

	mu       sync.Mutex
	pubsub   *redis.PubSub
	channels map[string]bool
	closed   bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// rebuild counter, read by tests to assert self-healing.
	rebuilds int
}

// NewSubscriber creates a Subscriber and starts its run loop.
func NewSubscriber(rdb redis.UniversalClient, handler Handler) *Subscriber {
	s := &Subscriber{
		rdb:      rdb,
		handler:  handler,
		channels: make(map[string]bool),
		stopCh:   make(chan struct{}),
	}
	s.pubsub = rdb.Subscribe(context.Background())
	s.wg.Add(1)
	go s.run()
	return s
}

// Subscribe adds a channel to the subscription set. Idempotent.
func (s *Subscriber) Subscribe(ctx context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("subscriber closed")
	}
	if s.channels[channel] {
		return nil
	}
	if err := s.pubsub.Subscribe(ctx, channel); err != nil {
		return err
	}
	s.channels[channel] = true
	return nil
}

// Unsubscribe removes a channel from the subscription set. Idempotent.
func (s *Subscriber) Unsubscribe(ctx context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.channels[channel] {
		return nil
	}
	delete(s.channels, channel)
	return s.pubsub.Unsubscribe(ctx, channel)
}

// Channels returns a snapshot of the current subscription set.
func (s *Subscriber) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	return out
}

// Close stops the run loop and closes the pubsub connection.
func (s *Subscriber) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.pubsub.Close()
}

// run is the single receive loop.
func (s *Subscriber) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		s.mu.Lock()
		ps := s.pubsub
		s.mu.Unlock()

		msg, err := ps.ReceiveTimeout(context.Background(), receiveTimeout)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue // idle socket: poll again
			}
			select {
			case <-s.stopCh:
				return
			default:
			}
			slog.Warn("Pubsub receive failed, rebuilding subscription", "error", err)
			s.rebuild()
			continue
		}

		m, ok := msg.(*redis.Message)
		if !ok {
			continue // subscription confirmations, pongs
		}
		s.dispatch(m.Channel, []byte(m.Payload))
	}
}

// dispatch decodes the routing header and hands whitelisted events to the
// handler. Unknown event types and malformed payloads are dropped.
func (s *Subscriber) dispatch(channel string, payload []byte) {
	var head struct {
		Type      string `json:"type"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		slog.Warn("Dropping malformed event payload", "channel", channel, "error", err)
		return
	}
	if !KnownEventType(head.Type) {
		return
	}
	s.handler(channel, &Envelope{Type: head.Type, Timestamp: head.Timestamp, Payload: payload})
}

// rebuild closes the broken pubsub client and re-subscribes the current
// channel set on a fresh one. No events are consumed while rebuilding.
func (s *Subscriber) rebuild() {
	select {
	case <-s.stopCh:
		return
	case <-time.After(reconnectBackoff):
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	_ = s.pubsub.Close()
	chans := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		chans = append(chans, ch)
	}
	s.pubsub = s.rdb.Subscribe(context.Background(), chans...)
	s.rebuilds++
	slog.Info("Pubsub subscription rebuilt", "channels", len(chans))
}
