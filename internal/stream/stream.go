// Package stream implements the unified market stream (spec §4.3): one
// upstream bridge per credential, many downstream subscribers, dynamic
// subscription management without tearing the socket down. Generalized from
// the teacher's internal/exchange/ws.go WSFeed, which did the same job for
// a single Polymarket WebSocket; here the bridge is an interface so KR
// brokerage and crypto-spot feeds can both drive the same fan-out and
// subscription machinery.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zeroquant/zeroquant/internal/domain"
)

const (
	heartbeatGap     = 30 * time.Second
	maxReconnectWait = 30 * time.Second
	subscriberBuffer = 256
)

// Bridge is one upstream sub-feed (e.g. a KR brokerage socket or a
// crypto-spot socket). Connect blocks until
// ctx is cancelled or the connection drops; it must push every inbound tick
// onto events and push a time.Time onto heartbeats whenever the upstream
// sends a liveness signal (an actual tick counts as a heartbeat).
type Bridge interface {
	Connect(ctx context.Context, events chan<- domain.Tick, heartbeats chan<- time.Time) error
	Subscribe(ctx context.Context, symbols []domain.Symbol) error
	Unsubscribe(ctx context.Context, symbols []domain.Symbol) error
}

// subscriberCommand is sent on the stream's internal command channel to
// add or remove a downstream subscriber's interest in a symbol.
type subscriberCommand struct {
	symbol domain.Symbol
	delta  int // +1 on Subscribe, -1 on Unsubscribe
}

// Stream is the single-writer, multi-reader fan-out for one credential's
// bridge. Consumers obtain a broadcast receiver via NewSubscriber; a slow
// subscriber is dropped rather than allowed to back-pressure the others.
type Stream struct {
	bridge Bridge
	logger *slog.Logger

	mu          sync.Mutex
	refCounts   map[domain.Symbol]int
	subscribers map[int]chan domain.Tick
	nextSubID   int

	commands chan subscriberCommand
	events   chan domain.Tick
}

func New(bridge Bridge, logger *slog.Logger) *Stream {
	return &Stream{
		bridge:      bridge,
		logger:      logger,
		refCounts:   make(map[domain.Symbol]int),
		subscribers: make(map[int]chan domain.Tick),
		commands:    make(chan subscriberCommand, 64),
		events:      make(chan domain.Tick, subscriberBuffer),
	}
}

// Run connects the bridge and fans out events until ctx is cancelled,
// reconnecting with capped exponential backoff (1,2,4,8,16,30s) whenever
// the heartbeat gap exceeds 30s or Connect returns an error.
func (s *Stream) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := s.connectAndPump(ctx)
		if ctx.Err() != nil {
			s.closeAllSubscribers()
			return ctx.Err()
		}

		s.logger.Warn("market stream disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			s.closeAllSubscribers()
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (s *Stream) connectAndPump(ctx context.Context) error {
	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	heartbeats := make(chan time.Time, 1)
	bridgeEvents := make(chan domain.Tick, subscriberBuffer)

	connErr := make(chan error, 1)
	go func() {
		connErr <- s.bridge.Connect(pumpCtx, bridgeEvents, heartbeats)
	}()

	if err := s.resubscribeAll(pumpCtx); err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}

	watchdog := time.NewTimer(heartbeatGap)
	defer watchdog.Stop()

	for {
		select {
		case <-pumpCtx.Done():
			return pumpCtx.Err()
		case err := <-connErr:
			return err
		case cmd := <-s.commands:
			s.applySubscriberCommand(pumpCtx, cmd)
		case tick := <-bridgeEvents:
			s.broadcast(tick)
		case <-heartbeats:
			if !watchdog.Stop() {
				<-watchdog.C
			}
			watchdog.Reset(heartbeatGap)
		case <-watchdog.C:
			return fmt.Errorf("heartbeat gap exceeded %s", heartbeatGap)
		}
	}
}

func (s *Stream) resubscribeAll(ctx context.Context) error {
	s.mu.Lock()
	symbols := make([]domain.Symbol, 0, len(s.refCounts))
	for sym, count := range s.refCounts {
		if count > 0 {
			symbols = append(symbols, sym)
		}
	}
	s.mu.Unlock()
	if len(symbols) == 0 {
		return nil
	}
	return s.bridge.Subscribe(ctx, symbols)
}

func (s *Stream) applySubscriberCommand(ctx context.Context, cmd subscriberCommand) {
	s.mu.Lock()
	prev := s.refCounts[cmd.symbol]
	next := prev + cmd.delta
	if next < 0 {
		next = 0
	}
	s.refCounts[cmd.symbol] = next
	s.mu.Unlock()

	var err error
	switch {
	case prev == 0 && next > 0:
		err = s.bridge.Subscribe(ctx, []domain.Symbol{cmd.symbol})
	case prev > 0 && next == 0:
		err = s.bridge.Unsubscribe(ctx, []domain.Symbol{cmd.symbol})
	}
	if err != nil {
		s.logger.Error("subscription update failed", "symbol", cmd.symbol, "error", err)
	}
}

func (s *Stream) broadcast(tick domain.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subscribers {
		select {
		case ch <- tick:
		default:
			s.logger.Warn("consumer lagged, dropping subscriber", "subscriber_id", id, "symbol", tick.Symbol)
			close(ch)
			delete(s.subscribers, id)
		}
	}
}

func (s *Stream) closeAllSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Subscriber is a live handle to tick events for a set of symbols. Calling
// Close decrements the reference count on every symbol it was watching;
// when a symbol's count reaches zero the upstream subscription is dropped.
type Subscriber struct {
	stream  *Stream
	id      int
	ch      chan domain.Tick
	symbols []domain.Symbol
}

// NewSubscriber registers interest in symbols and returns a handle whose
// Events() channel receives every subsequent tick for those symbols (the
// stream does not filter per-subscriber; callers are expected to check
// tick.Symbol, matching the teacher's single-channel-per-feed pattern).
func (s *Stream) NewSubscriber(ctx context.Context, symbols []domain.Symbol) *Subscriber {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan domain.Tick, subscriberBuffer)
	s.subscribers[id] = ch
	s.mu.Unlock()

	for _, sym := range symbols {
		select {
		case s.commands <- subscriberCommand{symbol: sym, delta: 1}:
		case <-ctx.Done():
		}
	}

	return &Subscriber{stream: s, id: id, ch: ch, symbols: symbols}
}

func (sub *Subscriber) Events() <-chan domain.Tick { return sub.ch }

// Close decrements refcounts for every symbol this subscriber was watching
// and removes its broadcast channel.
func (sub *Subscriber) Close() {
	sub.stream.mu.Lock()
	if ch, ok := sub.stream.subscribers[sub.id]; ok {
		close(ch)
		delete(sub.stream.subscribers, sub.id)
	}
	sub.stream.mu.Unlock()

	for _, sym := range sub.symbols {
		select {
		case sub.stream.commands <- subscriberCommand{symbol: sym, delta: -1}:
		default:
		}
	}
}
