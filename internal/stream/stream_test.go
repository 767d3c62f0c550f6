package stream

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBridge emits ticks fed via the ticks channel and records
// subscribe/unsubscribe calls for assertions.
type fakeBridge struct {
	mu            sync.Mutex
	subscribed    map[domain.Symbol]bool
	ticks         chan domain.Tick
	connectCalled chan struct{}
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		subscribed:    make(map[domain.Symbol]bool),
		ticks:         make(chan domain.Tick, 16),
		connectCalled: make(chan struct{}, 1),
	}
}

func (f *fakeBridge) Connect(ctx context.Context, events chan<- domain.Tick, heartbeats chan<- time.Time) error {
	select {
	case f.connectCalled <- struct{}{}:
	default:
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-f.ticks:
			events <- t
			select {
			case heartbeats <- time.Now():
			default:
			}
		}
	}
}

func (f *fakeBridge) Subscribe(ctx context.Context, symbols []domain.Symbol) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range symbols {
		f.subscribed[s] = true
	}
	return nil
}

func (f *fakeBridge) Unsubscribe(ctx context.Context, symbols []domain.Symbol) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range symbols {
		delete(f.subscribed, s)
	}
	return nil
}

func (f *fakeBridge) isSubscribed(s domain.Symbol) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[s]
}

func TestSubscriberReceivesBroadcastTicks(t *testing.T) {
	t.Parallel()
	bridge := newFakeBridge()
	s := New(bridge, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	sym := domain.NewSymbol("005930", domain.MarketKR)
	sub := s.NewSubscriber(ctx, []domain.Symbol{sym})
	defer sub.Close()

	waitUntil(t, func() bool { return bridge.isSubscribed(sym) })

	bridge.ticks <- domain.Tick{Symbol: sym, Price: decimal.RequireFromString("100")}

	select {
	case tick := <-sub.Events():
		if !tick.Price.Equal(decimal.RequireFromString("100")) {
			t.Errorf("price = %s, want 100", tick.Price)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}
}

func TestSubscriberCloseUnsubscribesOnLastDrop(t *testing.T) {
	t.Parallel()
	bridge := newFakeBridge()
	s := New(bridge, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	sym := domain.NewSymbol("BTC-USDT", domain.MarketCrypto)
	subA := s.NewSubscriber(ctx, []domain.Symbol{sym})
	subB := s.NewSubscriber(ctx, []domain.Symbol{sym})

	waitUntil(t, func() bool { return bridge.isSubscribed(sym) })

	subA.Close()
	time.Sleep(50 * time.Millisecond)
	if !bridge.isSubscribed(sym) {
		t.Fatal("expected symbol to remain subscribed while subB is active")
	}

	subB.Close()
	waitUntil(t, func() bool { return !bridge.isSubscribed(sym) })
}

func TestSlowSubscriberIsDroppedNotBackpressured(t *testing.T) {
	t.Parallel()
	bridge := newFakeBridge()
	s := New(bridge, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	sym := domain.NewSymbol("005930", domain.MarketKR)
	slow := s.NewSubscriber(ctx, []domain.Symbol{sym})
	waitUntil(t, func() bool { return bridge.isSubscribed(sym) })

	for i := 0; i < subscriberBuffer+10; i++ {
		bridge.ticks <- domain.Tick{Symbol: sym, Price: decimal.RequireFromString("1")}
	}

	waitUntil(t, func() bool {
		select {
		case _, ok := <-slow.Events():
			return !ok
		default:
			return false
		}
	})
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
