package stream

import (
	"context"
	"log/slog"
	"sync"
)

// Registry hands back the same Stream handle to every caller requesting
// the same credential_id, creating it lazily on first request and starting
// its Run loop in the background. Global, process-wide, per spec §8 ("the
// market-stream registry is process-wide... initialised at process start
// and torn down at shutdown").
type Registry struct {
	mu      sync.Mutex
	streams map[string]*Stream
	cancel  map[string]context.CancelFunc
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		streams: make(map[string]*Stream),
		cancel:  make(map[string]context.CancelFunc),
		logger:  logger,
	}
}

// Get returns the live stream for credentialID, constructing it via
// newBridge and starting Run if this is the first request for that
// credential. newBridge is only invoked on first access.
func (r *Registry) Get(ctx context.Context, credentialID string, newBridge func() Bridge) *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.streams[credentialID]; ok {
		return s
	}

	s := New(newBridge(), r.logger.With("credential_id", credentialID))
	runCtx, cancel := context.WithCancel(ctx)
	r.streams[credentialID] = s
	r.cancel[credentialID] = cancel

	go func() {
		if err := s.Run(runCtx); err != nil && runCtx.Err() == nil {
			r.logger.Error("stream run exited unexpectedly", "credential_id", credentialID, "error", err)
		}
	}()

	return s
}

// Shutdown cancels every running stream, closing all subscribers.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, cancel := range r.cancel {
		cancel()
		delete(r.cancel, id)
		delete(r.streams, id)
	}
}
