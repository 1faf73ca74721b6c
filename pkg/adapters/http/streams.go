package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aretw0/recall/internal/logging"
	"github.com/aretw0/recall/pkg/domain"
)

// CheckpointNotice is the payload pushed to /events subscribers.
type CheckpointNotice struct {
	Key     domain.ConversationKey `json:"key"`
	Version int64                  `json:"version"`
}

// StreamManager fans checkpoint events out to SSE subscribers of a conversation key.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{} // Key -> Set of Channels
	logger      *slog.Logger
}

// NewStreamManager creates an empty manager.
func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
		logger:      logger,
	}
}

// Hooks returns lifecycle hooks broadcasting every successful checkpoint write.
func (sm *StreamManager) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnCheckpoint: func(_ context.Context, e *domain.CheckpointEvent) {
			if e.Err != nil {
				return
			}
			payload, err := json.Marshal(CheckpointNotice{Key: e.Key, Version: e.Version})
			if err != nil {
				return
			}
			sm.Broadcast(e.Key.String(), string(payload))
		},
	}
}

// Subscribe registers a channel for key. The returned func unsubscribes and closes it.
func (sm *StreamManager) Subscribe(key string) (chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[key]; !ok {
		sm.subscribers[key] = make(map[chan<- string]struct{})
	}
	sm.subscribers[key][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[key]; ok {
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, key)
			}
		}
	}
}

// Broadcast delivers msg to every subscriber of key without blocking.
func (sm *StreamManager) Broadcast(key string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[key] {
		select {
		case ch <- msg:
		default:
			// Drop message if channel is full (slow client)
			sm.logger.Warn("SSE: Client buffer full, dropping message", "key", key)
		}
	}
}

// SubscribeEvents handles GET /events?user_id=&thread_id= (SSE).
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	key := domain.ConversationKey{
		OwnerID:  r.URL.Query().Get("user_id"),
		ThreadID: r.URL.Query().Get("thread_id"),
	}
	if err := key.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, cancel := s.streams.Subscribe(key.String())
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: checkpoint\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
