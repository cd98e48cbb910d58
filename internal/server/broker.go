package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/classlens/classlens/internal/aggregate"
	"github.com/classlens/classlens/internal/storage"
)

// Broker pushes live stats snapshots to SSE subscribers, scoped per session.
// A background goroutine recomputes stats from scratch on a fixed tick for
// every session with at least one subscriber; Postgres LISTEN/NOTIFY, when
// configured, triggers an immediate out-of-band recompute for the affected
// session so dashboards update ahead of the next tick.
type Broker struct {
	db     *storage.DB
	svc    *aggregate.Service
	tick   time.Duration
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[uuid.UUID]map[chan []byte]struct{}
}

// NewBroker creates a new stats broker. Call Start to begin pushing.
func NewBroker(db *storage.DB, svc *aggregate.Service, tick time.Duration, logger *slog.Logger) *Broker {
	return &Broker{
		db:          db,
		svc:         svc,
		tick:        tick,
		logger:      logger,
		subscribers: make(map[uuid.UUID]map[chan []byte]struct{}),
	}
}

// Start runs the tick loop and, when a notify connection exists, the
// notification loop. It blocks, so call it in a goroutine. Returns when ctx
// is cancelled.
func (b *Broker) Start(ctx context.Context) {
	if b.db.HasNotifyConn() {
		if err := b.db.Listen(ctx, storage.ChannelResponses); err != nil {
			b.logger.Error("broker: listen responses", "error", err)
		} else if err := b.db.Listen(ctx, storage.ChannelProgress); err != nil {
			b.logger.Error("broker: listen progress", "error", err)
		} else {
			b.logger.Info("broker: listening for notifications",
				"channels", []string{storage.ChannelResponses, storage.ChannelProgress})
			go b.notifyLoop(ctx)
		}
	}

	ticker := time.NewTicker(b.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sessionID := range b.activeSessions() {
				b.push(ctx, sessionID)
			}
		}
	}
}

// notifyLoop turns LISTEN/NOTIFY payloads (session ids) into immediate pushes.
func (b *Broker) notifyLoop(ctx context.Context) {
	for {
		_, payload, err := b.db.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // Shutting down.
			}
			b.logger.Warn("broker: notification error, retrying", "error", err)
			continue
		}

		sessionID, err := uuid.Parse(payload)
		if err != nil {
			b.logger.Warn("broker: malformed notification payload", "payload", payload)
			continue
		}

		b.svc.InvalidateStats(ctx, sessionID)
		b.push(ctx, sessionID)
	}
}

// push recomputes and broadcasts one session's stats if anyone is listening.
func (b *Broker) push(ctx context.Context, sessionID uuid.UUID) {
	b.mu.RLock()
	_, active := b.subscribers[sessionID]
	b.mu.RUnlock()
	if !active {
		return
	}

	stats, err := b.svc.Stats(ctx, sessionID)
	if err != nil {
		b.logger.Warn("broker: stats recompute failed", "session_id", sessionID, "error", err)
		return
	}

	data, err := json.Marshal(stats)
	if err != nil {
		b.logger.Error("broker: encode stats", "error", err)
		return
	}
	b.broadcast(sessionID, formatSSE("stats", string(data)))
}

// Subscribe returns a channel receiving SSE-formatted stats events for one
// session. The caller must call Unsubscribe when done.
func (b *Broker) Subscribe(sessionID uuid.UUID) chan []byte {
	ch := make(chan []byte, 64) // Buffer to avoid blocking the broadcast loop.
	b.mu.Lock()
	subs, ok := b.subscribers[sessionID]
	if !ok {
		subs = make(map[chan []byte]struct{})
		b.subscribers[sessionID] = subs
	}
	subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(sessionID uuid.UUID, ch chan []byte) {
	b.mu.Lock()
	if subs, ok := b.subscribers[sessionID]; ok {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(b.subscribers, sessionID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

// activeSessions snapshots the session ids with at least one subscriber.
func (b *Broker) activeSessions() []uuid.UUID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(b.subscribers))
	for id := range b.subscribers {
		out = append(out, id)
	}
	return out
}

// broadcast sends an event to one session's subscribers. Slow subscribers
// with a full buffer are skipped (their event is dropped) to prevent one slow
// client from blocking all others.
func (b *Broker) broadcast(sessionID uuid.UUID, event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[sessionID] {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full, drop this event for them.
		}
	}
}

// formatSSE formats a payload as a Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
