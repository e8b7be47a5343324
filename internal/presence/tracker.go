// Package presence maintains the best-effort online/offline signal for a
// dashboard session. Nothing in here may fail the caller: presence is
// advisory, so every backend error is logged and swallowed.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mathgamified/internal/docstore"
	"mathgamified/internal/events"
	"mathgamified/internal/identity"
)

const (
	teachersCollection = "teachers"
	defaultInterval    = 60 * time.Second
	writeTimeout       = 5 * time.Second
)

// Config wires the tracker's dependencies. Cache and Events are optional.
type Config struct {
	Docs              docstore.Store
	Cache             *Cache
	Events            *events.Publisher
	Logger            *slog.Logger
	HeartbeatInterval time.Duration
}

// Tracker marks one teacher online/offline and keeps a heartbeat alive.
// At most one identity is tracked at a time.
type Tracker struct {
	docs     docstore.Store
	cache    *Cache
	events   *events.Publisher
	logger   *slog.Logger
	interval time.Duration

	mu   sync.Mutex
	uid  string
	stop chan struct{}
}

// NewTracker builds an idle tracker.
func NewTracker(cfg Config) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Tracker{
		docs:     cfg.Docs,
		cache:    cfg.Cache,
		events:   cfg.Events,
		logger:   logger,
		interval: interval,
	}
}

// Start begins tracking an identity. Calling it again with the same uid is a
// no-op; with a different uid it stops the previous session first.
func (t *Tracker) Start(id identity.Identity) {
	t.mu.Lock()
	if t.stop != nil {
		if t.uid == id.UID {
			t.mu.Unlock()
			return
		}
		t.stopLocked()
	}
	t.uid = id.UID
	t.stop = make(chan struct{})
	stop := t.stop
	t.mu.Unlock()

	t.writeStatus(id.UID, "online")
	t.cacheOnline(id.UID)
	t.events.Publish(context.Background(), events.TypePresenceOnline, id.UID, nil)

	go t.heartbeatLoop(id.UID, stop)
}

// Stop ends tracking and issues a best-effort offline write. Safe to call
// when nothing is tracked.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.stop == nil {
		t.mu.Unlock()
		return
	}
	t.stopLocked()
	t.mu.Unlock()
}

// Tracking reports the currently tracked uid, if any.
func (t *Tracker) Tracking() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.uid, t.stop != nil
}

// stopLocked cancels the heartbeat and writes offline for the tracked uid.
func (t *Tracker) stopLocked() {
	close(t.stop)
	t.stop = nil
	uid := t.uid
	t.uid = ""

	t.writeStatus(uid, "offline")
	t.cacheOffline(uid)
	t.events.Publish(context.Background(), events.TypePresenceOffline, uid, nil)
}

func (t *Tracker) heartbeatLoop(uid string, stop <-chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.writeStatus(uid, "online")
			t.cacheHeartbeat(uid)
		}
	}
}

// writeStatus re-fetches the teacher record by uid and merge-writes only the
// status and lastActive fields. Failures are logged, never propagated.
func (t *Tracker) writeStatus(uid, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	docs, err := t.docs.Get(ctx, teachersCollection, docstore.Query{
		FilterField: "uid",
		FilterValue: uid,
	})
	if err != nil {
		t.logger.Warn("presence write failed", "uid", uid, "status", status, "err", err)
		return
	}
	if len(docs) == 0 {
		t.logger.Warn("presence write skipped: no teacher record", "uid", uid)
		return
	}
	err = t.docs.Set(ctx, teachersCollection, docs[0].ID, map[string]any{
		"status":     status,
		"lastActive": time.Now().UTC(),
	}, true)
	if err != nil {
		t.logger.Warn("presence write failed", "uid", uid, "status", status, "err", err)
	}
}

func (t *Tracker) cacheOnline(uid string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := t.cache.SetOnline(ctx, uid); err != nil {
		t.logger.Warn("presence cache write failed", "uid", uid, "err", err)
	}
}

func (t *Tracker) cacheHeartbeat(uid string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := t.cache.Heartbeat(ctx, uid); err != nil {
		t.logger.Warn("presence cache heartbeat failed", "uid", uid, "err", err)
	}
}

func (t *Tracker) cacheOffline(uid string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := t.cache.SetOffline(ctx, uid); err != nil {
		t.logger.Warn("presence cache delete failed", "uid", uid, "err", err)
	}
}
