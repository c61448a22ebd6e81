// Package notify publishes user-facing notifications and honors undo
// requests for the ones that carry an undo action.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lotas/tabgruppen/internal/applog"
	"github.com/lotas/tabgruppen/internal/browser"
	"github.com/lotas/tabgruppen/internal/storage"
	"github.com/lotas/tabgruppen/internal/types"
)

// DefaultTTL is how long an undo action stays available.
const DefaultTTL = 30 * time.Second

// ErrExpired is returned by Undo for unknown or expired notifications.
var ErrExpired = errors.New("notification expired or unknown")

// Host is the part of the browser surface notifications need.
type Host interface {
	Notify(ctx context.Context, n types.Notification) error
	Ungroup(ctx context.Context, tabIDs []int) error
}

// ActionLog persists undoable actions. May be nil.
type ActionLog interface {
	RecordAction(ctx context.Context, a storage.Action) error
	MarkActionUndone(ctx context.Context, id string) error
}

// Center shows notifications and keeps their undo actions until the TTL
// passes.
type Center struct {
	host Host
	log  ActionLog
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	pending map[string]types.Notification
	subs    map[int]chan types.Notification
	nextSub int
}

// New creates a Center. A ttl of zero uses DefaultTTL.
func New(host Host, log ActionLog, ttl time.Duration) *Center {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Center{
		host:    host,
		log:     log,
		ttl:     ttl,
		now:     time.Now,
		pending: make(map[string]types.Notification),
		subs:    make(map[int]chan types.Notification),
	}
}

// Publish shows a notification. Delivery to the host is best-effort; the
// returned notification carries the assigned id.
func (c *Center) Publish(ctx context.Context, title, message string, undo *types.UndoAction) types.Notification {
	n := types.Notification{
		ID:         uuid.NewString(),
		Title:      title,
		Message:    message,
		UndoAction: undo,
		CreatedAt:  c.now(),
	}

	if undo != nil {
		c.mu.Lock()
		c.pending[n.ID] = n
		c.mu.Unlock()
		if c.log != nil {
			err := c.log.RecordAction(ctx, storage.Action{
				ID:        n.ID,
				Kind:      undo.Type,
				Title:     title,
				Message:   message,
				TabIDs:    undo.TabIDs,
				CreatedAt: n.CreatedAt,
			})
			if err != nil {
				applog.Error("notify.record", err, "id", n.ID)
			}
		}
	}

	if err := c.host.Notify(ctx, n); err != nil {
		browser.LogError("notify.send", err, "id", n.ID)
	}
	applog.Info("notify.publish", "id", n.ID, "title", title, "undo", undo != nil)
	c.broadcast(n)
	return n
}

// Undo reverts the action attached to notification id. Tabs that no longer
// exist are skipped. The entry stays pending when the host fails, so the
// undo can be retried until the TTL passes.
func (c *Center) Undo(ctx context.Context, id string) error {
	c.mu.Lock()
	n, ok := c.pending[id]
	if ok && c.now().Sub(n.CreatedAt) > c.ttl {
		delete(c.pending, id)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return ErrExpired
	}

	switch n.UndoAction.Type {
	case types.UndoUngroup:
		if err := c.ungroup(ctx, n.UndoAction.TabIDs); err != nil {
			return fmt.Errorf("undo %s: %w", id, err)
		}
	default:
		c.forget(id)
		return fmt.Errorf("undo %s: unsupported action %q", id, n.UndoAction.Type)
	}
	c.forget(id)

	if c.log != nil {
		if err := c.log.MarkActionUndone(ctx, id); err != nil {
			applog.Warn("notify.undo_record", err, "id", id)
		}
	}
	applog.Info("notify.undo", "id", id, "tabs", len(n.UndoAction.TabIDs))
	return nil
}

func (c *Center) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Center) ungroup(ctx context.Context, tabIDs []int) error {
	err := c.host.Ungroup(ctx, tabIDs)
	if err == nil || !browser.IsGone(err) {
		return err
	}
	// Some tab was closed meanwhile; ungroup the survivors one by one.
	for _, id := range tabIDs {
		if err := c.host.Ungroup(ctx, []int{id}); err != nil && !browser.IsGone(err) {
			return err
		}
	}
	return nil
}

// Sweep drops undo entries older than the TTL and returns how many.
func (c *Center) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for id, p := range c.pending {
		if now.Sub(p.CreatedAt) > c.ttl {
			delete(c.pending, id)
			n++
		}
	}
	return n
}

// Pending returns the number of undoable notifications.
func (c *Center) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Subscribe returns a channel receiving every published notification and a
// func that cancels the subscription. Slow subscribers miss notifications.
func (c *Center) Subscribe() (<-chan types.Notification, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan types.Notification, 16)
	c.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
}

func (c *Center) broadcast(n types.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- n:
		default:
		}
	}
}
