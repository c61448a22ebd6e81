// Package engine runs the single event loop that owns the opener tracker,
// the grouping coordinator, the deduplicator and the notification center.
// Browser events, settings reloads, periodic sweeps and API requests are all
// handled on that loop, so none of the components need locking.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/lotas/tabgruppen/internal/applog"
	"github.com/lotas/tabgruppen/internal/browser"
	"github.com/lotas/tabgruppen/internal/config"
	"github.com/lotas/tabgruppen/internal/dedup"
	"github.com/lotas/tabgruppen/internal/export"
	"github.com/lotas/tabgruppen/internal/grouping"
	"github.com/lotas/tabgruppen/internal/importer"
	"github.com/lotas/tabgruppen/internal/notify"
	"github.com/lotas/tabgruppen/internal/opener"
	"github.com/lotas/tabgruppen/internal/rules"
	"github.com/lotas/tabgruppen/internal/server"
	"github.com/lotas/tabgruppen/internal/storage"
	"github.com/lotas/tabgruppen/internal/types"
)

// DefaultSweepInterval is how often transient state is cleared.
const DefaultSweepInterval = 5 * time.Minute

// Options configures an Engine.
type Options struct {
	SweepInterval time.Duration
	NotifyTTL     time.Duration
}

// Snapshot is a point-in-time view of the engine's transient state.
type Snapshot struct {
	Stats         types.Stats
	Rules         int
	InFlight      int
	Associations  int
	Markers       int
	Notifications int
	LastSweep     time.Time
}

// Engine wires the components to one host and one store.
type Engine struct {
	store    *storage.Store
	tracker  *opener.Tracker
	coord    *grouping.Coordinator
	dedup    *dedup.Deduplicator
	notes    *notify.Center
	settings config.Settings
	sweep    time.Duration

	lastSweep time.Time
	requests  chan request
}

type request struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

// New creates an Engine for host b, persisting counters and undoable
// actions in store.
func New(b browser.Browser, store *storage.Store, settings config.Settings, opts Options) *Engine {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	matcher := rules.NewMatcher()
	tracker := opener.NewTracker()
	notes := notify.New(b, store, opts.NotifyTTL)

	e := &Engine{
		store:    store,
		tracker:  tracker,
		coord:    grouping.New(b, tracker, matcher, store, notes),
		dedup:    dedup.New(b, store, notes, matcher),
		notes:    notes,
		sweep:    opts.SweepInterval,
		requests: make(chan request),
	}
	e.apply(settings)
	return e
}

// Notifications exposes the notification center for subscribers.
func (e *Engine) Notifications() *notify.Center {
	return e.notes
}

func (e *Engine) apply(s config.Settings) {
	e.settings = s
	e.coord.SetConfig(grouping.Config{
		Enabled:  s.GroupingEnabled,
		Collapse: s.CollapseGroups,
		Notify:   s.ShowNotifications,
		Rules:    s.Rules,
		Groups:   s.Groups,
	})
	e.dedup.SetConfig(dedup.Config{
		Enabled:     s.DeduplicationEnabled,
		DefaultMode: s.DefaultMatchMode,
		Notify:      s.ShowNotifications,
		Rules:       s.Rules,
	})
}

// Run processes events until ctx is done or events is closed. A nil
// settings channel disables live reloads.
func (e *Engine) Run(ctx context.Context, events <-chan server.IncomingMsg, settings <-chan config.Settings) error {
	ticker := time.NewTicker(e.sweep)
	defer ticker.Stop()

	applog.Info("engine.start", "rules", len(e.settings.Rules), "sweep", e.sweep)
	defer applog.Info("engine.stop")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-events:
			if !ok {
				return nil
			}
			e.handle(ctx, msg)
		case s, ok := <-settings:
			if !ok {
				settings = nil
				continue
			}
			e.apply(s)
			applog.Info("engine.settings", "rules", len(s.Rules), "grouping", s.GroupingEnabled, "dedup", s.DeduplicationEnabled)
		case <-ticker.C:
			e.Sweep()
		case req := <-e.requests:
			req.fn(ctx)
			close(req.done)
		}
	}
}

func (e *Engine) handle(ctx context.Context, msg server.IncomingMsg) {
	switch msg.Type {
	case server.MsgLinkGesture:
		e.tracker.Record(msg.URL, msg.TabID)

	case server.MsgTabCreated:
		tab, err := server.ParseTab(msg.Tab)
		if err != nil {
			applog.Error("engine.parse", err, "type", msg.Type)
			return
		}
		e.coord.OnTabCreated(ctx, tab)

	case server.MsgTabUpdated:
		tab, err := server.ParseTab(msg.Tab)
		if err != nil {
			applog.Error("engine.parse", err, "type", msg.Type)
			return
		}
		e.coord.OnTabUpdated(ctx, tab)

	case server.MsgTabRemoved:
		e.coord.OnTabRemoved(msg.TabID)

	case server.MsgNavBefore:
		nav, err := server.ParseNavigation(msg)
		if err != nil {
			applog.Error("engine.parse", err, "type", msg.Type)
			return
		}
		e.dedup.OnBeforeNavigate(ctx, nav)

	case server.MsgPromptAnswer:
		e.coord.OnPromptAnswer(ctx, msg.PromptID, msg.Value, msg.Cancelled)

	case server.MsgUndo:
		if err := e.notes.Undo(ctx, msg.NotificationID); err != nil {
			browser.LogError("engine.undo", err, "notification", msg.NotificationID)
		}

	default:
		applog.Warn("engine.unknown", nil, "type", msg.Type)
	}
}

// Sweep clears opener associations and deduplication markers and drops
// expired undo actions.
func (e *Engine) Sweep() {
	a := e.tracker.Sweep()
	m := e.dedup.Sweep()
	n := e.notes.Sweep()
	e.lastSweep = time.Now()
	applog.Info("engine.sweep", "associations", a, "markers", m, "notifications", n)
}

// do runs fn on the loop and waits for it.
func (e *Engine) do(ctx context.Context, fn func(ctx context.Context)) error {
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case e.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	// The loop runs fn as soon as it receives it.
	<-req.done
	return nil
}

// Stats returns the persisted counters.
func (e *Engine) Stats(ctx context.Context) (types.Stats, error) {
	return e.store.Stats(ctx)
}

// Snapshot returns the loop's transient state.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := e.do(ctx, func(context.Context) {
		snap = Snapshot{
			Rules:         len(e.settings.Rules),
			InFlight:      e.coord.InFlight(),
			Associations:  e.tracker.Len(),
			Markers:       e.dedup.Markers().Len(),
			Notifications: e.notes.Pending(),
			LastSweep:     e.lastSweep,
		}
	})
	if err != nil {
		return snap, err
	}
	st, err := e.store.Stats(ctx)
	if err != nil {
		return snap, fmt.Errorf("load stats: %w", err)
	}
	snap.Stats = st
	return snap, nil
}

// Classify validates an import document and classifies its rules against
// the active rule set.
func (e *Engine) Classify(ctx context.Context, doc []byte) (importer.Result, error) {
	parsed, err := importer.ParseDocument(doc)
	if err != nil {
		return importer.Result{}, err
	}
	var res importer.Result
	err = e.do(ctx, func(context.Context) {
		res = importer.Classify(e.settings.Rules, parsed.Rules)
	})
	return res, err
}

// Export returns the active rule set as a portable document.
func (e *Engine) Export(ctx context.Context) (types.RuleDocument, error) {
	var doc types.RuleDocument
	err := e.do(ctx, func(context.Context) {
		doc = export.Document(e.settings.Rules, e.settings.Groups, time.Now())
	})
	return doc, err
}

// Undo reverts the action behind a notification.
func (e *Engine) Undo(ctx context.Context, notificationID string) error {
	var undoErr error
	err := e.do(ctx, func(loopCtx context.Context) {
		undoErr = e.notes.Undo(loopCtx, notificationID)
	})
	if err != nil {
		return err
	}
	return undoErr
}

var _ server.API = (*Engine)(nil)
