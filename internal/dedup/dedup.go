// Package dedup closes tabs that navigate to a page already open in the
// same window and brings the existing tab forward instead.
package dedup

import (
	"context"

	"github.com/lotas/tabgruppen/internal/applog"
	"github.com/lotas/tabgruppen/internal/browser"
	"github.com/lotas/tabgruppen/internal/rules"
	"github.com/lotas/tabgruppen/internal/types"
)

// Browser is the host surface the deduplicator needs.
type Browser interface {
	browser.Tabs
	browser.Windows
}

// Counters persists the engine's monotonic counters.
type Counters interface {
	Increment(ctx context.Context, name string) (int64, error)
}

// Publisher shows a transient confirmation to the user.
type Publisher interface {
	Publish(ctx context.Context, title, message string, undo *types.UndoAction) types.Notification
}

// Config is the slice of settings the deduplicator reads.
type Config struct {
	Enabled     bool
	DefaultMode types.MatchMode
	Notify      bool
	Rules       []types.DomainRule
}

// Mode returns the match mode for a page governed by rule, nil when no
// rule matches. It reports false when deduplication is off for the page.
func (c Config) Mode(rule *types.DomainRule) (types.MatchMode, bool) {
	if !c.Enabled {
		return "", false
	}
	mode := c.DefaultMode
	if !mode.Valid() {
		mode = types.MatchExact
	}
	if rule == nil {
		return mode, true
	}
	if !rule.DeduplicationEnabled {
		return "", false
	}
	if rule.DeduplicationMatchMode != "" {
		mode = rule.DeduplicationMatchMode
	}
	return mode, true
}

// Deduplicator handles pending top-level navigations.
type Deduplicator struct {
	browser  Browser
	counters Counters
	notifier Publisher
	matcher  *rules.Matcher
	markers  *Markers
	cfg      Config
}

// New creates a Deduplicator. notifier may be nil.
func New(b Browser, counters Counters, notifier Publisher, matcher *rules.Matcher) *Deduplicator {
	if matcher == nil {
		matcher = rules.NewMatcher()
	}
	return &Deduplicator{
		browser:  b,
		counters: counters,
		notifier: notifier,
		matcher:  matcher,
		markers:  NewMarkers(),
		cfg:      Config{DefaultMode: types.MatchExact},
	}
}

// SetConfig replaces the active settings.
func (d *Deduplicator) SetConfig(cfg Config) {
	if !cfg.DefaultMode.Valid() {
		cfg.DefaultMode = types.MatchExact
	}
	d.cfg = cfg
}

// Markers exposes the idempotency guard so the owner can sweep it.
func (d *Deduplicator) Markers() *Markers {
	return d.markers
}

// Outcome describes what OnBeforeNavigate did.
type Outcome struct {
	Duplicate *types.Tab // the existing tab kept open, nil if none
	Closed    bool       // whether the navigating tab was closed
}

// OnBeforeNavigate checks a pending navigation against the other tabs in
// its window. When an equivalent tab exists, it is activated, its window
// focused and the tab reloaded, then the navigating tab is closed. Each of
// those steps is best-effort. Errors are logged, never returned.
func (d *Deduplicator) OnBeforeNavigate(ctx context.Context, nav types.Navigation) Outcome {
	if nav.FrameID != 0 || !d.cfg.Enabled || browser.IsPlaceholderURL(nav.URL) {
		return Outcome{}
	}
	if !d.markers.ShouldProcess(nav.TabID, nav.URL) {
		return Outcome{}
	}
	// Set before any host call so an overlapping event for the same
	// navigation is dropped.
	d.markers.MarkProcessed(nav.TabID, nav.URL)

	mode, ok := d.cfg.Mode(d.matcher.Match(nav.URL, d.cfg.Rules))
	if !ok {
		return Outcome{}
	}

	windowID := nav.WindowID
	if windowID == 0 {
		tab, err := d.browser.GetTab(ctx, nav.TabID)
		if err != nil {
			browser.LogError("dedup.lookup", err, "tab", nav.TabID)
			return Outcome{}
		}
		windowID = tab.WindowID
	}

	tabs, err := d.browser.QueryTabs(ctx, browser.TabQuery{WindowID: windowID})
	if err != nil {
		browser.LogError("dedup.query", err, "tab", nav.TabID, "window", windowID)
		return Outcome{}
	}

	var existing *types.Tab
	for _, t := range tabs {
		if t.ID != nav.TabID && IsURLMatch(t.EffectiveURL(), nav.URL, mode) {
			existing = t
			break
		}
	}
	if existing == nil {
		return Outcome{}
	}

	if _, err := d.counters.Increment(ctx, types.CounterTabsDeduplicated); err != nil {
		applog.Error("dedup.counter", err)
	}
	applog.Info("dedup.match", "tab", nav.TabID, "existing", existing.ID, "mode", string(mode), "url", nav.URL)

	if err := d.browser.ActivateTab(ctx, existing.ID); err != nil {
		browser.LogError("dedup.activate", err, "tab", existing.ID)
	}
	d.focusWindow(ctx, existing.WindowID)
	if err := d.browser.ReloadTab(ctx, existing.ID); err != nil {
		browser.LogError("dedup.reload", err, "tab", existing.ID)
	}

	out := Outcome{Duplicate: existing}
	if err := d.browser.CloseTab(ctx, nav.TabID); err != nil {
		browser.LogError("dedup.close", err, "tab", nav.TabID)
	} else {
		out.Closed = true
		applog.Info("dedup.closed", "tab", nav.TabID, "existing", existing.ID)
	}

	if d.cfg.Notify && d.notifier != nil {
		d.notifier.Publish(ctx, "Duplicate tab closed", "Switched to the open tab: "+existing.Title, nil)
	}
	return out
}

func (d *Deduplicator) focusWindow(ctx context.Context, windowID int) {
	w, err := d.browser.GetWindow(ctx, windowID)
	if err != nil {
		browser.LogError("dedup.window", err, "window", windowID)
		return
	}
	if w.Focused {
		return
	}
	if err := d.browser.FocusWindow(ctx, windowID); err != nil {
		browser.LogError("dedup.focus", err, "window", windowID)
	}
}

// Sweep clears the idempotency markers.
func (d *Deduplicator) Sweep() int {
	return d.markers.Sweep()
}
