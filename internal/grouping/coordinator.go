// Package grouping places newly opened tabs into the tab group of the tab
// that opened them, following the first matching domain rule.
package grouping

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/lotas/tabgruppen/internal/applog"
	"github.com/lotas/tabgruppen/internal/browser"
	"github.com/lotas/tabgruppen/internal/naming"
	"github.com/lotas/tabgruppen/internal/opener"
	"github.com/lotas/tabgruppen/internal/rules"
	"github.com/lotas/tabgruppen/internal/types"
)

// PromptMessage is shown above the group name input.
const PromptMessage = "Name this tab group"

// Browser is the host surface the coordinator needs.
type Browser interface {
	browser.Tabs
	browser.Groups
	Prompt(ctx context.Context, req browser.PromptRequest) error
}

// Counters persists the engine's monotonic counters.
type Counters interface {
	Increment(ctx context.Context, name string) (int64, error)
}

// Publisher shows a transient, optionally undoable confirmation.
type Publisher interface {
	Publish(ctx context.Context, title, message string, undo *types.UndoAction) types.Notification
}

// Config is the slice of settings the coordinator reads.
type Config struct {
	Enabled  bool
	Collapse bool
	Notify   bool
	Rules    []types.DomainRule
	Groups   []types.LogicalGroup
}

// Coordinator runs the placement workflow. It is owned by the engine loop
// and is not safe for concurrent use.
type Coordinator struct {
	browser  Browser
	tracker  *opener.Tracker
	matcher  *rules.Matcher
	counters Counters
	notifier Publisher
	cfg      Config

	placements map[int]*Placement // by new tab id
	prompts    map[string]int     // prompt id -> new tab id
}

// New creates a Coordinator. notifier may be nil.
func New(b Browser, tracker *opener.Tracker, matcher *rules.Matcher, counters Counters, notifier Publisher) *Coordinator {
	if matcher == nil {
		matcher = rules.NewMatcher()
	}
	return &Coordinator{
		browser:    b,
		tracker:    tracker,
		matcher:    matcher,
		counters:   counters,
		notifier:   notifier,
		placements: make(map[int]*Placement),
		prompts:    make(map[string]int),
	}
}

// SetConfig replaces the active settings. Placements already in flight
// keep the rule they were created with.
func (c *Coordinator) SetConfig(cfg Config) {
	c.cfg = cfg
}

// Placement returns the in-flight placement for a new tab, or nil.
func (c *Coordinator) Placement(tabID int) *Placement {
	return c.placements[tabID]
}

// InFlight returns the number of placements not yet finished.
func (c *Coordinator) InFlight() int {
	return len(c.placements)
}

// OnTabCreated correlates a new tab with its opener and, when a rule
// matches the opener, registers a placement that completes once the new
// tab has loaded.
func (c *Coordinator) OnTabCreated(ctx context.Context, tab *types.Tab) {
	if !c.cfg.Enabled || tab == nil {
		return
	}
	if _, ok := c.placements[tab.ID]; ok {
		return
	}

	openerID, ok := c.tracker.Correlate(tab.EffectiveURL(), tab.OpenerTabID)
	if !ok {
		return
	}

	op, err := c.browser.GetTab(ctx, openerID)
	if err != nil {
		browser.LogError("grouping.opener", err, "tab", tab.ID, "opener", openerID)
		return
	}
	if op.URL == "" {
		return
	}

	rule := c.matcher.Match(op.URL, c.cfg.Rules)
	if rule == nil {
		return
	}

	p := &Placement{
		TabID:    tab.ID,
		OpenerID: op.ID,
		Rule:     *rule,
		Name:     naming.Resolve(rule, naming.Opener{Title: op.Title, URL: op.URL}),
		State:    AwaitingLoad,
	}
	c.placements[tab.ID] = p
	applog.Info("grouping.pending", "tab", tab.ID, "opener", op.ID, "rule", rule.ID, "name", p.Name.Name)

	// The host may report a tab that has already finished loading.
	c.OnTabUpdated(ctx, tab)
}

// OnTabUpdated places a pending tab once it reaches the complete status
// with a real URL. Repeated deliveries for the same tab are no-ops.
func (c *Coordinator) OnTabUpdated(ctx context.Context, tab *types.Tab) {
	if tab == nil {
		return
	}
	p, ok := c.placements[tab.ID]
	if !ok {
		return
	}
	if tab.Status != types.TabStatusComplete || browser.IsPlaceholderURL(tab.URL) {
		return
	}
	if !p.transition(AwaitingLoad, Placing) {
		return
	}
	c.place(ctx, p)
}

// OnTabRemoved abandons any placement waiting on the closed tab, whether
// it is the new tab or its opener. A placement awaiting its name keeps
// running when only the new tab closes, since its prompt lives in the
// opener and a cancel must still ungroup the opener.
func (c *Coordinator) OnTabRemoved(tabID int) {
	for id, p := range c.placements {
		if p.TabID != tabID && p.OpenerID != tabID {
			continue
		}
		if p.State == AwaitingName && p.TabID == tabID {
			p.Moved = slices.DeleteFunc(p.Moved, func(t int) bool { return t == tabID })
			applog.Info("grouping.tab_closed", "tab", tabID, "group", p.GroupID, "moved", len(p.Moved))
			continue
		}
		p.State = Abandoned
		c.forget(id)
		applog.Info("grouping.abandoned", "tab", p.TabID, "closed", tabID)
	}
}

// OnPromptAnswer applies the user's answer to a naming prompt. A cancelled
// prompt ungroups the tabs the placement moved. An empty answer keeps the
// provisional name.
func (c *Coordinator) OnPromptAnswer(ctx context.Context, promptID, value string, cancelled bool) {
	tabID, ok := c.prompts[promptID]
	if !ok {
		return
	}
	p := c.placements[tabID]
	c.forget(tabID)
	if p == nil || !p.transition(AwaitingName, Placed) {
		return
	}

	if cancelled {
		if len(p.Moved) == 0 {
			return
		}
		if err := c.browser.Ungroup(ctx, p.Moved); err != nil {
			browser.LogError("grouping.rollback", err, "tab", p.TabID, "group", p.GroupID)
			return
		}
		applog.Info("grouping.cancelled", "tab", p.TabID, "group", p.GroupID)
		return
	}

	name := strings.TrimSpace(value)
	if name != "" && name != p.Name.Name {
		if err := c.browser.UpdateGroup(ctx, p.GroupID, browser.GroupUpdate{Title: browser.String(name)}); err != nil {
			browser.LogError("grouping.rename", err, "group", p.GroupID)
		} else {
			p.Name.Name = name
		}
	}
	applog.Info("grouping.named", "tab", p.TabID, "group", p.GroupID, "name", p.Name.Name)
	c.announce(ctx, p)
}

func (c *Coordinator) forget(tabID int) {
	if p, ok := c.placements[tabID]; ok && p.PromptID != "" {
		delete(c.prompts, p.PromptID)
	}
	delete(c.placements, tabID)
}

// place runs the group mutations for a tab that finished loading. Each
// mutation is best-effort; a missing opener or tab abandons the placement.
func (c *Coordinator) place(ctx context.Context, p *Placement) {
	op, err := c.browser.GetTab(ctx, p.OpenerID)
	if err != nil {
		browser.LogError("grouping.opener", err, "tab", p.TabID, "opener", p.OpenerID)
		p.State = Abandoned
		c.forget(p.TabID)
		return
	}

	if op.Grouped() {
		err = c.join(ctx, p, op)
	} else {
		err = c.gather(ctx, p, op)
	}
	if err != nil {
		browser.LogError("grouping.place", err, "tab", p.TabID, "opener", p.OpenerID, "name", p.Name.Name)
		p.State = Abandoned
		c.forget(p.TabID)
		return
	}
	applog.Info("grouping.placed", "tab", p.TabID, "group", p.GroupID, "name", p.Name.Name)

	if p.Name.Interactive {
		c.ask(ctx, p)
		return
	}
	p.State = Placed
	c.forget(p.TabID)
	c.announce(ctx, p)
}

// join adds the new tab to the opener's existing group. Only the collapsed
// state is refreshed so a color the user picked is kept.
func (c *Coordinator) join(ctx context.Context, p *Placement, op *types.Tab) error {
	if err := c.browser.AddToGroup(ctx, op.GroupID, []int{p.TabID}); err != nil {
		return fmt.Errorf("add tab %d to group %d: %w", p.TabID, op.GroupID, err)
	}
	p.GroupID = op.GroupID
	p.Moved = []int{p.TabID}
	if err := c.browser.UpdateGroup(ctx, op.GroupID, browser.GroupUpdate{Collapsed: browser.Bool(c.cfg.Collapse)}); err != nil {
		browser.LogError("grouping.update", err, "group", op.GroupID)
	}
	return nil
}

// gather puts the ungrouped opener and the new tab into the window's group
// titled with the resolved name, creating that group when none exists.
func (c *Coordinator) gather(ctx context.Context, p *Placement, op *types.Tab) error {
	name := p.Name.Name
	existing, err := c.browser.QueryGroups(ctx, op.WindowID, name)
	if err != nil {
		browser.LogError("grouping.query", err, "window", op.WindowID, "name", name)
		existing = nil
	}

	var target *types.TabGroup
	for _, g := range existing {
		if g.Title == name {
			target = g
			break
		}
	}

	if target != nil {
		ids := []int{p.TabID}
		if op.GroupID != target.ID {
			ids = []int{op.ID, p.TabID}
		}
		if err := c.browser.AddToGroup(ctx, target.ID, ids); err != nil {
			return fmt.Errorf("add tabs %v to group %d: %w", ids, target.ID, err)
		}
		p.GroupID = target.ID
		p.Moved = ids
	} else {
		ids := []int{op.ID, p.TabID}
		gid, err := c.browser.CreateGroup(ctx, ids)
		if err != nil {
			return fmt.Errorf("create group for tabs %v: %w", ids, err)
		}
		p.GroupID = gid
		p.Moved = ids
		if _, err := c.counters.Increment(ctx, types.CounterGroupsCreated); err != nil {
			applog.Error("grouping.counter", err)
		}
		applog.Info("grouping.created", "group", gid, "name", name)
	}

	u := browser.GroupUpdate{
		Title:     browser.String(name),
		Collapsed: browser.Bool(c.cfg.Collapse),
	}
	if color := c.color(&p.Rule); color != "" {
		u.Color = browser.String(color)
	}
	if err := c.browser.UpdateGroup(ctx, p.GroupID, u); err != nil {
		browser.LogError("grouping.update", err, "group", p.GroupID)
	}
	return nil
}

// ask injects the naming prompt into the opener's page. If the prompt
// cannot be shown the provisional name stays.
func (c *Coordinator) ask(ctx context.Context, p *Placement) {
	p.State = AwaitingName
	p.PromptID = uuid.NewString()
	req := browser.PromptRequest{
		ID:      p.PromptID,
		TabID:   p.OpenerID,
		Message: PromptMessage,
		Default: p.Name.Name,
	}
	if err := c.browser.Prompt(ctx, req); err != nil {
		browser.LogError("grouping.prompt", err, "tab", p.OpenerID)
		p.State = Placed
		c.forget(p.TabID)
		c.announce(ctx, p)
		return
	}
	c.prompts[p.PromptID] = p.TabID
	applog.Info("grouping.prompt", "tab", p.TabID, "prompt", p.PromptID)
}

func (c *Coordinator) announce(ctx context.Context, p *Placement) {
	if !c.cfg.Notify || c.notifier == nil {
		return
	}
	undo := &types.UndoAction{Type: types.UndoUngroup, TabIDs: append([]int(nil), p.Moved...)}
	c.notifier.Publish(ctx, "Tabs grouped", fmt.Sprintf("Grouped into %q", p.Name.Name), undo)
}

// color is the rule's own color, else the color of its logical group.
func (c *Coordinator) color(rule *types.DomainRule) string {
	if rule.Color != "" {
		return rule.Color
	}
	if rule.GroupID == "" {
		return ""
	}
	for _, g := range c.cfg.Groups {
		if g.ID == rule.GroupID {
			return g.Color
		}
	}
	return ""
}
