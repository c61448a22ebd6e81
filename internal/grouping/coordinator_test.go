package grouping

import (
	"context"
	"errors"
	"testing"

	"github.com/lotas/tabgruppen/internal/browser/browsertest"
	"github.com/lotas/tabgruppen/internal/opener"
	"github.com/lotas/tabgruppen/internal/types"
)

type memCounters map[string]int64

func (m memCounters) Increment(_ context.Context, name string) (int64, error) {
	m[name]++
	return m[name], nil
}

type published struct {
	title, message string
	undo           *types.UndoAction
}

type recorder struct{ got []published }

func (r *recorder) Publish(_ context.Context, title, message string, undo *types.UndoAction) types.Notification {
	r.got = append(r.got, published{title, message, undo})
	return types.Notification{Title: title, Message: message, UndoAction: undo}
}

type harness struct {
	c        *Coordinator
	fake     *browsertest.Fake
	tracker  *opener.Tracker
	counters memCounters
	notes    *recorder
}

var issueRule = types.DomainRule{
	ID:                "r1",
	DomainFilter:      "example.com",
	Label:             "Fallback",
	TitleParsingRegEx: `Issue #(\d+)`,
	GroupNameSource:   types.SourceTitle,
	Enabled:           true,
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		fake:     browsertest.New(),
		tracker:  opener.NewTracker(),
		counters: memCounters{},
		notes:    &recorder{},
	}
	h.c = New(h.fake, h.tracker, nil, h.counters, h.notes)
	cfg.Enabled = true
	h.c.SetConfig(cfg)
	return h
}

// open simulates a gesture in tab openerID followed by the browser creating
// tab newID, still loading.
func (h *harness) open(openerID, newID int, url string) *types.Tab {
	h.tracker.Record(url, openerID)
	tab := h.fake.AddTab(types.Tab{ID: newID, PendingURL: url, Status: "loading", OpenerTabID: openerID})
	h.c.OnTabCreated(context.Background(), tab)
	return tab
}

func (h *harness) load(tabID int, url string) {
	h.c.OnTabUpdated(context.Background(), &types.Tab{ID: tabID, URL: url, Status: types.TabStatusComplete})
}

func TestPlaceCreatesGroupFromTitle(t *testing.T) {
	h := newHarness(t, Config{Rules: []types.DomainRule{issueRule}, Collapse: true})
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/foo", Title: "Issue #1234: fix"})

	h.open(1, 2, "https://example.com/bar")
	p := h.c.Placement(2)
	if p == nil || p.State != AwaitingLoad {
		t.Fatalf("placement = %+v, want awaiting-load", p)
	}
	if p.Name.Name != "1234" {
		t.Errorf("Name = %q, want %q", p.Name.Name, "1234")
	}
	if h.fake.Called("CreateGroup") {
		t.Fatal("group created before the tab loaded")
	}

	h.load(2, "https://example.com/bar")

	if h.c.InFlight() != 0 {
		t.Errorf("InFlight = %d, want 0", h.c.InFlight())
	}
	gid := h.fake.Tab(1).GroupID
	if gid <= 0 || h.fake.Tab(2).GroupID != gid {
		t.Fatalf("tabs not grouped together: opener %d, new %d", gid, h.fake.Tab(2).GroupID)
	}
	g := h.fake.Group(gid)
	if g.Title != "1234" {
		t.Errorf("group title = %q, want %q", g.Title, "1234")
	}
	if !g.Collapsed {
		t.Error("group should be collapsed")
	}
	if h.counters[types.CounterGroupsCreated] != 1 {
		t.Errorf("groups_created = %d, want 1", h.counters[types.CounterGroupsCreated])
	}
}

func TestPlaceFallsBackToLabel(t *testing.T) {
	h := newHarness(t, Config{Rules: []types.DomainRule{issueRule}})
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/foo", Title: "no match"})

	h.open(1, 2, "https://example.com/bar")
	h.load(2, "https://example.com/bar")

	g := h.fake.Group(h.fake.Tab(2).GroupID)
	if g == nil || g.Title != "Fallback" {
		t.Fatalf("group = %+v, want title Fallback", g)
	}
}

func TestPlaceJoinsExistingGroupByTitle(t *testing.T) {
	h := newHarness(t, Config{Rules: []types.DomainRule{issueRule}})
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/foo", Title: "Issue #7"})
	h.fake.AddTab(types.Tab{ID: 5, URL: "https://example.com/old"})
	gid := h.fake.AddGroup(types.TabGroup{Title: "7", WindowID: 1}, 5)

	h.open(1, 2, "https://example.com/bar")
	h.load(2, "https://example.com/bar")

	if h.fake.Tab(1).GroupID != gid || h.fake.Tab(2).GroupID != gid {
		t.Errorf("tabs not added to existing group %d", gid)
	}
	if h.fake.Called("CreateGroup") {
		t.Error("no group should be created")
	}
	if h.counters[types.CounterGroupsCreated] != 0 {
		t.Error("groups_created should not move")
	}
}

func TestPlaceIgnoresSameTitleInOtherWindow(t *testing.T) {
	h := newHarness(t, Config{Rules: []types.DomainRule{issueRule}})
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/foo", Title: "Issue #7"})
	h.fake.AddTab(types.Tab{ID: 5, URL: "https://example.com/old", WindowID: 2})
	other := h.fake.AddGroup(types.TabGroup{Title: "7", WindowID: 2}, 5)

	h.open(1, 2, "https://example.com/bar")
	h.load(2, "https://example.com/bar")

	if gid := h.fake.Tab(2).GroupID; gid == other || gid <= 0 {
		t.Errorf("new tab group = %d, want a new group in window 1", gid)
	}
}

func TestPlaceJoinsOpenerGroupKeepingColor(t *testing.T) {
	rule := issueRule
	rule.Color = "red"
	h := newHarness(t, Config{Rules: []types.DomainRule{rule}, Collapse: true})
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/foo", Title: "Issue #1"})
	gid := h.fake.AddGroup(types.TabGroup{Title: "Mine", Color: "green", WindowID: 1}, 1)

	h.open(1, 2, "https://example.com/bar")
	h.load(2, "https://example.com/bar")

	if h.fake.Tab(2).GroupID != gid {
		t.Fatalf("new tab group = %d, want %d", h.fake.Tab(2).GroupID, gid)
	}
	g := h.fake.Group(gid)
	if g.Color != "green" || g.Title != "Mine" {
		t.Errorf("group = %+v, want title and color untouched", g)
	}
	if !g.Collapsed {
		t.Error("collapsed state should be refreshed")
	}
}

func TestPlaceUsesLogicalGroupColor(t *testing.T) {
	rule := issueRule
	rule.GroupID = "work"
	h := newHarness(t, Config{
		Rules:  []types.DomainRule{rule},
		Groups: []types.LogicalGroup{{ID: "work", Label: "Work", Color: "blue"}},
	})
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/foo", Title: "Issue #1"})

	h.open(1, 2, "https://example.com/bar")
	h.load(2, "https://example.com/bar")

	if g := h.fake.Group(h.fake.Tab(2).GroupID); g == nil || g.Color != "blue" {
		t.Errorf("group = %+v, want color blue", g)
	}
}

func TestDuplicateCompleteIsNoop(t *testing.T) {
	h := newHarness(t, Config{Rules: []types.DomainRule{issueRule}})
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/foo", Title: "Issue #1"})

	h.open(1, 2, "https://example.com/bar")
	h.load(2, "https://example.com/bar")
	h.load(2, "https://example.com/bar")

	if n := h.fake.CallCount("CreateGroup"); n != 1 {
		t.Errorf("CreateGroup called %d times, want 1", n)
	}
}

func TestWaitsForRealURL(t *testing.T) {
	h := newHarness(t, Config{Rules: []types.DomainRule{issueRule}})
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/foo", Title: "Issue #1"})

	h.open(1, 2, "https://example.com/bar")
	h.load(2, "about:blank")
	h.c.OnTabUpdated(context.Background(), &types.Tab{ID: 2, URL: "https://example.com/bar", Status: "loading"})

	if p := h.c.Placement(2); p == nil || p.State != AwaitingLoad {
		t.Fatalf("placement = %+v, want still awaiting-load", p)
	}
	h.load(2, "https://example.com/bar")
	if !h.fake.Called("CreateGroup") {
		t.Error("group should be created once the real URL loaded")
	}
}

func TestClosedTabAbandons(t *testing.T) {
	h := newHarness(t, Config{Rules: []types.DomainRule{issueRule}})
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/foo", Title: "Issue #1"})

	h.open(1, 2, "https://example.com/bar")
	p := h.c.Placement(2)
	h.fake.RemoveTab(2)
	h.c.OnTabRemoved(2)

	if p.State != Abandoned {
		t.Errorf("State = %v, want abandoned", p.State)
	}
	if h.c.InFlight() != 0 {
		t.Errorf("InFlight = %d, want 0", h.c.InFlight())
	}
	h.load(2, "https://example.com/bar")
	if h.fake.Called("CreateGroup") {
		t.Error("abandoned placement must not create a group")
	}
}

func TestClosedOpenerAbandons(t *testing.T) {
	h := newHarness(t, Config{Rules: []types.DomainRule{issueRule}})
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/foo", Title: "Issue #1"})

	h.open(1, 2, "https://example.com/bar")
	h.fake.RemoveTab(1)
	h.c.OnTabRemoved(1)
	h.load(2, "https://example.com/bar")

	if h.fake.Called("CreateGroup") {
		t.Error("group created after the opener closed")
	}
}

func TestOpenerGoneAtPlacement(t *testing.T) {
	h := newHarness(t, Config{Rules: []types.DomainRule{issueRule}})
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/foo", Title: "Issue #1"})

	h.open(1, 2, "https://example.com/bar")
	p := h.c.Placement(2)
	h.fake.RemoveTab(1)
	h.load(2, "https://example.com/bar")

	if p.State != Abandoned {
		t.Errorf("State = %v, want abandoned", p.State)
	}
}

func TestNoCorrelationLeavesTabUnmanaged(t *testing.T) {
	h := newHarness(t, Config{Rules: []types.DomainRule{issueRule}})
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/foo", Title: "Issue #1"})

	tab := h.fake.AddTab(types.Tab{ID: 2, PendingURL: "https://example.com/bar", OpenerTabID: 1})
	h.c.OnTabCreated(context.Background(), tab)

	if h.c.InFlight() != 0 {
		t.Error("tab without a recorded gesture should not be tracked")
	}
}

func TestNoRuleOrDisabled(t *testing.T) {
	h := newHarness(t, Config{Rules: []types.DomainRule{issueRule}})
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://other.org/", Title: "Issue #1"})
	h.open(1, 2, "https://other.org/x")
	if h.c.InFlight() != 0 {
		t.Error("opener without a matching rule should not be tracked")
	}

	h = newHarness(t, Config{Rules: []types.DomainRule{issueRule}})
	h.c.SetConfig(Config{Enabled: false, Rules: []types.DomainRule{issueRule}})
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/foo", Title: "Issue #1"})
	h.open(1, 2, "https://example.com/bar")
	if h.c.InFlight() != 0 {
		t.Error("disabled grouping should not track tabs")
	}
}

func TestAlreadyLoadedTabIsPlacedImmediately(t *testing.T) {
	h := newHarness(t, Config{Rules: []types.DomainRule{issueRule}})
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/foo", Title: "Issue #1"})
	h.tracker.Record("https://example.com/bar", 1)

	tab := h.fake.AddTab(types.Tab{ID: 2, URL: "https://example.com/bar", Status: types.TabStatusComplete, OpenerTabID: 1})
	h.c.OnTabCreated(context.Background(), tab)

	if h.fake.Tab(2).GroupID <= 0 {
		t.Error("loaded tab should be placed on creation")
	}
}

func TestCreateFailureAbandons(t *testing.T) {
	h := newHarness(t, Config{Rules: []types.DomainRule{issueRule}})
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/foo", Title: "Issue #1"})
	h.fake.Fail["CreateGroup"] = errors.New("boom")

	h.open(1, 2, "https://example.com/bar")
	p := h.c.Placement(2)
	h.load(2, "https://example.com/bar")

	if p.State != Abandoned {
		t.Errorf("State = %v, want abandoned", p.State)
	}
	if h.counters[types.CounterGroupsCreated] != 0 {
		t.Error("groups_created should not move")
	}
}

func manualRule() types.DomainRule {
	r := issueRule
	r.GroupNameSource = types.SourceSmartManual
	return r
}

func TestManualNaming(t *testing.T) {
	h := newHarness(t, Config{Rules: []types.DomainRule{manualRule()}, Notify: true})
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/foo", Title: "Issue #42"})

	h.open(1, 2, "https://example.com/bar")
	h.load(2, "https://example.com/bar")

	p := h.c.Placement(2)
	if p == nil || p.State != AwaitingName {
		t.Fatalf("placement = %+v, want awaiting-name", p)
	}
	if len(h.fake.Prompts) != 1 {
		t.Fatalf("prompts = %d, want 1", len(h.fake.Prompts))
	}
	req := h.fake.Prompts[0]
	if req.TabID != 1 || req.Default != "42" {
		t.Errorf("prompt = %+v, want opener tab and default 42", req)
	}
	if g := h.fake.Group(p.GroupID); g.Title != "42" {
		t.Errorf("provisional title = %q, want 42", g.Title)
	}
	if len(h.notes.got) != 0 {
		t.Error("notification should wait for the answer")
	}

	h.c.OnPromptAnswer(context.Background(), req.ID, "  Sprint 9 ", false)

	if g := h.fake.Group(p.GroupID); g.Title != "Sprint 9" {
		t.Errorf("title = %q, want %q", g.Title, "Sprint 9")
	}
	if p.State != Placed || h.c.InFlight() != 0 {
		t.Errorf("State = %v, InFlight = %d", p.State, h.c.InFlight())
	}
	if len(h.notes.got) != 1 {
		t.Fatalf("notifications = %d, want 1", len(h.notes.got))
	}

	// A late duplicate answer is ignored.
	h.c.OnPromptAnswer(context.Background(), req.ID, "Other", false)
	if g := h.fake.Group(p.GroupID); g.Title != "Sprint 9" {
		t.Errorf("title changed by stale answer to %q", g.Title)
	}
}

func TestManualCancelUngroups(t *testing.T) {
	h := newHarness(t, Config{Rules: []types.DomainRule{manualRule()}})
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/foo", Title: "Issue #42"})

	h.open(1, 2, "https://example.com/bar")
	h.load(2, "https://example.com/bar")
	h.c.OnPromptAnswer(context.Background(), h.fake.Prompts[0].ID, "", true)

	if h.fake.Tab(1).Grouped() || h.fake.Tab(2).Grouped() {
		t.Error("cancel should ungroup the moved tabs")
	}
}

func TestCancelAfterNewTabClosedUngroupsOpener(t *testing.T) {
	h := newHarness(t, Config{Rules: []types.DomainRule{manualRule()}})
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/foo", Title: "Issue #42"})

	h.open(1, 2, "https://example.com/bar")
	h.load(2, "https://example.com/bar")
	h.fake.RemoveTab(2)
	h.c.OnTabRemoved(2)

	p := h.c.Placement(2)
	if p == nil || p.State != AwaitingName {
		t.Fatalf("placement = %+v, want still awaiting-name", p)
	}
	h.c.OnPromptAnswer(context.Background(), h.fake.Prompts[0].ID, "", true)

	if h.fake.Tab(1).Grouped() {
		t.Error("opener still grouped after cancel")
	}
	if h.c.InFlight() != 0 {
		t.Errorf("InFlight = %d, want 0", h.c.InFlight())
	}
}

func TestOpenerClosedWhileAwaitingNameAbandons(t *testing.T) {
	h := newHarness(t, Config{Rules: []types.DomainRule{manualRule()}})
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/foo", Title: "Issue #42"})

	h.open(1, 2, "https://example.com/bar")
	h.load(2, "https://example.com/bar")
	p := h.c.Placement(2)
	h.fake.RemoveTab(1)
	h.c.OnTabRemoved(1)

	if p.State != Abandoned || h.c.InFlight() != 0 {
		t.Errorf("State = %v, InFlight = %d", p.State, h.c.InFlight())
	}
}

func TestManualCancelOnlyUngroupsMovedTabs(t *testing.T) {
	h := newHarness(t, Config{Rules: []types.DomainRule{manualRule()}})
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/foo", Title: "Issue #42"})
	gid := h.fake.AddGroup(types.TabGroup{Title: "Mine", WindowID: 1}, 1)

	h.open(1, 2, "https://example.com/bar")
	h.load(2, "https://example.com/bar")
	h.c.OnPromptAnswer(context.Background(), h.fake.Prompts[0].ID, "", true)

	if h.fake.Tab(1).GroupID != gid {
		t.Error("opener should stay in its own group")
	}
	if h.fake.Tab(2).Grouped() {
		t.Error("new tab should be ungrouped")
	}
}

func TestPromptFailureKeepsProvisionalName(t *testing.T) {
	h := newHarness(t, Config{Rules: []types.DomainRule{manualRule()}})
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/foo", Title: "Issue #42"})
	h.fake.Fail["Prompt"] = errors.New("cannot inject into this page")

	h.open(1, 2, "https://example.com/bar")
	h.load(2, "https://example.com/bar")

	if h.c.InFlight() != 0 {
		t.Error("placement should finish when the prompt cannot be shown")
	}
	if g := h.fake.Group(h.fake.Tab(2).GroupID); g == nil || g.Title != "42" {
		t.Errorf("group = %+v, want provisional title 42", g)
	}
}

func TestNotificationCarriesUndo(t *testing.T) {
	h := newHarness(t, Config{Rules: []types.DomainRule{issueRule}, Notify: true})
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/foo", Title: "Issue #1"})

	h.open(1, 2, "https://example.com/bar")
	h.load(2, "https://example.com/bar")

	if len(h.notes.got) != 1 {
		t.Fatalf("notifications = %d, want 1", len(h.notes.got))
	}
	undo := h.notes.got[0].undo
	if undo == nil || undo.Type != types.UndoUngroup || len(undo.TabIDs) != 2 {
		t.Errorf("undo = %+v, want ungroup of 2 tabs", undo)
	}
}

func TestTwoTabsFromOneOpener(t *testing.T) {
	h := newHarness(t, Config{Rules: []types.DomainRule{issueRule}})
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/foo", Title: "Issue #1"})
	h.tracker.Record("https://example.com/bar", 1)
	h.tracker.Record("https://example.com/bar", 1)

	a := h.fake.AddTab(types.Tab{ID: 2, PendingURL: "https://example.com/bar", OpenerTabID: 1})
	b := h.fake.AddTab(types.Tab{ID: 3, PendingURL: "https://example.com/bar-redirected", OpenerTabID: 1})
	h.c.OnTabCreated(context.Background(), a)
	h.c.OnTabCreated(context.Background(), b)

	if h.c.Placement(2) == nil {
		t.Error("first tab should correlate by URL")
	}
	if h.c.Placement(3) != nil {
		t.Error("second tab should find no entry once the first consumed it")
	}
}
