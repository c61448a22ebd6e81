package engine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lotas/tabgruppen/internal/browser/browsertest"
	"github.com/lotas/tabgruppen/internal/config"
	"github.com/lotas/tabgruppen/internal/server"
	"github.com/lotas/tabgruppen/internal/storage"
	"github.com/lotas/tabgruppen/internal/types"
)

var exampleRule = types.DomainRule{
	ID:                     "r1",
	DomainFilter:           "example.com",
	Label:                  "Example",
	GroupNameSource:        types.SourceSmartLabel,
	DeduplicationMatchMode: types.MatchExact,
	DeduplicationEnabled:   true,
	Enabled:                true,
}

type harness struct {
	e      *Engine
	fake   *browsertest.Fake
	store  *storage.Store
	events chan server.IncomingMsg
	reload chan config.Settings
	ctx    context.Context
	done   chan error
}

func start(t *testing.T, s config.Settings) *harness {
	t.Helper()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		fake:   browsertest.New(),
		store:  &storage.Store{DB: db},
		events: make(chan server.IncomingMsg),
		reload: make(chan config.Settings),
		ctx:    ctx,
		done:   make(chan error, 1),
	}
	h.e = New(h.fake, h.store, s, Options{SweepInterval: time.Hour})
	go func() { h.done <- h.e.Run(ctx, h.events, h.reload) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func settingsWith(rules ...types.DomainRule) config.Settings {
	s := config.DefaultSettings()
	s.Rules = rules
	return s
}

func (h *harness) send(t *testing.T, msg server.IncomingMsg) {
	t.Helper()
	select {
	case h.events <- msg:
	case <-time.After(5 * time.Second):
		t.Fatalf("engine did not accept %s", msg.Type)
	}
}

func tabJSON(t *testing.T, v map[string]any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

// openFrom simulates a link gesture in tab openerID that opens newID on
// url, then the new tab finishing its load.
func (h *harness) openFrom(t *testing.T, openerID, newID int, url string) {
	t.Helper()
	h.fake.AddTab(types.Tab{ID: newID, PendingURL: url, Status: "loading", OpenerTabID: openerID})
	h.send(t, server.IncomingMsg{Type: server.MsgLinkGesture, TabID: openerID, URL: url})
	h.send(t, server.IncomingMsg{Type: server.MsgTabCreated, Tab: tabJSON(t, map[string]any{
		"id": newID, "pendingUrl": url, "status": "loading", "windowId": 1, "groupId": -1, "openerTabId": openerID,
	})})
	h.send(t, server.IncomingMsg{Type: server.MsgTabUpdated, Tab: tabJSON(t, map[string]any{
		"id": newID, "url": url, "status": "complete", "windowId": 1, "groupId": -1,
	})})
}

func TestGroupsAndUndoes(t *testing.T) {
	h := start(t, settingsWith(exampleRule))
	notes, cancel := h.e.Notifications().Subscribe()
	defer cancel()

	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/a", Title: "Home", Status: types.TabStatusComplete})
	h.openFrom(t, 1, 2, "https://example.com/b")

	snap, err := h.e.Snapshot(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Stats.GroupsCreated)
	assert.Zero(t, snap.InFlight)
	assert.Equal(t, 1, snap.Notifications)

	opener, tab := h.fake.Tab(1), h.fake.Tab(2)
	require.True(t, tab.Grouped())
	assert.Equal(t, opener.GroupID, tab.GroupID)
	assert.Equal(t, "Example", h.fake.Group(tab.GroupID).Title)

	var n types.Notification
	select {
	case n = <-notes:
	case <-time.After(5 * time.Second):
		t.Fatal("no notification published")
	}
	require.NotNil(t, n.UndoAction)

	require.NoError(t, h.e.Undo(h.ctx, n.ID))
	assert.False(t, h.fake.Tab(1).Grouped())
	assert.False(t, h.fake.Tab(2).Grouped())

	actions, err := storage.ListActions(h.ctx, h.store.DB, 0)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.NotNil(t, actions[0].UndoneAt)
}

func TestUndoFromExtension(t *testing.T) {
	h := start(t, settingsWith(exampleRule))
	notes, cancel := h.e.Notifications().Subscribe()
	defer cancel()

	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/a", Status: types.TabStatusComplete})
	h.openFrom(t, 1, 2, "https://example.com/b")
	n := <-notes

	h.send(t, server.IncomingMsg{Type: server.MsgUndo, NotificationID: n.ID})
	snap, err := h.e.Snapshot(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.Notifications)
	assert.False(t, h.fake.Tab(2).Grouped())
}

func TestDeduplicatesNavigation(t *testing.T) {
	h := start(t, settingsWith())
	h.fake.AddTab(types.Tab{ID: 1, URL: "https://docs.example.org/page", Status: types.TabStatusComplete})
	h.fake.AddTab(types.Tab{ID: 2, URL: "about:blank", Active: true})

	h.send(t, server.IncomingMsg{Type: server.MsgNavBefore, TabID: 2, URL: "https://docs.example.org/page", WindowID: 1})

	snap, err := h.e.Snapshot(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Stats.TabsDeduplicated)
	assert.Nil(t, h.fake.Tab(2), "navigating tab closed")
	assert.True(t, h.fake.Tab(1).Active)
	assert.Equal(t, 1, snap.Markers)
}

func TestSettingsReload(t *testing.T) {
	h := start(t, settingsWith(exampleRule))

	s := settingsWith(exampleRule)
	s.GroupingEnabled = false
	select {
	case h.reload <- s:
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not accept settings")
	}

	h.fake.AddTab(types.Tab{ID: 1, URL: "https://example.com/a", Status: types.TabStatusComplete})
	h.openFrom(t, 1, 2, "https://example.com/b")

	snap, err := h.e.Snapshot(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.Stats.GroupsCreated)
	assert.False(t, h.fake.Called("CreateGroup"))
	assert.Equal(t, 1, snap.Associations, "gesture is still recorded")
}

func TestClosedSettingsChannelKeepsRunning(t *testing.T) {
	h := start(t, settingsWith(exampleRule))
	close(h.reload)

	_, err := h.e.Snapshot(h.ctx)
	require.NoError(t, err)
}

func TestSweep(t *testing.T) {
	h := start(t, settingsWith(exampleRule))
	h.send(t, server.IncomingMsg{Type: server.MsgLinkGesture, TabID: 1, URL: "https://example.com/x"})

	snap, err := h.e.Snapshot(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Associations)

	require.NoError(t, h.e.do(h.ctx, func(context.Context) { h.e.Sweep() }))
	snap, err = h.e.Snapshot(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.Associations)
	assert.False(t, snap.LastSweep.IsZero())
}

func TestBadEventsAreSkipped(t *testing.T) {
	h := start(t, settingsWith(exampleRule))
	h.send(t, server.IncomingMsg{Type: server.MsgTabCreated, Tab: json.RawMessage(`{"id":"x"}`)})
	h.send(t, server.IncomingMsg{Type: server.MsgNavBefore})
	h.send(t, server.IncomingMsg{Type: "tab.moved"})

	_, err := h.e.Snapshot(h.ctx)
	require.NoError(t, err)
}

func TestClassifyAndExport(t *testing.T) {
	h := start(t, settingsWith(exampleRule))

	doc, err := h.e.Export(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, types.RuleDocumentVersion, doc.Version)
	require.Len(t, doc.Rules, 1)

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	res, err := h.e.Classify(h.ctx, data)
	require.NoError(t, err)
	assert.Len(t, res.Identical, 1)
	assert.Empty(t, res.New)

	_, err = h.e.Classify(h.ctx, []byte(`{"rules": 3}`))
	assert.Error(t, err)
}

func TestRunStopsWhenEventsClose(t *testing.T) {
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	e := New(browsertest.New(), &storage.Store{DB: db}, config.DefaultSettings(), Options{})
	events := make(chan server.IncomingMsg)
	close(events)
	assert.NoError(t, e.Run(context.Background(), events, nil))
}

func TestRequestsHonorContext(t *testing.T) {
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	e := New(browsertest.New(), &storage.Store{DB: db}, config.DefaultSettings(), Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = e.Snapshot(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
