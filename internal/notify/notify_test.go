package notify

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lotas/tabgruppen/internal/browser/browsertest"
	"github.com/lotas/tabgruppen/internal/storage"
	"github.com/lotas/tabgruppen/internal/types"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newCenter(t *testing.T, ttl time.Duration) (*Center, *browsertest.Fake, *storage.Store, *clock) {
	t.Helper()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "notify.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	fake := browsertest.New()
	store := &storage.Store{DB: db}
	c := New(fake, store, ttl)
	clk := &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	c.now = clk.now
	return c, fake, store, clk
}

func TestPublishWithoutUndo(t *testing.T) {
	c, fake, store, _ := newCenter(t, time.Minute)

	n := c.Publish(context.Background(), "Duplicate tab closed", "Switched", nil)
	assert.NotEmpty(t, n.ID)
	assert.Len(t, fake.Notices, 1)
	assert.Equal(t, 0, c.Pending())

	actions, err := storage.ListActions(context.Background(), store.DB, 0)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestUndoUngroups(t *testing.T) {
	c, fake, store, _ := newCenter(t, time.Minute)
	ctx := context.Background()
	fake.AddTab(types.Tab{ID: 1})
	fake.AddTab(types.Tab{ID: 2})
	gid := fake.AddGroup(types.TabGroup{Title: "Jira", WindowID: 1}, 1, 2)

	n := c.Publish(ctx, "Tabs grouped", "Jira", &types.UndoAction{Type: types.UndoUngroup, TabIDs: []int{1, 2}})
	require.Equal(t, 1, c.Pending())
	require.Equal(t, gid, fake.Tab(1).GroupID)

	require.NoError(t, c.Undo(ctx, n.ID))
	assert.Equal(t, types.NoGroup, fake.Tab(1).GroupID)
	assert.Equal(t, types.NoGroup, fake.Tab(2).GroupID)
	assert.Equal(t, 0, c.Pending())

	actions, err := storage.ListActions(ctx, store.DB, 0)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.NotNil(t, actions[0].UndoneAt)

	assert.ErrorIs(t, c.Undo(ctx, n.ID), ErrExpired)
}

func TestUndoSkipsClosedTabs(t *testing.T) {
	c, fake, _, _ := newCenter(t, time.Minute)
	ctx := context.Background()
	fake.AddTab(types.Tab{ID: 1})
	fake.AddTab(types.Tab{ID: 2})
	fake.AddGroup(types.TabGroup{Title: "Docs"}, 1, 2)

	n := c.Publish(ctx, "Tabs grouped", "Docs", &types.UndoAction{Type: types.UndoUngroup, TabIDs: []int{1, 2}})
	fake.RemoveTab(1)

	require.NoError(t, c.Undo(ctx, n.ID))
	assert.Equal(t, types.NoGroup, fake.Tab(2).GroupID)
}

func TestUndoHostFailure(t *testing.T) {
	c, fake, _, _ := newCenter(t, time.Minute)
	ctx := context.Background()
	fake.AddTab(types.Tab{ID: 1})
	fake.Fail["Ungroup"] = errors.New("extension disconnected")

	fake.AddGroup(types.TabGroup{Title: "X"}, 1)

	n := c.Publish(ctx, "Tabs grouped", "X", &types.UndoAction{Type: types.UndoUngroup, TabIDs: []int{1}})
	err := c.Undo(ctx, n.ID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExpired)
	assert.Equal(t, 1, c.Pending(), "failed undo stays pending")

	delete(fake.Fail, "Ungroup")
	require.NoError(t, c.Undo(ctx, n.ID), "retry after the host recovered")
	assert.Equal(t, types.NoGroup, fake.Tab(1).GroupID)
	assert.Equal(t, 0, c.Pending())
}

func TestUndoExpires(t *testing.T) {
	c, fake, _, clk := newCenter(t, 30*time.Second)
	ctx := context.Background()
	fake.AddTab(types.Tab{ID: 1})

	n := c.Publish(ctx, "Tabs grouped", "X", &types.UndoAction{Type: types.UndoUngroup, TabIDs: []int{1}})
	clk.t = clk.t.Add(31 * time.Second)

	assert.ErrorIs(t, c.Undo(ctx, n.ID), ErrExpired)
	assert.False(t, fake.Called("Ungroup"))
}

func TestSweep(t *testing.T) {
	c, _, _, clk := newCenter(t, 30*time.Second)
	ctx := context.Background()
	undo := &types.UndoAction{Type: types.UndoUngroup, TabIDs: []int{1}}

	c.Publish(ctx, "old", "", undo)
	clk.t = clk.t.Add(20 * time.Second)
	c.Publish(ctx, "new", "", undo)
	clk.t = clk.t.Add(15 * time.Second)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Pending())
}

func TestPublishSurvivesHostError(t *testing.T) {
	c, fake, _, _ := newCenter(t, time.Minute)
	fake.Fail["Notify"] = errors.New("no page to inject into")

	n := c.Publish(context.Background(), "Tabs grouped", "X", &types.UndoAction{Type: types.UndoUngroup, TabIDs: []int{1}})
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, 1, c.Pending())
}

func TestSubscribe(t *testing.T) {
	c, _, _, _ := newCenter(t, time.Minute)
	ch, cancel := c.Subscribe()

	c.Publish(context.Background(), "hello", "world", nil)
	select {
	case n := <-ch:
		assert.Equal(t, "hello", n.Title)
	case <-time.After(time.Second):
		t.Fatal("no notification received")
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	c.Publish(context.Background(), "after", "", nil)
}
