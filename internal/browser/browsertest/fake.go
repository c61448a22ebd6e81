// Package browsertest provides an in-memory browser.Browser for tests.
package browsertest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lotas/tabgruppen/internal/browser"
	"github.com/lotas/tabgruppen/internal/types"
)

// Fake is an in-memory browser. Tabs, groups and windows are plain maps;
// every call is appended to Calls as "method arg...". Set Fail[method] to
// make that method return the given error.
type Fake struct {
	mu        sync.Mutex
	Tabs      map[int]*types.Tab
	Groups    map[int]*types.TabGroup
	Windows   map[int]*types.Window
	Prompts   []browser.PromptRequest
	Notices   []types.Notification
	Calls     []string
	Fail      map[string]error
	nextGroup int
}

// New returns an empty Fake with window 1 focused.
func New() *Fake {
	return &Fake{
		Tabs:      make(map[int]*types.Tab),
		Groups:    make(map[int]*types.TabGroup),
		Windows:   map[int]*types.Window{1: {ID: 1, Focused: true}},
		Fail:      make(map[string]error),
		nextGroup: 100,
	}
}

// AddTab registers a tab. Zero WindowID defaults to 1, zero GroupID to
// types.NoGroup.
func (f *Fake) AddTab(t types.Tab) *types.Tab {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.WindowID == 0 {
		t.WindowID = 1
	}
	if t.GroupID == 0 {
		t.GroupID = types.NoGroup
	}
	if _, ok := f.Windows[t.WindowID]; !ok {
		f.Windows[t.WindowID] = &types.Window{ID: t.WindowID}
	}
	tab := t
	f.Tabs[t.ID] = &tab
	return &tab
}

// AddGroup registers an existing group and returns its id.
func (f *Fake) AddGroup(g types.TabGroup, tabIDs ...int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g.ID == 0 {
		f.nextGroup++
		g.ID = f.nextGroup
	}
	grp := g
	f.Groups[g.ID] = &grp
	for _, id := range tabIDs {
		if t, ok := f.Tabs[id]; ok {
			t.GroupID = g.ID
		}
	}
	return g.ID
}

// RemoveTab simulates the user closing a tab.
func (f *Fake) RemoveTab(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Tabs, id)
}

// Tab returns a copy of the tab state, or nil.
func (f *Fake) Tab(id int) *types.Tab {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.Tabs[id]
	if !ok {
		return nil
	}
	c := *t
	return &c
}

// Group returns a copy of the group state, or nil.
func (f *Fake) Group(id int) *types.TabGroup {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.Groups[id]
	if !ok {
		return nil
	}
	c := *g
	return &c
}

// Called reports whether a call with the given method name was made.
func (f *Fake) Called(method string) bool {
	return f.CallCount(method) > 0
}

// CallCount counts calls whose method name is method.
func (f *Fake) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == method || len(c) > len(method) && c[:len(method)+1] == method+" " {
			n++
		}
	}
	return n
}

func (f *Fake) record(method string, args ...any) error {
	c := method
	for _, a := range args {
		c += fmt.Sprintf(" %v", a)
	}
	f.Calls = append(f.Calls, c)
	return f.Fail[method]
}

func gone(kind string, id int) error {
	return fmt.Errorf("No %s with id: %d.", kind, id)
}

func (f *Fake) GetTab(_ context.Context, tabID int) (*types.Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetTab", tabID); err != nil {
		return nil, err
	}
	t, ok := f.Tabs[tabID]
	if !ok {
		return nil, gone("tab", tabID)
	}
	c := *t
	return &c, nil
}

func (f *Fake) QueryTabs(_ context.Context, q browser.TabQuery) ([]*types.Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("QueryTabs", q.WindowID); err != nil {
		return nil, err
	}
	var out []*types.Tab
	for _, t := range f.Tabs {
		if q.WindowID != 0 && t.WindowID != q.WindowID {
			continue
		}
		if q.URL != "" && t.URL != q.URL {
			continue
		}
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) ActivateTab(_ context.Context, tabID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ActivateTab", tabID); err != nil {
		return err
	}
	t, ok := f.Tabs[tabID]
	if !ok {
		return gone("tab", tabID)
	}
	for _, o := range f.Tabs {
		if o.WindowID == t.WindowID {
			o.Active = false
		}
	}
	t.Active = true
	return nil
}

func (f *Fake) ReloadTab(_ context.Context, tabID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ReloadTab", tabID); err != nil {
		return err
	}
	if _, ok := f.Tabs[tabID]; !ok {
		return gone("tab", tabID)
	}
	return nil
}

func (f *Fake) CloseTab(_ context.Context, tabID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CloseTab", tabID); err != nil {
		return err
	}
	if _, ok := f.Tabs[tabID]; !ok {
		return gone("tab", tabID)
	}
	delete(f.Tabs, tabID)
	return nil
}

func (f *Fake) GetWindow(_ context.Context, windowID int) (*types.Window, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetWindow", windowID); err != nil {
		return nil, err
	}
	w, ok := f.Windows[windowID]
	if !ok {
		return nil, gone("window", windowID)
	}
	c := *w
	return &c, nil
}

func (f *Fake) FocusWindow(_ context.Context, windowID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("FocusWindow", windowID); err != nil {
		return err
	}
	w, ok := f.Windows[windowID]
	if !ok {
		return gone("window", windowID)
	}
	for _, o := range f.Windows {
		o.Focused = false
	}
	w.Focused = true
	return nil
}

func (f *Fake) CreateGroup(_ context.Context, tabIDs []int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateGroup", tabIDs); err != nil {
		return 0, err
	}
	if len(tabIDs) == 0 {
		return 0, fmt.Errorf("no tabs")
	}
	first, ok := f.Tabs[tabIDs[0]]
	if !ok {
		return 0, gone("tab", tabIDs[0])
	}
	for _, id := range tabIDs {
		if _, ok := f.Tabs[id]; !ok {
			return 0, gone("tab", id)
		}
	}
	f.nextGroup++
	g := &types.TabGroup{ID: f.nextGroup, WindowID: first.WindowID}
	f.Groups[g.ID] = g
	for _, id := range tabIDs {
		f.Tabs[id].GroupID = g.ID
	}
	return g.ID, nil
}

func (f *Fake) AddToGroup(_ context.Context, groupID int, tabIDs []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AddToGroup", groupID, tabIDs); err != nil {
		return err
	}
	if _, ok := f.Groups[groupID]; !ok {
		return gone("group", groupID)
	}
	for _, id := range tabIDs {
		t, ok := f.Tabs[id]
		if !ok {
			return gone("tab", id)
		}
		t.GroupID = groupID
	}
	return nil
}

func (f *Fake) Ungroup(_ context.Context, tabIDs []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Ungroup", tabIDs); err != nil {
		return err
	}
	for _, id := range tabIDs {
		t, ok := f.Tabs[id]
		if !ok {
			return gone("tab", id)
		}
		t.GroupID = types.NoGroup
	}
	return nil
}

func (f *Fake) UpdateGroup(_ context.Context, groupID int, u browser.GroupUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateGroup", groupID); err != nil {
		return err
	}
	g, ok := f.Groups[groupID]
	if !ok {
		return gone("group", groupID)
	}
	if u.Title != nil {
		g.Title = *u.Title
	}
	if u.Color != nil {
		g.Color = *u.Color
	}
	if u.Collapsed != nil {
		g.Collapsed = *u.Collapsed
	}
	return nil
}

func (f *Fake) QueryGroups(_ context.Context, windowID int, title string) ([]*types.TabGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("QueryGroups", windowID, title); err != nil {
		return nil, err
	}
	var out []*types.TabGroup
	for _, g := range f.Groups {
		if windowID != 0 && g.WindowID != windowID {
			continue
		}
		if title != "" && g.Title != title {
			continue
		}
		c := *g
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) Prompt(_ context.Context, req browser.PromptRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Prompt", req.TabID); err != nil {
		return err
	}
	f.Prompts = append(f.Prompts, req)
	return nil
}

func (f *Fake) Notify(_ context.Context, n types.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Notify", n.Title); err != nil {
		return err
	}
	f.Notices = append(f.Notices, n)
	return nil
}

var _ browser.Browser = (*Fake)(nil)
