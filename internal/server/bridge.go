package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lotas/tabgruppen/internal/browser"
	"github.com/lotas/tabgruppen/internal/types"
)

// Host command actions.
const (
	ActionTabsGet       = "tabs.get"
	ActionTabsQuery     = "tabs.query"
	ActionTabsActivate  = "tabs.activate"
	ActionTabsReload    = "tabs.reload"
	ActionTabsClose     = "tabs.close"
	ActionWindowsGet    = "windows.get"
	ActionWindowsFocus  = "windows.focus"
	ActionGroupsCreate  = "groups.create"
	ActionGroupsAdd     = "groups.add"
	ActionGroupsUngroup = "groups.ungroup"
	ActionGroupsUpdate  = "groups.update"
	ActionGroupsQuery   = "groups.query"
	ActionPromptInject  = "prompt.inject"
	ActionNotify        = "notify"
)

// Caller issues one command and returns its payload. *Server implements it.
type Caller interface {
	Call(ctx context.Context, msg OutgoingMsg) (json.RawMessage, error)
}

// Bridge implements browser.Browser by issuing commands to the connected
// extension.
type Bridge struct {
	c Caller
}

var _ browser.Browser = (*Bridge)(nil)

// NewBridge returns a Bridge that issues commands through c.
func NewBridge(c Caller) *Bridge {
	return &Bridge{c: c}
}

func (b *Bridge) call(ctx context.Context, msg OutgoingMsg) error {
	_, err := b.c.Call(ctx, msg)
	return err
}

func (b *Bridge) GetTab(ctx context.Context, tabID int) (*types.Tab, error) {
	raw, err := b.c.Call(ctx, OutgoingMsg{Action: ActionTabsGet, TabID: tabID})
	if err != nil {
		return nil, err
	}
	return ParseTab(raw)
}

func (b *Bridge) QueryTabs(ctx context.Context, q browser.TabQuery) ([]*types.Tab, error) {
	raw, err := b.c.Call(ctx, OutgoingMsg{Action: ActionTabsQuery, WindowID: q.WindowID, URL: q.URL})
	if err != nil {
		return nil, err
	}
	return ParseTabs(raw)
}

func (b *Bridge) ActivateTab(ctx context.Context, tabID int) error {
	return b.call(ctx, OutgoingMsg{Action: ActionTabsActivate, TabID: tabID})
}

func (b *Bridge) ReloadTab(ctx context.Context, tabID int) error {
	return b.call(ctx, OutgoingMsg{Action: ActionTabsReload, TabID: tabID})
}

func (b *Bridge) CloseTab(ctx context.Context, tabID int) error {
	return b.call(ctx, OutgoingMsg{Action: ActionTabsClose, TabID: tabID})
}

func (b *Bridge) GetWindow(ctx context.Context, windowID int) (*types.Window, error) {
	raw, err := b.c.Call(ctx, OutgoingMsg{Action: ActionWindowsGet, WindowID: windowID})
	if err != nil {
		return nil, err
	}
	return ParseWindow(raw)
}

func (b *Bridge) FocusWindow(ctx context.Context, windowID int) error {
	return b.call(ctx, OutgoingMsg{Action: ActionWindowsFocus, WindowID: windowID})
}

// CreateGroup groups tabIDs into a new group. The extension answers with
// {"groupId": N}.
func (b *Bridge) CreateGroup(ctx context.Context, tabIDs []int) (int, error) {
	raw, err := b.c.Call(ctx, OutgoingMsg{Action: ActionGroupsCreate, TabIDs: tabIDs})
	if err != nil {
		return 0, err
	}
	var resp struct {
		GroupID int `json:"groupId"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, fmt.Errorf("parse group id: %w", err)
	}
	if resp.GroupID <= 0 {
		return 0, fmt.Errorf("%s: invalid group id %d", ActionGroupsCreate, resp.GroupID)
	}
	return resp.GroupID, nil
}

func (b *Bridge) AddToGroup(ctx context.Context, groupID int, tabIDs []int) error {
	return b.call(ctx, OutgoingMsg{Action: ActionGroupsAdd, GroupID: groupID, TabIDs: tabIDs})
}

func (b *Bridge) Ungroup(ctx context.Context, tabIDs []int) error {
	return b.call(ctx, OutgoingMsg{Action: ActionGroupsUngroup, TabIDs: tabIDs})
}

func (b *Bridge) UpdateGroup(ctx context.Context, groupID int, u browser.GroupUpdate) error {
	return b.call(ctx, OutgoingMsg{Action: ActionGroupsUpdate, GroupID: groupID, Update: &u})
}

func (b *Bridge) QueryGroups(ctx context.Context, windowID int, title string) ([]*types.TabGroup, error) {
	raw, err := b.c.Call(ctx, OutgoingMsg{Action: ActionGroupsQuery, WindowID: windowID, Title: title})
	if err != nil {
		return nil, err
	}
	return ParseGroups(raw)
}

func (b *Bridge) Prompt(ctx context.Context, req browser.PromptRequest) error {
	return b.call(ctx, OutgoingMsg{Action: ActionPromptInject, TabID: req.TabID, Prompt: &req})
}

func (b *Bridge) Notify(ctx context.Context, n types.Notification) error {
	return b.call(ctx, OutgoingMsg{Action: ActionNotify, Notification: &n})
}
