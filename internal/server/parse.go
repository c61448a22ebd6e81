package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lotas/tabgruppen/internal/types"
)

type wireTab struct {
	ID           int    `json:"id"`
	URL          string `json:"url"`
	PendingURL   string `json:"pendingUrl"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	WindowID     int    `json:"windowId"`
	GroupID      *int   `json:"groupId"`
	OpenerTabID  int    `json:"openerTabId"`
	Index        int    `json:"index"`
	Active       bool   `json:"active"`
	LastAccessed int64  `json:"lastAccessed"`
}

type wireGroup struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	Color     string `json:"color"`
	Collapsed bool   `json:"collapsed"`
	WindowID  int    `json:"windowId"`
}

type wireWindow struct {
	ID      int  `json:"id"`
	Focused bool `json:"focused"`
}

func (wt wireTab) tab() *types.Tab {
	t := &types.Tab{
		ID:          wt.ID,
		URL:         wt.URL,
		PendingURL:  wt.PendingURL,
		Title:       wt.Title,
		Status:      wt.Status,
		WindowID:    wt.WindowID,
		GroupID:     types.NoGroup,
		OpenerTabID: wt.OpenerTabID,
		Index:       wt.Index,
		Active:      wt.Active,
	}
	if wt.GroupID != nil && *wt.GroupID > 0 {
		t.GroupID = *wt.GroupID
	}
	if wt.LastAccessed > 0 {
		t.LastAccessed = time.UnixMilli(wt.LastAccessed)
	}
	return t
}

// ParseTab converts a raw JSON tab into a Tab. A missing groupId means the
// tab is ungrouped.
func ParseTab(raw json.RawMessage) (*types.Tab, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("parse tab: empty")
	}
	var wt wireTab
	if err := json.Unmarshal(raw, &wt); err != nil {
		return nil, fmt.Errorf("parse tab: %w", err)
	}
	if wt.ID <= 0 {
		return nil, fmt.Errorf("parse tab: invalid id %d", wt.ID)
	}
	return wt.tab(), nil
}

// ParseTabs converts a raw JSON array of tabs.
func ParseTabs(raw json.RawMessage) ([]*types.Tab, error) {
	var wts []wireTab
	if err := json.Unmarshal(raw, &wts); err != nil {
		return nil, fmt.Errorf("parse tabs: %w", err)
	}
	tabs := make([]*types.Tab, 0, len(wts))
	for _, wt := range wts {
		tabs = append(tabs, wt.tab())
	}
	return tabs, nil
}

// ParseGroup converts a raw JSON tab group.
func ParseGroup(raw json.RawMessage) (*types.TabGroup, error) {
	var wg wireGroup
	if err := json.Unmarshal(raw, &wg); err != nil {
		return nil, fmt.Errorf("parse group: %w", err)
	}
	return &types.TabGroup{
		ID:        wg.ID,
		Title:     wg.Title,
		Color:     wg.Color,
		Collapsed: wg.Collapsed,
		WindowID:  wg.WindowID,
	}, nil
}

// ParseGroups converts a raw JSON array of tab groups.
func ParseGroups(raw json.RawMessage) ([]*types.TabGroup, error) {
	var wgs []wireGroup
	if err := json.Unmarshal(raw, &wgs); err != nil {
		return nil, fmt.Errorf("parse groups: %w", err)
	}
	groups := make([]*types.TabGroup, 0, len(wgs))
	for _, wg := range wgs {
		groups = append(groups, &types.TabGroup{
			ID:        wg.ID,
			Title:     wg.Title,
			Color:     wg.Color,
			Collapsed: wg.Collapsed,
			WindowID:  wg.WindowID,
		})
	}
	return groups, nil
}

// ParseWindow converts a raw JSON window.
func ParseWindow(raw json.RawMessage) (*types.Window, error) {
	var ww wireWindow
	if err := json.Unmarshal(raw, &ww); err != nil {
		return nil, fmt.Errorf("parse window: %w", err)
	}
	return &types.Window{ID: ww.ID, Focused: ww.Focused}, nil
}

// ParseNavigation extracts the pending navigation from a nav.before event.
func ParseNavigation(msg IncomingMsg) (types.Navigation, error) {
	if msg.Type != MsgNavBefore {
		return types.Navigation{}, fmt.Errorf("parse navigation: unexpected type %q", msg.Type)
	}
	if msg.TabID <= 0 {
		return types.Navigation{}, fmt.Errorf("parse navigation: invalid tab id %d", msg.TabID)
	}
	return types.Navigation{
		TabID:    msg.TabID,
		URL:      msg.URL,
		FrameID:  msg.FrameID,
		WindowID: msg.WindowID,
	}, nil
}
