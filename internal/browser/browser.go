// Package browser defines the calls the engine issues to the browser host
// and the error classification shared by every caller.
package browser

import (
	"context"
	"errors"
	"strings"

	"github.com/lotas/tabgruppen/internal/applog"
	"github.com/lotas/tabgruppen/internal/types"
)

// ErrGone reports that the referenced tab, group or window no longer
// exists. Hosts may also report this only as error text; use IsGone.
var ErrGone = errors.New("target no longer exists")

var goneMarkers = []string{
	"no tab with id",
	"no group with id",
	"no window with id",
	"invalid tab id",
	"tab not found",
	"group not found",
	"window not found",
}

// IsGone reports whether err means a tab, group or window was closed while
// an operation on it was in flight.
func IsGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrGone) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range goneMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// TabQuery filters QueryTabs. Zero fields are ignored.
type TabQuery struct {
	WindowID int    `json:"windowId,omitempty"`
	URL      string `json:"url,omitempty"`
}

// GroupUpdate changes group properties. Nil fields are left untouched.
type GroupUpdate struct {
	Title     *string `json:"title,omitempty"`
	Color     *string `json:"color,omitempty"`
	Collapsed *bool   `json:"collapsed,omitempty"`
}

// PromptRequest asks the user, inside a page, to name a tab group.
type PromptRequest struct {
	ID      string `json:"promptId"`
	TabID   int    `json:"tabId"`
	Message string `json:"message"`
	Default string `json:"default"`
}

// Tabs is the tab half of the host surface.
type Tabs interface {
	GetTab(ctx context.Context, tabID int) (*types.Tab, error)
	QueryTabs(ctx context.Context, q TabQuery) ([]*types.Tab, error)
	ActivateTab(ctx context.Context, tabID int) error
	ReloadTab(ctx context.Context, tabID int) error
	CloseTab(ctx context.Context, tabID int) error
}

// Windows is the window half of the host surface.
type Windows interface {
	GetWindow(ctx context.Context, windowID int) (*types.Window, error)
	FocusWindow(ctx context.Context, windowID int) error
}

// Groups is the tab group half of the host surface.
type Groups interface {
	CreateGroup(ctx context.Context, tabIDs []int) (int, error)
	AddToGroup(ctx context.Context, groupID int, tabIDs []int) error
	Ungroup(ctx context.Context, tabIDs []int) error
	UpdateGroup(ctx context.Context, groupID int, u GroupUpdate) error
	QueryGroups(ctx context.Context, windowID int, title string) ([]*types.TabGroup, error)
}

// Pages injects UI into page contexts.
type Pages interface {
	Prompt(ctx context.Context, req PromptRequest) error
	Notify(ctx context.Context, n types.Notification) error
}

// Browser is the complete host call surface.
type Browser interface {
	Tabs
	Windows
	Groups
	Pages
}

var placeholderPrefixes = []string{
	"about:",
	"chrome:",
	"chrome-extension:",
	"chrome-search:",
	"edge:",
	"brave:",
	"moz-extension:",
	"view-source:",
	"data:",
	"javascript:",
	"blob:",
}

// IsPlaceholderURL reports whether url is empty or uses an internal or
// blank scheme that never identifies real content.
func IsPlaceholderURL(url string) bool {
	u := strings.ToLower(strings.TrimSpace(url))
	if u == "" {
		return true
	}
	for _, p := range placeholderPrefixes {
		if strings.HasPrefix(u, p) {
			return true
		}
	}
	return false
}

// String returns a pointer to s, for GroupUpdate fields.
func String(s string) *string { return &s }

// Bool returns a pointer to b, for GroupUpdate fields.
func Bool(b bool) *bool { return &b }

// LogError logs a failed host call: at warning level when the target is
// gone, which is an expected race with the user, and at error level
// otherwise.
func LogError(event string, err error, kv ...any) {
	if IsGone(err) {
		applog.Warn(event, err, kv...)
		return
	}
	applog.Error(event, err, kv...)
}
