package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/tabgruppen/internal/types"
)

// maxNotices caps the list; older entries fall off the end.
const maxNotices = 50

// NoticeList shows recent notifications, newest first.
type NoticeList struct {
	Width  int
	Height int
	Cursor int
	Scroll int

	items  []types.Notification
	undone map[string]bool
}

// Add prepends n. The cursor stays on the entry it pointed at.
func (l *NoticeList) Add(n types.Notification, now time.Time) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	l.items = append([]types.Notification{n}, l.items...)
	if len(l.items) > maxNotices {
		l.items = l.items[:maxNotices]
	}
	if len(l.items) > 1 && l.Cursor < len(l.items)-1 {
		l.Cursor++
	}
}

// Len returns the number of entries.
func (l *NoticeList) Len() int {
	return len(l.items)
}

// Selected returns the entry under the cursor, or nil.
func (l *NoticeList) Selected() *types.Notification {
	if l.Cursor < 0 || l.Cursor >= len(l.items) {
		return nil
	}
	return &l.items[l.Cursor]
}

func (l *NoticeList) MoveUp() {
	if l.Cursor > 0 {
		l.Cursor--
	}
	if l.Cursor < l.Scroll {
		l.Scroll = l.Cursor
	}
}

func (l *NoticeList) MoveDown() {
	if l.Cursor < len(l.items)-1 {
		l.Cursor++
	}
	if rows := l.rows(); rows > 0 && l.Cursor >= l.Scroll+rows {
		l.Scroll = l.Cursor - rows + 1
	}
}

// MarkUndone flags the notification with id as reverted.
func (l *NoticeList) MarkUndone(id string) {
	if l.undone == nil {
		l.undone = make(map[string]bool)
	}
	l.undone[id] = true
}

// Undone reports whether the notification with id was reverted.
func (l *NoticeList) Undone(id string) bool {
	return l.undone[id]
}

// rows is the number of entries that fit; each takes two lines.
func (l *NoticeList) rows() int {
	return l.Height / 2
}

func (l NoticeList) View(now time.Time) string {
	if len(l.items) == 0 {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render("No activity yet.")
	}

	cursorStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	titleStyle := lipgloss.NewStyle().Bold(true)
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	undoStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	start, end := l.Scroll, len(l.items)
	if rows := l.rows(); rows > 0 && start+rows < end {
		end = start + rows
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		n := l.items[i]
		prefix := "  "
		if i == l.Cursor {
			prefix = cursorStyle.Render("> ")
		}
		line := prefix + titleStyle.Render(n.Title) + " " + dimStyle.Render(age(now.Sub(n.CreatedAt)))
		switch {
		case l.undone[n.ID]:
			line += " " + dimStyle.Render("(undone)")
		case n.UndoAction != nil:
			line += " " + undoStyle.Render("[u]ndo")
		}
		b.WriteString(line + "\n")
		msg := n.Message
		if l.Width > 6 && len(msg) > l.Width-4 {
			msg = msg[:l.Width-5] + "…"
		}
		b.WriteString("    " + dimStyle.Render(msg) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func age(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}
