package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/tabgruppen/internal/engine"
	"github.com/lotas/tabgruppen/internal/types"
)

// refreshInterval is how often the dashboard polls the engine.
const refreshInterval = time.Second

// requestTimeout bounds a single engine request from the UI.
const requestTimeout = 5 * time.Second

// Backend is the engine surface the dashboard drives.
type Backend interface {
	Snapshot(ctx context.Context) (engine.Snapshot, error)
	Undo(ctx context.Context, notificationID string) error
}

// --- Messages ---

type tickMsg time.Time

type snapshotMsg struct {
	snap engine.Snapshot
	err  error
}

type noticeMsg struct {
	n  types.Notification
	ok bool
}

type undoResultMsg struct {
	id  string
	err error
}

// --- Commands ---

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func loadSnapshot(b Backend) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		snap, err := b.Snapshot(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

func listenNotices(ch <-chan types.Notification) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-ch
		return noticeMsg{n: n, ok: ok}
	}
}

func undo(b Backend, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return undoResultMsg{id: id, err: b.Undo(ctx, id)}
	}
}

// --- Model ---

// Model is the live dashboard: connection state, counters and the recent
// notifications, any of which can be undone while its action is pending.
type Model struct {
	backend   Backend
	notices   <-chan types.Notification
	connected func() bool
	addr      string

	snap    engine.Snapshot
	list    NoticeList
	status  string
	err     error
	width   int
	height  int
	stopped bool
}

// NewModel creates the dashboard. connected reports the extension link;
// notices delivers every published notification.
func NewModel(b Backend, notices <-chan types.Notification, connected func() bool, addr string) Model {
	return Model{
		backend:   b,
		notices:   notices,
		connected: connected,
		addr:      addr,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(loadSnapshot(m.backend), listenNotices(m.notices), tick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.Width = msg.Width - 4
		m.list.Height = msg.Height - 6
		return m, nil

	case tickMsg:
		return m, tea.Batch(loadSnapshot(m.backend), tick())

	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.snap = msg.snap
		}
		return m, nil

	case noticeMsg:
		if !msg.ok {
			m.stopped = true
			return m, nil
		}
		m.list.Add(msg.n, time.Now())
		return m, listenNotices(m.notices)

	case undoResultMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("Undo failed: %v", msg.err)
			return m, nil
		}
		m.list.MarkUndone(msg.id)
		m.status = "Undone"
		return m, loadSnapshot(m.backend)

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			m.list.MoveUp()
		case "down", "j":
			m.list.MoveDown()
		case "u":
			n := m.list.Selected()
			if n == nil || n.UndoAction == nil {
				m.status = "Nothing to undo"
				return m, nil
			}
			if m.list.Undone(n.ID) {
				m.status = "Already undone"
				return m, nil
			}
			m.status = "Undoing..."
			return m, undo(m.backend, n.ID)
		case "r":
			return m, loadSnapshot(m.backend)
		}
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	topBarStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	var conn string
	if m.connected != nil && m.connected() {
		conn = "● connected"
	} else {
		conn = fmt.Sprintf("○ waiting for extension on %s", m.addr)
	}
	s := m.snap
	stats := fmt.Sprintf("%d groups created · %d duplicates closed · %d rules",
		s.Stats.GroupsCreated, s.Stats.TabsDeduplicated, s.Rules)
	topBar := topBarStyle.Render(conn + "  " + stats)

	state := fmt.Sprintf("%d placing · %d pending links · %d undoable", s.InFlight, s.Associations, s.Notifications)
	if !s.LastSweep.IsZero() {
		state += " · swept " + s.LastSweep.Format("15:04:05")
	}
	stateBar := dimStyle.Padding(0, 1).Render(state)

	listBorder := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62"))
	if m.list.Width > 0 {
		listBorder = listBorder.Width(m.list.Width)
	}
	if m.list.Height > 0 {
		listBorder = listBorder.Height(m.list.Height)
	}
	list := listBorder.Render(m.list.View(time.Now()))

	bottom := "↑↓/jk navigate · u undo · r refresh · q quit"
	if m.status != "" {
		bottom = m.status + "  " + bottom
	}
	if m.err != nil {
		bottom = errStyle.Render("Error: "+m.err.Error()) + "  " + bottom
	}
	if m.stopped {
		bottom = "engine stopped  " + bottom
	}
	bottomBar := dimStyle.Padding(0, 1).Render(bottom)

	return lipgloss.JoinVertical(lipgloss.Left, topBar, stateBar, list, bottomBar)
}
