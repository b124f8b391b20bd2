// Copyright 2025 James Ross
package admintui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type tickMsg struct{}

type snapshotMsg struct {
	snap Snapshot
}

// Model is the read-only dashboard's bubbletea model.
type Model struct {
	ctx          context.Context
	cancel       context.CancelFunc
	snapshotFn   SnapshotFunc
	refreshEvery time.Duration

	spinner spinner.Model
	tbl     table.Model
	last    Snapshot
	loading bool
}

// New constructs the dashboard model, refreshing every refreshEvery via
// snapshotFn.
func New(snapshotFn SnapshotFunc, refreshEvery time.Duration) Model {
	ctx, cancel := context.WithCancel(context.Background())

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	columns := []table.Column{{Title: "Field", Width: 24}, {Title: "Value", Width: 40}}
	t := table.New(table.WithColumns(columns), table.WithFocused(false))
	t.SetStyles(table.Styles{Header: lipgloss.NewStyle().Bold(true)})

	return Model{
		ctx:          ctx,
		cancel:       cancel,
		snapshotFn:   snapshotFn,
		refreshEvery: refreshEvery,
		spinner:      sp,
		tbl:          t,
		loading:      true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), tea.Every(m.refreshEvery, func(time.Time) tea.Msg { return tickMsg{} }), m.spinner.Tick)
}

func (m Model) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg{snap: m.snapshotFn(m.ctx)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.cancel()
			return m, tea.Quit
		case "r":
			m.loading = true
			return m, m.refreshCmd()
		}
	case tickMsg:
		return m, m.refreshCmd()
	case snapshotMsg:
		m.loading = false
		m.last = msg.snap
		m.tbl.SetRows(rowsFor(msg.snap))
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func rowsFor(s Snapshot) []table.Row {
	rows := []table.Row{
		{"instance", s.InstanceID},
		{"queued jobs", fmt.Sprintf("%d", s.QueuedJobs)},
		{"tracked jobs", fmt.Sprintf("%d", s.TrackedJobs)},
	}
	if s.PartitionID != "" {
		rows = append(rows,
			table.Row{"partition", s.PartitionID},
			table.Row{"shard range", fmt.Sprintf("[%d, %d]", s.ShardStart, s.ShardEnd)},
			table.Row{"lease expiry", s.LeaseExpiresAt.Format(time.RFC3339)},
		)
	}
	rows = append(rows, table.Row{"refreshed", s.TakenAt.Format(time.RFC3339)})
	return rows
}

func (m Model) View() string {
	header := "compute runtime — instance dashboard (q to quit, r to refresh)\n\n"
	if m.loading && m.last.InstanceID == "" {
		return header + m.spinner.View() + " loading...\n"
	}
	return header + m.tbl.View() + "\n"
}
