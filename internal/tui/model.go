// Package tui is the terminal review UI: one tab per gated stage with
// selectable results, confirm keys, and a live activity log.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/SF-300/vigilant-disco/internal/cards"
	"github.com/SF-300/vigilant-disco/internal/pipeline"
	"github.com/SF-300/vigilant-disco/internal/progress"
	"github.com/SF-300/vigilant-disco/internal/stage"
)

const (
	maxLogEvents  = 500
	defaultWidth  = 100
	defaultHeight = 30
)

// Pipeline is the part of the pipeline the UI drives.
type Pipeline interface {
	Confirm(stageName string) (bool, error)
	Extractions() *stage.Accumulator[cards.Extraction]
	Notes() *stage.Accumulator[cards.ExtractionNotes]
}

// EventsMsg carries a batch of progress events into the UI.
type EventsMsg []progress.Event

// changedMsg reports that an accumulator changed.
type changedMsg struct{}

// row is one rendered accumulator entry.
type row struct {
	seq     uint64
	marked  bool
	summary string
}

// tab is a reviewable stage.
type tab struct {
	stage  string
	title  string
	rows   func() []row
	mark   func(seq uint64, marked bool) bool
	all    func(marked bool) int
	change func() <-chan struct{}
}

// Model is the bubbletea model of the review UI.
type Model struct {
	pipeline Pipeline
	tabs     []tab
	active   int
	cursor   []int
	events   []progress.Event
	log      viewport.Model
	status   string
	width    int
	height   int
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	activeTab     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Underline(true)
	inactiveTab   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	logFrameStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	roleStyles    = map[progress.Role]lipgloss.Style{
		progress.RoleSystem:             lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		progress.RoleUser:               lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		progress.RoleOCRRequest:         lipgloss.NewStyle().Foreground(lipgloss.Color("141")),
		progress.RoleOCRResponse:        lipgloss.NewStyle().Foreground(lipgloss.Color("135")),
		progress.RoleGenerationRequest:  lipgloss.NewStyle().Foreground(lipgloss.Color("80")),
		progress.RoleGenerationResponse: lipgloss.NewStyle().Foreground(lipgloss.Color("43")),
		progress.RoleExportComplete:     lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true),
		progress.RoleWarning:            lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		progress.RoleError:              lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
)

// New builds the model for p.
func New(p Pipeline) Model {
	extractions, notes := p.Extractions(), p.Notes()
	tabs := []tab{
		{
			stage: pipeline.StageExtraction,
			title: "Extractions",
			rows: func() []row {
				return rowsOf(extractions.Entries(), func(e cards.Extraction) string {
					if e.Context != "" {
						return fmt.Sprintf("%s  (%s)", e.Snippet, e.Context)
					}
					return e.Snippet
				})
			},
			mark:   extractions.Mark,
			all:    extractions.MarkAll,
			change: extractions.Changed,
		},
		{
			stage: pipeline.StageTransformation,
			title: "Protonotes",
			rows: func() []row {
				return rowsOf(notes.Entries(), func(g cards.ExtractionNotes) string {
					parts := make([]string, 0, len(g.Notes))
					for _, n := range g.Notes {
						parts = append(parts, cards.Describe(n))
					}
					return fmt.Sprintf("%s → %s", g.Extraction.Snippet, strings.Join(parts, "; "))
				})
			},
			mark:   notes.Mark,
			all:    notes.MarkAll,
			change: notes.Changed,
		},
	}
	vp := viewport.New(defaultWidth-4, defaultHeight/3)
	return Model{
		pipeline: p,
		tabs:     tabs,
		cursor:   make([]int, len(tabs)),
		log:      vp,
		width:    defaultWidth,
		height:   defaultHeight,
	}
}

func rowsOf[T any](entries []stage.Entry[T], summary func(T) string) []row {
	out := make([]row, 0, len(entries))
	for _, e := range entries {
		out = append(out, row{seq: e.Seq, marked: e.Marked, summary: summary(e.Value)})
	}
	return out
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.watch()
}

// watch waits for the next change of any accumulator.
func (m Model) watch() tea.Cmd {
	chans := make([]<-chan struct{}, 0, len(m.tabs))
	for _, t := range m.tabs {
		chans = append(chans, t.change())
	}
	return func() tea.Msg {
		// chans holds exactly the two reviewable stages.
		select {
		case <-chans[0]:
		case <-chans[1]:
		}
		return changedMsg{}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.log.Width = max(msg.Width-4, 20)
		m.log.Height = max(msg.Height/3, 5)
		m.refreshLog()
		return m, nil
	case EventsMsg:
		m.events = append(m.events, msg...)
		if over := len(m.events) - maxLogEvents; over > 0 {
			m.events = append([]progress.Event(nil), m.events[over:]...)
		}
		m.refreshLog()
		return m, nil
	case changedMsg:
		m.clampCursors()
		return m, m.watch()
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	var cmd tea.Cmd
	m.log, cmd = m.log.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	t := m.tabs[m.active]
	rows := t.rows()
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "tab", "right", "l":
		m.active = (m.active + 1) % len(m.tabs)
	case "shift+tab", "left", "h":
		m.active = (m.active + len(m.tabs) - 1) % len(m.tabs)
	case "up", "k":
		if m.cursor[m.active] > 0 {
			m.cursor[m.active]--
		}
	case "down", "j":
		if m.cursor[m.active] < len(rows)-1 {
			m.cursor[m.active]++
		}
	case " ":
		if c := m.cursor[m.active]; c < len(rows) {
			t.mark(rows[c].seq, !rows[c].marked)
		}
	case "a":
		t.all(true)
	case "n":
		t.all(false)
	case "enter":
		delivered, err := m.pipeline.Confirm(t.stage)
		switch {
		case err != nil:
			m.status = err.Error()
		case delivered:
			m.status = fmt.Sprintf("Confirmed %s", strings.ToLower(t.title))
		default:
			m.status = "Release in progress; confirm again shortly"
		}
	default:
		var cmd tea.Cmd
		m.log, cmd = m.log.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) clampCursors() {
	for i, t := range m.tabs {
		n := len(t.rows())
		if m.cursor[i] >= n {
			m.cursor[i] = max(n-1, 0)
		}
	}
}

func (m *Model) refreshLog() {
	lines := make([]string, 0, len(m.events))
	for _, e := range m.events {
		style, ok := roleStyles[e.Role]
		if !ok {
			style = lipgloss.NewStyle()
		}
		lines = append(lines, fmt.Sprintf("%s %-13s %s",
			e.TS.Format("15:04:05"),
			style.Render(string(e.Role)),
			e.Text))
	}
	content := strings.Join(lines, "\n")
	if content == "" {
		content = "Waiting for activity..."
	}
	m.log.SetContent(content)
	m.log.GotoBottom()
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("notepipe review"))
	b.WriteString("\n\n")

	titles := make([]string, 0, len(m.tabs))
	for i, t := range m.tabs {
		label := fmt.Sprintf("%s (%d)", t.title, len(t.rows()))
		if i == m.active {
			titles = append(titles, activeTab.Render(label))
		} else {
			titles = append(titles, inactiveTab.Render(label))
		}
	}
	b.WriteString(strings.Join(titles, "   "))
	b.WriteString("\n\n")

	rows := m.tabs[m.active].rows()
	if len(rows) == 0 {
		b.WriteString(helpStyle.Render("  nothing pending"))
		b.WriteString("\n")
	}
	for i, r := range rows {
		check := "[ ]"
		if r.marked {
			check = "[x]"
		}
		line := fmt.Sprintf("%s #%d %s", check, r.seq, r.summary)
		if i == m.cursor[m.active] {
			line = cursorStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(statusStyle.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(logFrameStyle.Render(m.log.View()))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("tab: switch  ↑/↓: move  space: toggle  a: all  n: none  enter: confirm  q: quit"))
	return b.String()
}
