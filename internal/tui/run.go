package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/cockroachdb/errors"

	"github.com/SF-300/vigilant-disco/internal/progress"
	"github.com/SF-300/vigilant-disco/internal/progress/sinks"
)

// Run shows the review UI until the user quits or ctx ends. Events consumed
// by recent after the program starts are appended to the activity log.
func Run(ctx context.Context, p Pipeline, recent *sinks.RecentSink) error {
	model := New(p)
	if recent != nil {
		model.events = recent.Last(maxLogEvents)
		model.refreshLog()
	}
	prog := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if recent != nil {
		recent.OnBatch(func(batch []progress.Event) {
			prog.Send(EventsMsg(batch))
		})
	}
	if _, err := prog.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return errors.Wrap(err, "review ui")
	}
	return nil
}
