package cmd

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/SF-300/vigilant-disco/internal/cards"
	"github.com/SF-300/vigilant-disco/internal/pipeline"
	"github.com/SF-300/vigilant-disco/internal/source"
	"github.com/SF-300/vigilant-disco/internal/tui"
)

func newReviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "Runs the pipeline in the terminal review UI",
		Long: `Starts the pipeline with the configured image sources and opens the review
UI. Logs are written to logging.output, or notepipe.log in the temp directory.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{interactive: "true"},
		RunE:        withApp(runInteractive),
	}
}

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract IMAGE...",
		Short: "Submits image files and opens the review UI",
		Long: `Queues every IMAGE (.png, .jpg, .jpeg or .webp) for extraction, then opens
the review UI to confirm the results.`,
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{interactive: "true"},
		RunE:        withApp(runInteractive),
	}
}

// runInteractive runs the pipeline under the review UI, submitting any file
// arguments first. Quitting the UI closes the pipeline; a pipeline failure
// closes the UI.
func runInteractive(cmd *cobra.Command, appInstance App, args []string) error {
	p := appInstance.Pipeline()

	uiCtx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	handle := p.Run(uiCtx, appInstance.Sources()...)
	go func() {
		<-handle.Done()
		cancel()
	}()

	if _, err := source.SubmitFiles(uiCtx, submitCLI(p), args...); err != nil {
		return errors.CombineErrors(err, handle.Close())
	}

	uiErr := tui.Run(uiCtx, p, appInstance.Recent())
	return errors.CombineErrors(handle.Close(), uiErr)
}

func submitCLI(p *pipeline.Pipeline) pipeline.SubmitFunc {
	return func(ctx context.Context, data []byte, mimeType string) (cards.Image, error) {
		return p.SubmitData(ctx, data, mimeType, "cli")
	}
}
