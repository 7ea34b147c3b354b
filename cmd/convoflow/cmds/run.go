package cmds

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/convoflow/pkg/blocks"
	"github.com/go-go-golems/convoflow/pkg/events"
	"github.com/go-go-golems/convoflow/pkg/flow"
	"github.com/go-go-golems/convoflow/pkg/script"
	"github.com/go-go-golems/convoflow/pkg/settings"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const eventsTopic = "conversation"

func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run SCRIPT",
		Short: "Run a conversation script interactively",
		Args:  cobra.ExactArgs(1),
		RunE:  runScript,
	}
	cmd.Flags().Bool("print-events", false, "Dump every conversation event as JSON to stderr")
	cmd.Flags().Bool("verbose-events", false, "Keep event metadata when dumping events")
	cmd.Flags().String("save", "", "Save the transcript to this file (.json or .yaml) when done")
	cmd.Flags().String("restore", "", "Restore a transcript before running the script")
	cmd.Flags().Bool("plain", false, "Do not render markdown")
	return cmd
}

func runScript(cmd *cobra.Command, args []string) error {
	printEvents, _ := cmd.Flags().GetBool("print-events")
	verboseEvents, _ := cmd.Flags().GetBool("verbose-events")
	savePath, _ := cmd.Flags().GetString("save")
	restorePath, _ := cmd.Flags().GetString("restore")
	plain, _ := cmd.Flags().GetBool("plain")

	s, err := settings.NewFromViper(viper.GetViper())
	if err != nil {
		return err
	}
	sc, err := script.Load(args[0])
	if err != nil {
		return err
	}

	e := flow.New(s.EngineOptions()...)

	style := ""
	if !plain && isatty.IsTerminal(os.Stdout.Fd()) {
		style = "dark"
	}
	term := NewTerminal(os.Stdout, os.Stdin, style)

	if restorePath != "" {
		bs, err := blocks.LoadTranscript(restorePath)
		if err != nil {
			return err
		}
		e.SetMessages(bs)
		term.PrintHistory(e.Messages())
	}
	term.Attach(e)

	runnerOptions := []script.RunnerOption{script.WithResponder(term)}
	if s.OpenAI.APIKey != "" {
		runnerOptions = append(runnerOptions, script.WithOpenAI(s.OpenAI.Client(), s.OpenAI.Model))
	}
	runner := script.NewRunner(e, runnerOptions...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if printEvents {
		err = runWithEventDump(ctx, e, verboseEvents, func(ctx context.Context) error {
			return runner.Run(ctx, sc)
		})
	} else {
		err = runner.Run(ctx, sc)
	}

	if savePath != "" {
		if saveErr := blocks.SaveTranscript(savePath, e.Messages()); saveErr != nil {
			log.Error().Err(saveErr).Str("path", savePath).Msg("could not save transcript")
			if err == nil {
				err = saveErr
			}
		}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runWithEventDump forwards the engine's events through a watermill router
// that prints them, for as long as f runs.
func runWithEventDump(ctx context.Context, e *flow.Engine, verbose bool, f func(ctx context.Context) error) error {
	router, err := events.NewEventRouter(events.WithVerbose(verbose), events.WithOutput(os.Stderr))
	if err != nil {
		return err
	}
	defer func() {
		_ = router.Close()
	}()
	router.AddHandler("dump", eventsTopic, router.DumpRawEvents)

	routerCtx, cancelRouter := context.WithCancel(ctx)
	defer cancelRouter()

	eg := errgroup.Group{}
	eg.Go(func() error {
		return router.Run(routerCtx)
	})
	eg.Go(func() error {
		defer cancelRouter()
		<-router.Running()
		e.AddSink(router.Sink(eventsTopic))
		return f(ctx)
	})
	return eg.Wait()
}
