package cmds

import (
	"context"
	"os"

	"github.com/go-go-golems/convoflow/pkg/blocks"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type TranscriptPrintSettings struct {
	Plain  bool   `glazed.parameter:"plain"`
	Glazed bool   `glazed.parameter:"glazed"`
	File   string `glazed.parameter:"file"`
}

// TranscriptPrintCommand renders a saved transcript the way the terminal
// shows a live conversation, or as one row per message with --glazed.
type TranscriptPrintCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*TranscriptPrintCommand)(nil)

func NewTranscriptPrintCommand() (*TranscriptPrintCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, errors.Wrap(err, "could not create glazed parameter layer")
	}

	return &TranscriptPrintCommand{
		CommandDescription: cmds.NewCommandDescription(
			"print",
			cmds.WithShort("Print a saved transcript"),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"plain",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Do not render markdown"),
					parameters.WithDefault(false),
				),
				parameters.NewParameterDefinition(
					"glazed",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Emit one structured row per message"),
					parameters.WithDefault(false),
				),
			),
			cmds.WithArguments(
				parameters.NewParameterDefinition(
					"file",
					parameters.ParameterTypeString,
					parameters.WithHelp("Transcript file (.json or .yaml)"),
					parameters.WithRequired(true),
				),
			),
			cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *TranscriptPrintCommand) RunIntoGlazeProcessor(ctx context.Context, parsedLayers *layers.ParsedLayers, gp middlewares.Processor) error {
	s := &TranscriptPrintSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "could not initialize settings")
	}

	bs, err := blocks.LoadTranscript(s.File)
	if err != nil {
		return err
	}

	if !s.Glazed {
		style := "dark"
		if s.Plain {
			style = ""
		}
		NewTerminal(os.Stdout, os.Stdin, style).PrintHistory(bs)
		return nil
	}

	for _, row := range transcriptRows(bs) {
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// transcriptRows flattens messages into key, kind, text, previous and meta
// columns. previous is the text of the action a message answered.
func transcriptRows(bs []blocks.Block) []types.Row {
	ret := make([]types.Row, 0, len(bs))
	for _, b := range bs {
		previous := ""
		meta := blocks.Meta{}
		for k, v := range b.Meta {
			if k == blocks.MetaPrevious {
				if p, ok := v.(blocks.Block); ok {
					previous = p.Text()
				}
				continue
			}
			meta[k] = v
		}
		ret = append(ret, types.NewRow(
			types.MRP("key", b.Key),
			types.MRP("kind", string(b.Kind)),
			types.MRP("text", b.Text()),
			types.MRP("previous", previous),
			types.MRP("meta", map[string]any(meta)),
		))
	}
	return ret
}

func NewTranscriptCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcript",
		Short: "Inspect and convert saved transcripts",
	}

	printCommand, err := NewTranscriptPrintCommand()
	cobra.CheckErr(err)
	printCobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(printCommand)
	cobra.CheckErr(err)

	convertCmd := &cobra.Command{
		Use:   "convert IN OUT",
		Short: "Convert a transcript between json and yaml, based on the file extensions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bs, err := blocks.LoadTranscript(args[0])
			if err != nil {
				return err
			}
			return blocks.SaveTranscript(args[1], bs)
		},
	}

	cmd.AddCommand(printCobraCmd, convertCmd)
	return cmd
}
