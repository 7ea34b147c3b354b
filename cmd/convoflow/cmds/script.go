package cmds

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-go-golems/clay/pkg/filefilter"
	"github.com/go-go-golems/clay/pkg/filewalker"
	"github.com/go-go-golems/convoflow/pkg/script"
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

var scriptExtensions = map[string]bool{
	".yaml": true,
	".yml":  true,
	".json": true,
}

type ScriptCheckSettings struct {
	Paths []string `glazed.parameter:"paths"`
}

// ScriptCheckCommand parses and validates scripts without running them.
// Directories are walked through the file filter layer.
type ScriptCheckCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*ScriptCheckCommand)(nil)

func NewScriptCheckCommand() (*ScriptCheckCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, errors.Wrap(err, "could not create glazed parameter layer")
	}
	fileFilterLayer, err := filefilter.NewFileFilterParameterLayer()
	if err != nil {
		return nil, errors.Wrap(err, "could not create file filter parameter layer")
	}

	return &ScriptCheckCommand{
		CommandDescription: cmds.NewCommandDescription(
			"check",
			cmds.WithShort("Parse and validate scripts without running them"),
			cmds.WithArguments(
				parameters.NewParameterDefinition(
					"paths",
					parameters.ParameterTypeStringList,
					parameters.WithHelp("Script files or directories containing scripts"),
					parameters.WithDefault([]string{"."}),
				),
			),
			cmds.WithLayersList(
				glazedParameterLayer,
				fileFilterLayer,
			),
		),
	}, nil
}

func (c *ScriptCheckCommand) RunIntoGlazeProcessor(ctx context.Context, parsedLayers *layers.ParsedLayers, gp middlewares.Processor) error {
	s := &ScriptCheckSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "could not initialize settings")
	}
	if len(s.Paths) == 0 {
		s.Paths = []string{"."}
	}

	layer, ok := parsedLayers.Get(filefilter.FileFilterSlug)
	if !ok {
		return errors.New("file filter layer not found")
	}
	ff, err := filefilter.CreateFileFilterFromSettings(layer)
	if err != nil {
		return errors.Wrap(err, "could not create file filter")
	}

	paths, err := findScripts(s.Paths, ff)
	if err != nil {
		return err
	}
	for _, path := range paths {
		if err := gp.AddRow(ctx, checkScript(path)); err != nil {
			return err
		}
	}
	return nil
}

// findScripts expands directories into the yaml and json files below them.
// A nil filter walks everything.
func findScripts(paths []string, ff *filefilter.FileFilter) ([]string, error) {
	var walker *filewalker.Walker
	var err error
	if ff != nil {
		walker, err = filewalker.NewWalker(
			filewalker.WithPaths(paths),
			filewalker.WithFilter(ff.FilterNode),
		)
	} else {
		walker, err = filewalker.NewWalker(filewalker.WithPaths(paths))
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not create file walker")
	}

	var ret []string
	preVisit := func(w *filewalker.Walker, node *filewalker.Node) error {
		if node.Type == filewalker.FileNode && scriptExtensions[strings.ToLower(filepath.Ext(node.Path))] {
			ret = append(ret, node.Path)
		}
		return nil
	}
	if err := walker.Walk(paths, preVisit, nil); err != nil {
		return nil, errors.Wrap(err, "could not walk script paths")
	}
	return ret, nil
}

// checkScript loads one script into a path, name, steps, valid, error row.
// An invalid script is reported in its row instead of aborting the check.
func checkScript(path string) types.Row {
	s, err := script.Load(path)
	if err != nil {
		return types.NewRow(
			types.MRP("path", path),
			types.MRP("name", ""),
			types.MRP("steps", 0),
			types.MRP("valid", false),
			types.MRP("error", err.Error()),
		)
	}
	return types.NewRow(
		types.MRP("path", path),
		types.MRP("name", s.Name),
		types.MRP("steps", len(s.Steps)),
		types.MRP("valid", true),
		types.MRP("error", ""),
	)
}

func NewScriptCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "script",
		Short: "Work with conversation scripts",
	}

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the script format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := script.JSONSchemaString()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), s)
			return err
		},
	}

	checkCommand, err := NewScriptCheckCommand()
	cobra.CheckErr(err)
	checkCobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(checkCommand)
	cobra.CheckErr(err)

	cmd.AddCommand(schemaCmd, checkCobraCmd)
	return cmd
}
