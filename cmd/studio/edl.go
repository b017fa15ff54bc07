package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-studio/internal/export"
	"github.com/heimdex/heimdex-studio/internal/timeline"
)

func NewEDLCommand(rootOpts *RootOptions) *cobra.Command {
	var fps float64

	cmd := &cobra.Command{
		Use:   "edl <project.yaml>",
		Short: "Print a CMX3600 edit list of the primary video track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := timeline.LoadProject(args[0])
			if err != nil {
				return err
			}
			rate := project.FPS
			if fps > 0 {
				rate = fps
			}
			title := project.Name
			if title == "" {
				title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), export.GenerateEDL(project.Tracks, project.AssetMap(), title, rate))
			return err
		},
	}

	cmd.Flags().Float64Var(&fps, "fps", 0, "timecode rate; defaults to the project rate, then 30")

	return cmd
}
