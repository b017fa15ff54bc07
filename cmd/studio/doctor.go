package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-studio/internal/media"
)

func NewDoctorCommand(rootOpts *RootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Report ffmpeg and ffprobe capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			tools, err := media.ResolveTools(cfg.FFmpegPath(), cfg.FFprobePath(), logger)
			if err != nil {
				return err
			}
			caps, err := media.NewCachedDoctor(tools, logger).Get(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(caps)
			}
			printDep(cmd, "ffmpeg", caps.FFmpeg)
			printDep(cmd, "ffprobe", caps.FFprobe)
			fmt.Fprintf(out, "png encoder: %v\n", caps.PNGEncoder)
			fmt.Fprintf(out, "can decode:  %v\n", caps.CanDecode)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print capabilities as JSON")

	return cmd
}

func printDep(cmd *cobra.Command, name string, dep media.DepInfo) {
	if !dep.Available {
		fmt.Fprintf(cmd.OutOrStdout(), "%-8s missing (%s)\n", name+":", dep.Error)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s %s\n", name+":", dep.Version, dep.Path)
}
