package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-studio/internal/api"
	"github.com/heimdex/heimdex-studio/internal/config"
	"github.com/heimdex/heimdex-studio/internal/logging"
	"github.com/heimdex/heimdex-studio/internal/media"
	"github.com/heimdex/heimdex-studio/internal/timeline"
)

// RootOptions holds flags shared by every command.
type RootOptions struct {
	LogLevel string
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "studio",
		Short:         "Heimdex Studio timeline compositor",
		Long:          "Composite timelines for live preview and export them frame by frame through a render session.",
		Version:       api.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error); defaults to HEIMDEX_LOG_LEVEL")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewPreviewCommand(opts))
	cmd.AddCommand(NewEDLCommand(opts))
	cmd.AddCommand(NewDoctorCommand(opts))

	return cmd
}

// setup loads the environment config and builds a JSON logger on w.
func setup(opts *RootOptions, w io.Writer) (*config.EnvConfig, *slog.Logger, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	level := cfg.LogLevel()
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	return cfg, logging.NewLoggerTo(w, level), nil
}

// opener returns a media opener. Without ffmpeg only synthetic sources open.
func opener(cfg *config.EnvConfig, logger *slog.Logger) (*media.DefaultOpener, *media.Tools) {
	tools, err := media.ResolveTools(cfg.FFmpegPath(), cfg.FFprobePath(), logger)
	if err != nil {
		logger.Warn("ffmpeg unavailable, only synthetic sources can be decoded", "error", err)
		return &media.DefaultOpener{Logger: logger}, nil
	}
	return &media.DefaultOpener{Tools: tools, Logger: logger}, tools
}

func loadProject(path string) (*timeline.Project, error) {
	p, err := timeline.LoadProject(path)
	if err != nil {
		return nil, err
	}
	if timeline.Duration(p.Tracks) <= 0 {
		return nil, fmt.Errorf("%s: project has no clips", path)
	}
	return p, nil
}
