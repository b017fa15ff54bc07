package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-studio/internal/cloud"
	"github.com/heimdex/heimdex-studio/internal/config"
	"github.com/heimdex/heimdex-studio/internal/db"
	"github.com/heimdex/heimdex-studio/internal/export"
	"github.com/heimdex/heimdex-studio/internal/logging"
	"github.com/heimdex/heimdex-studio/internal/mux"
	"github.com/heimdex/heimdex-studio/internal/provider"
	"github.com/heimdex/heimdex-studio/internal/session"
	"github.com/heimdex/heimdex-studio/internal/timeline"
)

type exportOptions struct {
	server     string
	token      string
	local      bool
	out        string
	fps        float64
	width      int
	height     int
	quality    int
	noProgress bool
}

func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &exportOptions{}

	cmd := &cobra.Command{
		Use:   "export <project.yaml>",
		Short: "Export a project to an AVI file",
		Long: `Render every frame of a project at a fixed rate, stream the encoded
frames into a render session and download the muxed file.

With --local the session runs in-process against a temporary database;
otherwise frames are uploaded to --server.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", "", "render server URL; defaults to HEIMDEX_RENDER_URL")
	cmd.Flags().StringVar(&opts.token, "token", "", "render server token; defaults to HEIMDEX_RENDER_TOKEN")
	cmd.Flags().BoolVar(&opts.local, "local", false, "run the render session in-process")
	cmd.Flags().StringVarP(&opts.out, "out", "o", ".", "output directory")
	cmd.Flags().Float64Var(&opts.fps, "fps", 0, "frame rate; defaults to the project, then HEIMDEX_EXPORT_FPS")
	cmd.Flags().IntVar(&opts.width, "width", 0, "frame width; defaults to the project, then HEIMDEX_EXPORT_WIDTH")
	cmd.Flags().IntVar(&opts.height, "height", 0, "frame height; defaults to the project, then HEIMDEX_EXPORT_HEIGHT")
	cmd.Flags().IntVar(&opts.quality, "quality", 0, "JPEG quality 1-100; defaults to HEIMDEX_JPEG_QUALITY")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "disable the progress bar")

	return cmd
}

func runExport(ctx context.Context, rootOpts *RootOptions, opts *exportOptions, projectPath string, cmd *cobra.Command) error {
	cfg, logger, err := setup(rootOpts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	project, err := loadProject(projectPath)
	if err != nil {
		return err
	}

	outDir := filepath.Clean(opts.out)
	outPath, err := export.OutputFile(outDir, project.Name, ".avi")
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, closeClient, err := sessionClient(ctx, cfg, opts, logger)
	if err != nil {
		return err
	}
	defer closeClient()

	exportOpts := exportSettings(cfg, opts, project.FPS, project.Width, project.Height)

	tmp, err := os.CreateTemp(outDir, ".export-*.avi")
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer os.Remove(tmp.Name())
	exportOpts.Output = tmp

	mediaOpener, _ := opener(cfg, logger)
	pipeline := export.NewPipeline(provider.NewDefaultRegistry(logger), mediaOpener, project.AssetMap(), client, logger)

	go func() {
		<-ctx.Done()
		pipeline.Cancel()
	}()

	total := export.FrameCount(timeline.Duration(project.Tracks), exportOpts.FPS)
	var bar *progressbar.ProgressBar
	if !opts.noProgress {
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionSetDescription("Rendering"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("frames"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetRenderBlankState(true),
		)
		stage := export.StageRender
		exportOpts.Progress = func(p export.Progress) {
			if p.Stage != stage {
				stage = p.Stage
				bar.Describe(stageLabel(stage))
			}
			switch p.Stage {
			case export.StageRender:
				_ = bar.Set(p.Frame + 1)
			case export.StageDone:
				_ = bar.Finish()
			}
		}
	}

	res, err := pipeline.Run(ctx, project.Tracks, exportOpts)
	tmp.Close()
	if err != nil {
		if errors.Is(err, export.ErrCancelled) || errors.Is(err, context.Canceled) {
			logger.Warn("export cancelled", "frames", res.Frames, "session_id", res.SessionID)
		}
		return err
	}
	if err := os.Rename(tmp.Name(), outPath); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\n%s (%d frames, %d bytes, %s)\n", outPath, res.Frames, res.Downloaded, res.Elapsed.Round(time.Millisecond))
	return nil
}

func stageLabel(stage string) string {
	switch stage {
	case export.StageUpload:
		return "Uploading"
	case export.StageMux:
		return "Muxing"
	case export.StageDone:
		return "Done"
	default:
		return "Rendering"
	}
}

// exportSettings resolves flags over project settings over environment
// defaults.
func exportSettings(cfg *config.EnvConfig, opts *exportOptions, projectFPS float64, projectW, projectH int) export.Options {
	out := export.Options{
		Width:            cfg.ExportWidth(),
		Height:           cfg.ExportHeight(),
		FPS:              cfg.ExportFPS(),
		Quality:          cfg.JPEGQuality(),
		KeyFrameInterval: cfg.KeyFrameInterval(),
		UploadThreshold:  cfg.UploadThreshold(),
		PollInterval:     cfg.PollInterval(),
	}
	if projectFPS > 0 {
		out.FPS = projectFPS
	}
	if projectW > 0 && projectH > 0 {
		out.Width, out.Height = projectW, projectH
	}
	if opts.fps > 0 {
		out.FPS = opts.fps
	}
	if opts.width > 0 {
		out.Width = opts.width
	}
	if opts.height > 0 {
		out.Height = opts.height
	}
	if opts.quality > 0 {
		out.Quality = opts.quality
	}
	return out
}

// sessionClient connects to the render server, or starts an in-process
// session service on a temporary database with --local.
func sessionClient(ctx context.Context, cfg *config.EnvConfig, opts *exportOptions, logger *slog.Logger) (cloud.SessionClient, func(), error) {
	if !opts.local {
		server := opts.server
		if server == "" {
			server = cfg.RenderURL()
		}
		token := opts.token
		if token == "" {
			token = cfg.RenderToken()
		}
		if server == "" {
			return nil, nil, errors.New("no render server: pass --server or --local")
		}
		logger.Info("using render server", "url", server, "token", logging.SanitizeToken(token))
		return cloud.NewHTTPClient(server, token, logger), func() {}, nil
	}

	dir, err := os.MkdirTemp("", "heimdex-studio-*")
	if err != nil {
		return nil, nil, err
	}
	database, err := db.New(filepath.Join(dir, "sessions.db"), logger,
		db.WithBusyTimeout(cfg.DBBusyTimeout()), db.WithEphemeral())
	if err != nil {
		os.RemoveAll(dir)
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	repo := session.NewRepository(database.Conn())
	svc := session.NewService(repo, filepath.Join(dir, "sessions"), cfg.MaxAppendBytes(), logger)
	runner := session.NewRunner(svc, repo, mux.New(logger), cfg.PollInterval(), logger)

	runCtx, cancel := context.WithCancel(ctx)
	go runner.Start(runCtx)

	return cloud.NewLocalClient(svc, runner), func() {
		cancel()
		database.Close()
		os.RemoveAll(dir)
	}, nil
}
