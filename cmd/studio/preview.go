package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-studio/internal/events"
	"github.com/heimdex/heimdex-studio/internal/live"
	"github.com/heimdex/heimdex-studio/internal/provider"
	"github.com/heimdex/heimdex-studio/internal/timeline"
	"github.com/heimdex/heimdex-studio/internal/watcher"
)

type previewOptions struct {
	duration time.Duration
	snapshot string
	paused   bool
	seek     float64
}

func NewPreviewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &previewOptions{}

	cmd := &cobra.Command{
		Use:   "preview <project.yaml>",
		Short: "Run the live compositor headless",
		Long: `Play a project through the live compositor without a window. The
project file is watched and edits are applied while playing. Ambient color
changes are logged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(cmd.Context(), rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.duration, "for", 0, "stop after this long; runs until interrupted when zero")
	cmd.Flags().StringVar(&opts.snapshot, "snapshot", "", "write the last frame to this PNG file")
	cmd.Flags().BoolVar(&opts.paused, "paused", false, "do not start the transport")
	cmd.Flags().Float64Var(&opts.seek, "seek", 0, "start position in seconds")

	return cmd
}

func runPreview(ctx context.Context, rootOpts *RootOptions, opts *previewOptions, projectPath string, cmd *cobra.Command) error {
	cfg, logger, err := setup(rootOpts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	project, err := loadProject(projectPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if opts.duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, opts.duration)
		defer stop()
	}

	width, height := cfg.ExportWidth(), cfg.ExportHeight()
	if project.Width > 0 && project.Height > 0 {
		width, height = project.Width, project.Height
	}

	assets := newProjectAssets(project.AssetMap())
	store := timeline.NewStore(project.Tracks...)
	bus := events.NewBus()
	defer bus.Close()

	mediaOpener, _ := opener(cfg, logger)
	loop := live.NewLoop(store, assets, provider.NewDefaultRegistry(logger), mediaOpener, bus, live.Options{
		Width:       width,
		Height:      height,
		RefreshRate: cfg.LiveRefreshRate(),
		Logger:      logger,
	})
	defer loop.Close()

	w := watcher.NewFileWatcher(watcher.DefaultDebounce, logger)
	w.OnChange(func(path string, ev watcher.EventType) {
		if ev == watcher.EventDelete {
			logger.Warn("project file removed, keeping the loaded timeline")
			return
		}
		reloadProject(path, store, assets, logger)
	})
	if err := w.Watch(ctx, projectPath); err != nil {
		logger.Warn("project file watch unavailable", "error", err)
	}
	defer w.Stop()

	ambient := bus.Ambient.Subscribe(16)
	go func() {
		for color := range ambient.C() {
			logger.Info("ambient color", "color", color)
		}
	}()

	loop.Transport().Seek(opts.seek)
	if !opts.paused {
		loop.Transport().Play()
	}
	loop.Start(ctx)

	if opts.snapshot != "" {
		if err := loop.SavePNG(opts.snapshot); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d frames, position %.3fs, ambient %s\n",
		loop.Frames(), loop.Transport().Now(), loop.Ambient())
	return nil
}

func reloadProject(path string, store *timeline.Store, assets *projectAssets, logger *slog.Logger) {
	p, err := timeline.LoadProject(path)
	if err != nil {
		logger.Warn("project reload rejected", "error", err)
		return
	}
	assets.replace(p.AssetMap())
	store.Replace(p.Tracks)
	logger.Info("project reloaded", "tracks", len(p.Tracks), "duration", timeline.Duration(p.Tracks))
}

// projectAssets is an AssetLookup whose contents are swapped on reload.
type projectAssets struct {
	mu     sync.RWMutex
	assets timeline.Assets
}

func newProjectAssets(assets timeline.Assets) *projectAssets {
	return &projectAssets{assets: assets}
}

func (p *projectAssets) Asset(id string) (*timeline.Asset, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.assets.Asset(id)
}

func (p *projectAssets) replace(assets timeline.Assets) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.assets = assets
}
