package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/heimdex/heimdex-studio/internal/logging"
	"github.com/heimdex/heimdex-studio/internal/media"
	"github.com/heimdex/heimdex-studio/internal/timeline"
)

const (
	defaultReadyTimeout = 10 * time.Second
	defaultRetryBackoff = 500 * time.Millisecond
)

var (
	ErrNotRenderable = errors.New("asset kind has no texture")
	ErrZeroSize      = errors.New("decoded size is zero")
	ErrNotReady      = errors.New("no current frame")
	ErrAbandoned     = errors.New("asset abandoned after repeated load failures")
)

type pendingLoad struct {
	done chan struct{}
	tex  *Texture
	err  error
}

// Allocator owns the texture cache and decode-element cache of one consumer.
// The live preview and every export run each build their own so a decode
// element is never shared between them.
type Allocator struct {
	elements     *media.ElementCache
	logger       *slog.Logger
	readyTimeout time.Duration
	retryBackoff time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	textures map[string]*Texture
	loading  map[string]*pendingLoad
	failedAt map[string]time.Time
	failures map[string]int
	closed   bool

	// maxFailures caps load attempts per asset; zero retries forever.
	maxFailures int
}

// WithRetryBackoff sets how long Acquire waits after a failed load before
// starting another one.
func WithRetryBackoff(d time.Duration) Option {
	return func(a *Allocator) { a.retryBackoff = d }
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithMaxFailures stops loading an asset after n failed attempts. Acquire
// then returns nil for it without starting a load, and Abandoned reports
// true.
func WithMaxFailures(n int) Option {
	return func(a *Allocator) { a.maxFailures = n }
}

// WithReadyTimeout bounds how long a video load waits for its first frame.
func WithReadyTimeout(d time.Duration) Option {
	return func(a *Allocator) { a.readyTimeout = d }
}

func NewAllocator(opener media.Opener, logger *slog.Logger, opts ...Option) *Allocator {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Allocator{
		elements:     media.NewElementCache(opener),
		logger:       logging.WithComponent(logging.OrDiscard(logger), "allocator"),
		readyTimeout: defaultReadyTimeout,
		retryBackoff: defaultRetryBackoff,
		ctx:          ctx,
		cancel:       cancel,
		textures:     make(map[string]*Texture),
		loading:      make(map[string]*pendingLoad),
		failedAt:     make(map[string]time.Time),
		failures:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Acquire returns the cached texture for asset, or nil while it is not yet
// available. A miss starts one asynchronous load; later calls return nil
// until it lands. Never blocks.
func (a *Allocator) Acquire(asset *timeline.Asset) *Texture {
	a.mu.Lock()
	defer a.mu.Unlock()
	tex, _ := a.acquire(asset, false)
	return tex
}

// acquire must be called with mu held. It returns either the texture or
// the load in flight. Unless force is set, a recently failed asset is not
// retried before the backoff elapses.
func (a *Allocator) acquire(asset *timeline.Asset, force bool) (*Texture, *pendingLoad) {
	if a.closed {
		return nil, nil
	}
	if tex, ok := a.textures[asset.ID]; ok {
		if !tex.Destroyed() {
			return tex, nil
		}
		delete(a.textures, asset.ID)
	}
	if pl, ok := a.loading[asset.ID]; ok {
		return nil, pl
	}
	if a.abandoned(asset.ID) {
		return nil, nil
	}
	if at, failed := a.failedAt[asset.ID]; failed && !force && time.Since(at) < a.retryBackoff {
		return nil, nil
	}

	pl := &pendingLoad{done: make(chan struct{})}
	a.loading[asset.ID] = pl
	go a.run(*asset, pl)
	return nil, pl
}

func (a *Allocator) run(asset timeline.Asset, pl *pendingLoad) {
	tex, err := a.load(a.ctx, &asset)

	a.mu.Lock()
	delete(a.loading, asset.ID)
	attempts := 0
	if err != nil {
		a.failedAt[asset.ID] = time.Now()
		a.failures[asset.ID]++
		attempts = a.failures[asset.ID]
	} else if !a.closed {
		delete(a.failedAt, asset.ID)
		delete(a.failures, asset.ID)
		a.textures[asset.ID] = tex
	}
	gaveUp := err != nil && a.abandoned(asset.ID)
	a.mu.Unlock()

	switch {
	case gaveUp:
		a.logger.Error("texture load abandoned",
			"asset_id", asset.ID,
			"kind", asset.Kind,
			"attempts", attempts,
			"error", err,
		)
	case err != nil:
		// The slot is cleared; Acquire retries once the backoff elapses.
		a.logger.Warn("texture load failed",
			"asset_id", asset.ID,
			"kind", asset.Kind,
			"attempts", attempts,
			"error", err,
		)
	}
	pl.tex, pl.err = tex, err
	close(pl.done)
}

// Load is the blocking variant of Acquire.
func (a *Allocator) Load(ctx context.Context, asset *timeline.Asset) (*Texture, error) {
	a.mu.Lock()
	tex, pl := a.acquire(asset, true)
	a.mu.Unlock()
	if tex != nil {
		return tex, nil
	}
	if pl == nil {
		if a.Abandoned(asset.ID) {
			return nil, fmt.Errorf("%w: %s", ErrAbandoned, asset.ID)
		}
		return nil, errors.New("allocator closed")
	}
	select {
	case <-pl.done:
		return pl.tex, pl.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Abandoned reports whether assetID reached the failure cap.
func (a *Allocator) Abandoned(assetID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.abandoned(assetID)
}

func (a *Allocator) abandoned(assetID string) bool {
	return a.maxFailures > 0 && a.failures[assetID] >= a.maxFailures
}

// Pending is the number of loads in flight.
func (a *Allocator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.loading)
}

// Wait blocks until no load is in flight. Failed loads count as finished.
func (a *Allocator) Wait(ctx context.Context) error {
	for {
		a.mu.Lock()
		waits := make([]chan struct{}, 0, len(a.loading))
		for _, pl := range a.loading {
			waits = append(waits, pl.done)
		}
		a.mu.Unlock()

		if len(waits) == 0 {
			return nil
		}
		for _, ch := range waits {
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Element returns the decode element of a video or audio asset, opening it
// on first use.
func (a *Allocator) Element(asset *timeline.Asset) (media.Element, error) {
	if asset.Kind != timeline.AssetVideo && asset.Kind != timeline.AssetAudio {
		return nil, fmt.Errorf("%w: %s", ErrNotRenderable, asset.Kind)
	}
	return a.elements.Get(asset.ID, asset.SourceRef)
}

// Elements exposes the decode-element cache to collaborators that drive
// audio from the same assets.
func (a *Allocator) Elements() *media.ElementCache {
	return a.elements
}

func (a *Allocator) load(ctx context.Context, asset *timeline.Asset) (*Texture, error) {
	switch asset.Kind {
	case timeline.AssetImage:
		img, err := media.LoadImage(asset.SourceRef)
		if err != nil {
			return nil, err
		}
		if w, h := img.Bounds(); w == 0 || h == 0 {
			return nil, ErrZeroSize
		}
		return NewImageTexture(asset.ID, img), nil

	case timeline.AssetVideo:
		el, err := a.elements.Get(asset.ID, asset.SourceRef)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(ctx, a.readyTimeout)
		defer cancel()
		if err := el.WaitReady(ctx); err != nil {
			if ctx.Err() == nil {
				// Broken element: drop it so a retry reopens the source.
				a.elements.Evict(asset.ID)
			}
			return nil, err
		}
		if el.ReadyState() < media.HaveCurrentData {
			return nil, ErrNotReady
		}
		// Dimensions can lag the ready signal on some sources.
		if w, h := el.Size(); w == 0 || h == 0 {
			return nil, ErrZeroSize
		}
		return NewVideoTexture(asset.ID, el), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrNotRenderable, asset.Kind)
	}
}

// Close destroys every texture and closes every decode element.
func (a *Allocator) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	for _, tex := range a.textures {
		tex.Destroy()
	}
	a.textures = make(map[string]*Texture)
	a.mu.Unlock()

	a.cancel()
	_ = a.Wait(context.Background())
	return a.elements.Close()
}
