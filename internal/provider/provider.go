// Package provider defines content providers: the polymorphic units that
// turn a clip of a given kind into a renderable object and animate it.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/heimdex/heimdex-studio/internal/scene"
	"github.com/heimdex/heimdex-studio/internal/timeline"
)

type Kind string

const (
	KindObject     Kind = "object"
	KindEffect     Kind = "effect"
	KindTransition Kind = "transition"
)

// Provider is registered under the clip kind it handles.
type Provider interface {
	Type() string
	Kind() Kind
	// CreateData returns the default payload for a new clip.
	CreateData() timeline.ClipData
}

// ContentProvider produces an object for each visible clip. Render returns
// a nil object and nil error while a dependency is still loading; Ready
// resolves once that dependency is available.
type ContentProvider interface {
	Provider
	Ready() *Readiness
	Render(clip *timeline.Clip) (*scene.Object, error)
	Update(obj *scene.Object, clip *timeline.Clip, localTime, dt float64)
}

// PreviewConfig describes how an editor shows the clip on its track.
type PreviewConfig struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

type PreviewConfigurer interface {
	PreviewConfig(clip *timeline.Clip) PreviewConfig
}

// TransitionProvider owns no object. Apply scales the blend alpha of the
// target objects for the given eased progress in [0, 1].
type TransitionProvider interface {
	Provider
	Apply(clip *timeline.Clip, targets []*scene.Object, progress, t float64)
}

// Readiness is a one-shot future. It is resolved once, with a nil error on
// success; later Resolve calls are ignored.
type Readiness struct {
	once sync.Once
	done chan struct{}
	err  error
}

func NewReadiness() *Readiness {
	return &Readiness{done: make(chan struct{})}
}

// Resolved returns an already successful readiness.
func Resolved() *Readiness {
	r := NewReadiness()
	r.Resolve(nil)
	return r
}

func (r *Readiness) Resolve(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

func (r *Readiness) Done() <-chan struct{} {
	return r.done
}

// Err is the resolution error; nil while unresolved.
func (r *Readiness) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// IsReady reports a successful resolution.
func (r *Readiness) IsReady() bool {
	select {
	case <-r.done:
		return r.err == nil
	default:
		return false
	}
}

func (r *Readiness) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryPolicy bounds how often a capture-mode render is retried while a
// provider returns no object.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

var DefaultRetryPolicy = RetryPolicy{Attempts: 10, Delay: 100 * time.Millisecond}

// RenderWithRetry renders clip, waiting between attempts for the provider
// to become ready. It returns nil without error when attempts run out.
func RenderWithRetry(ctx context.Context, p ContentProvider, clip *timeline.Clip, policy RetryPolicy) (*scene.Object, error) {
	attempts := max(policy.Attempts, 1)
	for i := 0; i < attempts; i++ {
		obj, err := p.Render(clip)
		if err != nil || obj != nil {
			return obj, err
		}
		if i == attempts-1 {
			break
		}

		timer := time.NewTimer(policy.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-p.Ready().Done():
			timer.Stop()
		case <-timer.C:
		}
	}
	return nil, nil
}

// Registry maps clip kinds to providers. It is built once and passed to
// every compositor; nothing is registered globally.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// NewDefaultRegistry registers the built-in providers.
func NewDefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry()
	for _, p := range []Provider{
		NewTextProvider(logger),
		NewShapeProvider(),
		NewColorOverlayProvider(),
		NewFadeIn(),
		NewFadeOut(),
		NewDipToBlack(),
	} {
		// Built-in types are distinct.
		_ = r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Type()]; exists {
		return fmt.Errorf("provider %q already registered", p.Type())
	}
	r.providers[p.Type()] = p
	return nil
}

func (r *Registry) Lookup(clipKind string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[clipKind]
	return p, ok
}

// Types lists registered clip kinds, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for t := range r.providers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
