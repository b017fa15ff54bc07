package media

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gogpu/gg"

	"github.com/heimdex/heimdex-studio/internal/logging"
)

// Opener creates decode elements for source refs.
type Opener interface {
	Open(ref string) (Element, error)
}

// DefaultOpener dispatches on the ref scheme: synthetic:// refs open a
// PatternSource, everything else (plain paths and file:// URLs) goes
// through ffmpeg.
type DefaultOpener struct {
	Tools  *Tools
	Logger *slog.Logger
}

func (o *DefaultOpener) Open(ref string) (Element, error) {
	if strings.HasPrefix(ref, PatternScheme+"://") {
		src, err := ParsePatternRef(ref)
		if err != nil {
			return nil, err
		}
		return NewElement(src, o.Logger), nil
	}
	if o.Tools == nil {
		return nil, errors.New("ffmpeg is not available")
	}
	return NewElement(NewFFmpegSource(o.Tools, filePath(ref)), o.Logger), nil
}

// LoadImage decodes an image asset.
func LoadImage(ref string) (*gg.ImageBuf, error) {
	if strings.HasPrefix(ref, PatternScheme+"://") {
		src, err := ParsePatternRef(ref)
		if err != nil {
			return nil, err
		}
		if src.Width <= 0 || src.Height <= 0 {
			return nil, fmt.Errorf("pattern has empty size %dx%d", src.Width, src.Height)
		}
		return src.Render(0), nil
	}
	img, err := gg.LoadImage(filePath(ref))
	if err != nil {
		return nil, fmt.Errorf("load image %s: %w", logging.SanitizePath(filePath(ref)), err)
	}
	return img, nil
}

func filePath(ref string) string {
	return strings.TrimPrefix(ref, "file://")
}

// ElementCache is an arena of decode elements keyed by asset id.
type ElementCache struct {
	opener Opener

	mu       sync.Mutex
	elements map[string]Element
}

func NewElementCache(opener Opener) *ElementCache {
	return &ElementCache{opener: opener, elements: make(map[string]Element)}
}

// Get returns the element for assetID, opening ref on first use.
func (c *ElementCache) Get(assetID, ref string) (Element, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.elements[assetID]; ok {
		return el, nil
	}
	el, err := c.opener.Open(ref)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", assetID, err)
	}
	c.elements[assetID] = el
	return el, nil
}

// Peek returns the element for assetID if one is already open.
func (c *ElementCache) Peek(assetID string) (Element, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.elements[assetID]
	return el, ok
}

// Evict closes and forgets the element of assetID.
func (c *ElementCache) Evict(assetID string) {
	c.mu.Lock()
	el, ok := c.elements[assetID]
	delete(c.elements, assetID)
	c.mu.Unlock()
	if ok {
		_ = el.Close()
	}
}

func (c *ElementCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.elements)
}

// Close closes every element.
func (c *ElementCache) Close() error {
	c.mu.Lock()
	elements := c.elements
	c.elements = make(map[string]Element)
	c.mu.Unlock()

	var errs []error
	for _, el := range elements {
		if err := el.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
