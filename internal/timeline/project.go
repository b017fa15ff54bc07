package timeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Project is the on-disk form of a timeline: its assets, tracks and output
// defaults.
type Project struct {
	Name   string   `yaml:"name"`
	FPS    float64  `yaml:"fps,omitempty"`
	Width  int      `yaml:"width,omitempty"`
	Height int      `yaml:"height,omitempty"`
	Assets []*Asset `yaml:"assets"`
	Tracks []*Track `yaml:"tracks"`
}

// AssetMap indexes the project assets by id.
func (p *Project) AssetMap() Assets {
	out := make(Assets, len(p.Assets))
	for _, a := range p.Assets {
		out[a.ID] = a
	}
	return out
}

// LoadProject reads and validates a project file.
func LoadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project: %w", err)
	}
	p, err := ParseProject(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ParseProject decodes YAML with unknown fields rejected, fills clip track
// ids and validates references.
func ParseProject(data []byte) (*Project, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Project
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty project")
		}
		return nil, fmt.Errorf("parse project: %w", err)
	}

	for _, tr := range p.Tracks {
		for _, c := range tr.Clips {
			c.TrackID = tr.ID
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks id uniqueness, asset references and clip durations.
func (p *Project) Validate() error {
	assets := make(map[string]bool, len(p.Assets))
	for _, a := range p.Assets {
		if a.ID == "" {
			return errors.New("asset without id")
		}
		if assets[a.ID] {
			return fmt.Errorf("duplicate asset id %q", a.ID)
		}
		switch a.Kind {
		case AssetVideo, AssetAudio, AssetImage, AssetUnknown:
		case "":
			a.Kind = AssetUnknown
		default:
			return fmt.Errorf("asset %q: unknown kind %q", a.ID, a.Kind)
		}
		assets[a.ID] = true
	}

	tracks := make(map[string]bool, len(p.Tracks))
	clips := make(map[string]bool)
	for _, tr := range p.Tracks {
		if tr.ID == "" {
			return errors.New("track without id")
		}
		if tracks[tr.ID] {
			return fmt.Errorf("duplicate track id %q", tr.ID)
		}
		tracks[tr.ID] = true

		for _, c := range tr.Clips {
			if c.ID == "" {
				return fmt.Errorf("track %q: clip without id", tr.ID)
			}
			if clips[c.ID] {
				return fmt.Errorf("duplicate clip id %q", c.ID)
			}
			clips[c.ID] = true
			if c.Duration <= 0 {
				return fmt.Errorf("clip %q: duration must be positive", c.ID)
			}
			if c.Start < 0 || c.Offset < 0 {
				return fmt.Errorf("clip %q: start and offset must not be negative", c.ID)
			}
			if c.AssetID != "" && !assets[c.AssetID] {
				return fmt.Errorf("clip %q: unknown asset %q", c.ID, c.AssetID)
			}
			if c.Data.variantCount() > 1 {
				return fmt.Errorf("clip %q: more than one content payload", c.ID)
			}
		}
	}
	return nil
}
