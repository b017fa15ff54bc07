package timeline

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MinSplitGap is the smallest fragment, in seconds, a split may produce.
const MinSplitGap = 0.05

var (
	ErrClipNotFound  = errors.New("clip not found")
	ErrTrackNotFound = errors.New("track not found")
	ErrTrackLocked   = errors.New("track is locked")
	ErrInvalidSplit  = errors.New("split point too close to clip edge")
	ErrInvalidClip   = errors.New("invalid clip")
)

// VisibleClip returns the clip of track visible at t: the first clip in
// track order whose interval contains t. Overlapping clips are not rejected
// anywhere, so order is the tie-break.
func VisibleClip(track *Track, t float64) *Clip {
	for _, c := range track.Clips {
		if c.Contains(t) {
			return c
		}
	}
	return nil
}

// Visible pairs a visible clip with the track it was found on.
type Visible struct {
	Track      *Track
	TrackIndex int
	Clip       *Clip
}

// VisibleClips returns at most one visible clip per track, in track order.
func VisibleClips(tracks []*Track, t float64) []Visible {
	out := make([]Visible, 0, len(tracks))
	for i, tr := range tracks {
		if c := VisibleClip(tr, t); c != nil {
			out = append(out, Visible{Track: tr, TrackIndex: i, Clip: c})
		}
	}
	return out
}

// Duration is the end of the last clip across tracks.
func Duration(tracks []*Track) float64 {
	end := 0.0
	for _, tr := range tracks {
		for _, c := range tr.Clips {
			end = math.Max(end, c.End())
		}
	}
	return end
}

// Store holds the ordered tracks of a timeline. All reads return copies so
// callers (the live loop, the export pipeline) can work on a stable snapshot
// while edits continue.
type Store struct {
	mu     sync.RWMutex
	tracks []*Track
	newID  func() string
}

func NewStore(tracks ...*Track) *Store {
	s := &Store{newID: NewID}
	s.Replace(tracks)
	return s
}

// Replace swaps the whole timeline, e.g. after the project file changed.
func (s *Store) Replace(tracks []*Track) {
	cp := cloneTracks(tracks)
	for _, tr := range cp {
		for _, c := range tr.Clips {
			c.TrackID = tr.ID
		}
	}
	s.mu.Lock()
	s.tracks = cp
	s.mu.Unlock()
}

// Tracks returns a deep snapshot of every track.
func (s *Store) Tracks() []*Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneTracks(s.tracks)
}

func (s *Store) Track(id string) (*Track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tr := s.track(id)
	if tr == nil {
		return nil, false
	}
	return tr.Clone(), true
}

func (s *Store) Clip(id string) (*Clip, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, c := s.clip(id)
	if c == nil {
		return nil, false
	}
	return c.Clone(), true
}

func (s *Store) Duration() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Duration(s.tracks)
}

func (s *Store) AddTrack(track *Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if track.ID == "" {
		track.ID = s.newID()
	}
	if s.track(track.ID) != nil {
		return fmt.Errorf("track %s already exists", track.ID)
	}
	cp := track.Clone()
	for _, c := range cp.Clips {
		c.TrackID = cp.ID
	}
	s.tracks = append(s.tracks, cp)
	return nil
}

func (s *Store) RemoveTrack(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, tr := range s.tracks {
		if tr.ID == id {
			s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrTrackNotFound, id)
}

// AddClip appends a clip to a track and returns the stored copy. An empty
// clip id is assigned.
func (s *Store) AddClip(trackID string, clip Clip) (*Clip, error) {
	if clip.Duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidClip)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tr := s.track(trackID)
	if tr == nil {
		return nil, fmt.Errorf("%w: %s", ErrTrackNotFound, trackID)
	}
	if tr.Locked {
		return nil, fmt.Errorf("%w: %s", ErrTrackLocked, trackID)
	}
	if clip.ID == "" {
		clip.ID = s.newID()
	} else if _, existing := s.clip(clip.ID); existing != nil {
		return nil, fmt.Errorf("%w: clip %s already exists", ErrInvalidClip, clip.ID)
	}
	clip.TrackID = trackID
	stored := clip.Clone()
	tr.Clips = append(tr.Clips, stored)
	return stored.Clone(), nil
}

func (s *Store) RemoveClip(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, c := s.clip(id)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrClipNotFound, id)
	}
	if tr.Locked {
		return fmt.Errorf("%w: %s", ErrTrackLocked, tr.ID)
	}
	for i, existing := range tr.Clips {
		if existing.ID == id {
			tr.Clips = append(tr.Clips[:i], tr.Clips[i+1:]...)
			break
		}
	}
	return nil
}

// UpdateClip applies fn to the clip. ID and TrackID are not editable here.
// When Start changes by delta, every other clip sharing the clip's group id
// is translated by the same delta.
func (s *Store) UpdateClip(id string, fn func(c *Clip)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, c := s.clip(id)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrClipNotFound, id)
	}
	if tr.Locked {
		return fmt.Errorf("%w: %s", ErrTrackLocked, tr.ID)
	}

	edited := c.Clone()
	fn(edited)
	edited.ID = c.ID
	edited.TrackID = c.TrackID
	if edited.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidClip)
	}

	delta := edited.Start - c.Start
	*c = *edited
	if delta != 0 && c.GroupID != "" {
		s.shiftGroup(c.GroupID, c.ID, delta)
	}
	return nil
}

// MoveClip sets the clip start (moving its group by the same delta) and,
// when targetTrackID is non-empty and different, moves the clip itself to
// that track.
func (s *Store) MoveClip(id string, start float64, targetTrackID string) error {
	if err := s.UpdateClip(id, func(c *Clip) { c.Start = start }); err != nil {
		return err
	}
	if targetTrackID == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	from, c := s.clip(id)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrClipNotFound, id)
	}
	if from.ID == targetTrackID {
		return nil
	}
	to := s.track(targetTrackID)
	if to == nil {
		return fmt.Errorf("%w: %s", ErrTrackNotFound, targetTrackID)
	}
	if to.Locked {
		return fmt.Errorf("%w: %s", ErrTrackLocked, to.ID)
	}
	for i, existing := range from.Clips {
		if existing.ID == id {
			from.Clips = append(from.Clips[:i], from.Clips[i+1:]...)
			break
		}
	}
	c.TrackID = to.ID
	to.Clips = append(to.Clips, c)
	return nil
}

// SplitClip splits the clip at offset r relative to its start. Every other
// member of its group that spans the same absolute time is split too. Left
// fragments keep their ids and group; all right fragments share one new
// group id so each side moves independently. Returns the right fragments,
// the requested clip's first.
func (s *Store) SplitClip(id string, r float64) ([]*Clip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, c := s.clip(id)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrClipNotFound, id)
	}
	if tr.Locked {
		return nil, fmt.Errorf("%w: %s", ErrTrackLocked, tr.ID)
	}
	if r < MinSplitGap || r > c.Duration-MinSplitGap {
		return nil, fmt.Errorf("%w: offset %.3f in clip of %.3fs", ErrInvalidSplit, r, c.Duration)
	}

	at := c.Start + r
	targets := []*Clip{c}
	if c.GroupID != "" {
		for _, other := range s.tracks {
			if other.Locked {
				continue
			}
			for _, m := range other.Clips {
				if m.ID == c.ID || m.GroupID != c.GroupID {
					continue
				}
				mr := at - m.Start
				if mr >= MinSplitGap && mr <= m.Duration-MinSplitGap {
					targets = append(targets, m)
				}
			}
		}
	}

	rightGroup := s.newID()
	rights := make([]*Clip, 0, len(targets))
	for _, m := range targets {
		right := splitOne(m, at-m.Start, s.newID(), rightGroup)
		owner := s.track(m.TrackID)
		owner.Clips = insertAfter(owner.Clips, m.ID, right)
		rights = append(rights, right.Clone())
	}
	return rights, nil
}

// splitOne shortens left in place and returns the right fragment. The
// durations sum to the original and the fragments are contiguous.
func splitOne(left *Clip, r float64, rightID, rightGroup string) *Clip {
	original := left.Duration
	right := left.Clone()
	right.ID = rightID
	right.GroupID = rightGroup
	right.Start = left.Start + r
	right.Duration = original - r
	right.Offset = left.Offset + r

	left.Duration = r

	if left.Data.Fade != nil {
		left.Data.Fade.Out = nil
	}
	if right.Data.Fade != nil {
		right.Data.Fade.In = nil
	}
	return right
}

func insertAfter(clips []*Clip, id string, c *Clip) []*Clip {
	for i, existing := range clips {
		if existing.ID == id {
			clips = append(clips, nil)
			copy(clips[i+2:], clips[i+1:])
			clips[i+1] = c
			return clips
		}
	}
	return append(clips, c)
}

// GroupClips assigns a fresh shared group id to the given clips.
func (s *Store) GroupClips(ids ...string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make([]*Clip, 0, len(ids))
	for _, id := range ids {
		_, c := s.clip(id)
		if c == nil {
			return "", fmt.Errorf("%w: %s", ErrClipNotFound, id)
		}
		members = append(members, c)
	}
	groupID := s.newID()
	for _, c := range members {
		c.GroupID = groupID
	}
	return groupID, nil
}

// UngroupClips clears the group id from every member of groupID.
func (s *Store) UngroupClips(groupID string) {
	if groupID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tr := range s.tracks {
		for _, c := range tr.Clips {
			if c.GroupID == groupID {
				c.GroupID = ""
			}
		}
	}
}

// SnapPoints returns the sorted, de-duplicated clip boundaries of the
// timeline, leaving out the clip being dragged.
func (s *Store) SnapPoints(excludeClipID string) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[float64]bool{0: true}
	points := []float64{0}
	for _, tr := range s.tracks {
		for _, c := range tr.Clips {
			if c.ID == excludeClipID {
				continue
			}
			for _, p := range []float64{c.Start, c.End()} {
				if !seen[p] {
					seen[p] = true
					points = append(points, p)
				}
			}
		}
	}
	sort.Float64s(points)
	return points
}

// ClosestSnapPoint returns the point nearest to t when it lies within
// threshold, otherwise false.
func ClosestSnapPoint(points []float64, t, threshold float64) (float64, bool) {
	if len(points) == 0 {
		return 0, false
	}
	best, bestDist := 0.0, math.Inf(1)
	for _, p := range points {
		if d := math.Abs(p - t); d < bestDist {
			best, bestDist = p, d
		}
	}
	if bestDist <= threshold {
		return best, true
	}
	return 0, false
}

func (s *Store) shiftGroup(groupID, exceptID string, delta float64) {
	for _, tr := range s.tracks {
		for _, c := range tr.Clips {
			if c.GroupID == groupID && c.ID != exceptID {
				c.Start += delta
			}
		}
	}
}

func (s *Store) track(id string) *Track {
	for _, tr := range s.tracks {
		if tr.ID == id {
			return tr
		}
	}
	return nil
}

func (s *Store) clip(id string) (*Track, *Clip) {
	for _, tr := range s.tracks {
		for _, c := range tr.Clips {
			if c.ID == id {
				return tr, c
			}
		}
	}
	return nil, nil
}

func cloneTracks(tracks []*Track) []*Track {
	out := make([]*Track, len(tracks))
	for i, tr := range tracks {
		out[i] = tr.Clone()
	}
	return out
}
