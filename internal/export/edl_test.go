package export

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/heimdex/heimdex-studio/internal/timeline"
)

func edlFixture() ([]*timeline.Track, timeline.Assets) {
	assets := timeline.Assets{
		"intro": {ID: "intro", SourceRef: "/media/intro.mp4", Kind: timeline.AssetVideo},
		"b":     {ID: "b", SourceRef: "/media/b.mp4", Kind: timeline.AssetVideo},
	}
	tracks := []*timeline.Track{
		{ID: "titles", Kind: timeline.TrackText, Clips: []*timeline.Clip{{ID: "title", Kind: "text", Duration: 2}}},
		{ID: "v1", Kind: timeline.TrackVideo, Clips: []*timeline.Clip{
			{ID: "Clip B", AssetID: "b", Kind: "video", Start: 2, Duration: 1.5, Offset: 1},
			{ID: "Intro", AssetID: "intro", Kind: "video", Start: 0, Duration: 2},
			{ID: "orphan", AssetID: "gone", Kind: "video", Start: 4, Duration: 1},
		}},
		{ID: "v2", Kind: timeline.TrackVideo, Clips: []*timeline.Clip{{ID: "ignored", AssetID: "b", Kind: "video", Duration: 1}}},
	}
	return tracks, assets
}

func goldenEDL(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestGenerateEDL_PrimaryTrack(t *testing.T) {
	tracks, assets := edlFixture()
	edl := GenerateEDL(tracks, assets, "Project One", 30.0)
	goldenEDL(t).Assert(t, "edl_primary_track", []byte(edl))
}

func TestGenerateEDL_RecordTimesKeepGaps(t *testing.T) {
	assets := timeline.Assets{"a": {ID: "a", SourceRef: "/a.mp4", Kind: timeline.AssetVideo}}
	tracks := []*timeline.Track{{ID: "v", Kind: timeline.TrackVideo, Clips: []*timeline.Clip{
		{ID: "late", AssetID: "a", Kind: "video", Start: 10, Duration: 0.5, Offset: 3},
	}}}

	edl := GenerateEDL(tracks, assets, "Gap", 25)

	if !strings.Contains(edl, "001  AX       V     C        00:00:03:00 00:00:03:13 00:00:10:00 00:00:10:13") {
		t.Fatalf("event line mismatch: %q", edl)
	}
}

func TestGenerateEDL_DropFrame(t *testing.T) {
	tracks, assets := edlFixture()
	edl := GenerateEDL(tracks, assets, "Drop", 29.97)

	if !strings.Contains(edl, "FCM: DROP FRAME") {
		t.Fatalf("expected drop frame FCM, got: %q", edl)
	}
}

func TestGenerateEDL_NoVideoTrack(t *testing.T) {
	edl := GenerateEDL(nil, timeline.Assets{}, "Empty", 24)
	if edl != "TITLE: Empty\nFCM: NON-DROP FRAME\n\n" {
		t.Fatalf("unexpected empty EDL: %q", edl)
	}
}

func TestMsToTimecode(t *testing.T) {
	tests := []struct {
		name string
		ms   int
		fps  int
		want string
	}{
		{name: "zero", ms: 0, fps: 30, want: "00:00:00:00"},
		{name: "one second", ms: 1000, fps: 30, want: "00:00:01:00"},
		{name: "fractional second", ms: 500, fps: 30, want: "00:00:00:15"},
		{name: "one minute", ms: 60000, fps: 30, want: "00:01:00:00"},
		{name: "one hour", ms: 3600000, fps: 30, want: "01:00:00:00"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := msToTimecode(tc.ms, tc.fps)
			if got != tc.want {
				t.Fatalf("msToTimecode(%d, %d) = %q, want %q", tc.ms, tc.fps, got, tc.want)
			}
		})
	}
}
