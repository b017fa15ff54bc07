package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/heimdex/heimdex-studio/internal/timeline"
)

// GenerateEDL writes a CMX3600 edit list for the primary video track. Record
// times follow clip placement on the timeline, so gaps are preserved.
func GenerateEDL(tracks []*timeline.Track, assets timeline.AssetLookup, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", SanitizeName(title, 70))}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	event := 0
	for _, clip := range primaryClips(tracks) {
		asset, ok := assets.Asset(clip.AssetID)
		if !ok {
			continue
		}
		event++
		srcIn := msToTimecode(secondsToMs(clip.Offset), fps)
		srcOut := msToTimecode(secondsToMs(clip.Offset+clip.Duration), fps)
		recIn := msToTimecode(secondsToMs(clip.Start), fps)
		recOut := msToTimecode(secondsToMs(clip.End()), fps)

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", event, "AX", "V", srcIn, srcOut, recIn, recOut),
			fmt.Sprintf("* FROM CLIP NAME:  %s", SanitizeName(clip.ID, 64)),
			fmt.Sprintf("* MEDIA PATH:  %s", asset.SourceRef),
		)
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

// primaryClips returns the clips of the first video track in start order.
func primaryClips(tracks []*timeline.Track) []*timeline.Clip {
	for _, tr := range tracks {
		if tr.Kind != timeline.TrackVideo {
			continue
		}
		clips := append([]*timeline.Clip(nil), tr.Clips...)
		for i := 1; i < len(clips); i++ {
			for j := i; j > 0 && clips[j].Start < clips[j-1].Start; j-- {
				clips[j], clips[j-1] = clips[j-1], clips[j]
			}
		}
		return clips
	}
	return nil
}

func secondsToMs(s float64) int {
	return int(math.Round(s * 1000))
}

func msToTimecode(ms int, fps int) string {
	totalFrames := int(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
