package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProject = `
name: cli demo
fps: 8
width: 32
height: 18
assets:
  - id: intro
    source: synthetic://pattern?w=32&h=18&fps=8
    kind: video
    duration: 2
tracks:
  - id: v1
    kind: video
    clips:
      - id: c1
        asset: intro
        start: 0
        duration: 0.5
        offset: 1
        kind: video
  - id: o1
    kind: overlay
    clips:
      - id: box
        start: 0
        duration: 0.5
        kind: shape
        data:
          shape: {shape: rect, width: 8, height: 8, color: "#ff0000"}
`

func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HEIMDEX_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("HEIMDEX_FFMPEG_PATH", filepath.Join(dir, "no-ffmpeg"))
	t.Setenv("HEIMDEX_FFPROBE_PATH", filepath.Join(dir, "no-ffprobe"))
	path := filepath.Join(dir, "project.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testProject), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEDLCommand(t *testing.T) {
	path := writeProject(t)

	out, err := execute(t, "edl", path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "TITLE: cli demo\nFCM: NON-DROP FRAME\n"))
	assert.Contains(t, out, "001  AX       V     C        00:00:01:00 00:00:01:04 00:00:00:00 00:00:00:04")
	assert.Contains(t, out, "* MEDIA PATH:  synthetic://pattern?w=32&h=18&fps=8")
}

func TestExportCommand_Local(t *testing.T) {
	path := writeProject(t)
	outDir := t.TempDir()

	out, err := execute(t, "export", path, "--local", "--no-progress", "--out", outDir)
	require.NoError(t, err)

	target := filepath.Join(outDir, "cli demo.avi")
	assert.Contains(t, out, target)
	assert.Contains(t, out, "4 frames")
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[:4]))

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary output is removed")
}

func TestExportCommand_RequiresServer(t *testing.T) {
	path := writeProject(t)
	t.Setenv("HEIMDEX_RENDER_URL", "")

	_, err := execute(t, "export", path, "--out", t.TempDir())
	assert.ErrorContains(t, err, "no render server")
}

func TestPreviewCommand_Snapshot(t *testing.T) {
	path := writeProject(t)
	snap := filepath.Join(t.TempDir(), "frame.png")

	out, err := execute(t, "preview", path, "--for", "150ms", "--paused", "--seek", "0.25", "--snapshot", snap)
	require.NoError(t, err)
	assert.Contains(t, out, "position 0.250s")
	assert.FileExists(t, snap)
}

func TestRootCommand_UnknownProject(t *testing.T) {
	_, err := execute(t, "edl", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read project")
}
