package transcode

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgs(t *testing.T) {
	f := NewFFmpeg("", time.Minute, nil)
	args := f.Args("/tmp/in", "/srv/42.mp3", DefaultFormats[2])
	assert.Equal(t, "ffmpeg", f.Binary)
	assert.Equal(t, "-i", args[5])
	assert.Equal(t, "/tmp/in", args[6])
	assert.Equal(t, "/srv/42.mp3", args[len(args)-1])
	assert.Contains(t, args, "libmp3lame")
}

func TestDefaultFormatsCoverPlayerContainers(t *testing.T) {
	var exts []string
	for _, f := range DefaultFormats {
		exts = append(exts, f.Ext)
	}
	assert.ElementsMatch(t, []string{".webm", ".mp4", ".mp3"}, exts)
}

func TestTranscodeMissingBinary(t *testing.T) {
	f := NewFFmpeg("/nonexistent/ffmpeg-binary", time.Second, nil)
	outputs, err := f.Transcode(context.Background(), "/tmp/in", "/tmp/out")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTranscode))
	assert.Empty(t, outputs)
}

func TestTranscodeNonZeroExit(t *testing.T) {
	bin, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false not available")
	}
	f := NewFFmpeg(bin, time.Second, nil)
	_, err = f.Transcode(context.Background(), "/tmp/in", "/tmp/out")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTranscode))
}

func TestTranscodeSuccessReturnsEveryOutput(t *testing.T) {
	bin, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true not available")
	}
	f := NewFFmpeg(bin, time.Second, nil)
	outputs, err := f.Transcode(context.Background(), "/tmp/in", "/srv/7")
	require.NoError(t, err)
	assert.Equal(t, []string{"/srv/7.webm", "/srv/7.mp4", "/srv/7.mp3"}, outputs)
}

func TestTranscodeTimeout(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	script := filepath.Join(t.TempDir(), "slow-ffmpeg")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexec sleep 5\n"), 0o755))

	f := NewFFmpeg(script, 50*time.Millisecond, nil)
	start := time.Now()
	_, err := f.Transcode(context.Background(), "/tmp/in", "/tmp/out")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTranscode))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 4*time.Second)
}
