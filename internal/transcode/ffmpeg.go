// Package transcode converts one raw audio capture into the playback formats served to players.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrTranscode marks a converter failure: spawn error, non-zero exit or timeout.
var ErrTranscode = errors.New("transcode failed")

// Format is one target container and the codec arguments that produce it.
type Format struct {
	Ext  string
	Args []string
}

// DefaultFormats are the three containers players request: web, widely compatible video, audio only.
var DefaultFormats = []Format{
	{Ext: ".webm", Args: []string{"-vn", "-c:a", "libopus", "-b:a", "64k"}},
	{Ext: ".mp4", Args: []string{"-vn", "-c:a", "aac", "-b:a", "96k", "-movflags", "+faststart"}},
	{Ext: ".mp3", Args: []string{"-vn", "-c:a", "libmp3lame", "-q:a", "4"}},
}

const stderrTail = 512

// FFmpeg invokes the ffmpeg binary once per format.
type FFmpeg struct {
	Binary  string
	Timeout time.Duration
	Formats []Format
	logger  *zap.Logger
}

// NewFFmpeg creates a converter. An empty binary means "ffmpeg" on PATH.
func NewFFmpeg(binary string, timeout time.Duration, logger *zap.Logger) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpeg{Binary: binary, Timeout: timeout, Formats: DefaultFormats, logger: logger}
}

// Args returns the full argument list for one conversion.
func (f *FFmpeg) Args(input, output string, format Format) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin", "-y", "-i", input}
	args = append(args, format.Args...)
	return append(args, output)
}

// Transcode writes {outputBase}{ext} for every format and returns the written paths in order.
// The first failure stops the run; paths produced before it are still returned so the caller can
// remove them.
func (f *FFmpeg) Transcode(ctx context.Context, input, outputBase string) ([]string, error) {
	outputs := make([]string, 0, len(f.Formats))
	for _, format := range f.Formats {
		output := outputBase + format.Ext
		if err := f.run(ctx, input, output, format); err != nil {
			return outputs, err
		}
		outputs = append(outputs, output)
	}
	return outputs, nil
}

func (f *FFmpeg) run(ctx context.Context, input, output string, format Format) error {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.Binary, f.Args(input, output, format)...)
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	err := cmd.Run()
	if err == nil {
		f.logger.Debug("transcoded", zap.String("output", output), zap.Duration("took", time.Since(start)))
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %s after %s: %w", ErrTranscode, format.Ext, time.Since(start).Round(time.Millisecond), ctxErr)
	}
	return fmt.Errorf("%w: %s: %v: %s", ErrTranscode, format.Ext, err, tail(stderr.String()))
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		return "..." + s[len(s)-stderrTail:]
	}
	return s
}
