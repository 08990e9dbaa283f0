// Package audio provides Recorders that yield one WAV payload per call.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// FileRecorder returns the contents of a WAV file on disk.
type FileRecorder struct {
	Path string
}

func (r FileRecorder) Record(context.Context) ([]byte, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	if !IsWAV(data) {
		return nil, fmt.Errorf("%s: %w", r.Path, ErrNotWAV)
	}
	return data, nil
}

// FFmpegRecorder captures a fixed-length clip from the microphone with ffmpeg.
// The zero value records 60s from the default PulseAudio source.
type FFmpegRecorder struct {
	// Command is the ffmpeg binary; empty means "ffmpeg" on PATH.
	Command     string
	Duration    time.Duration
	InputFormat string
	InputDevice string
	SampleRate  int
}

func NewFFmpegRecorder(command string, d time.Duration) *FFmpegRecorder {
	return &FFmpegRecorder{Command: command, Duration: d}
}

func (r *FFmpegRecorder) command() string {
	if r.Command == "" {
		return "ffmpeg"
	}
	return r.Command
}

func (r *FFmpegRecorder) args() []string {
	format, device, rate := r.InputFormat, r.InputDevice, r.SampleRate
	if format == "" {
		format = "pulse"
	}
	if device == "" {
		device = "default"
	}
	if rate <= 0 {
		rate = 16000
	}
	d := r.Duration
	if d <= 0 {
		d = 60 * time.Second
	}
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", format,
		"-i", device,
		"-t", strconv.FormatFloat(d.Seconds(), 'f', -1, 64),
		"-ac", "1",
		"-ar", strconv.Itoa(rate),
		"-f", "wav",
		"-",
	}
}

// Record blocks until the clip is complete or ctx is done. A cancelled
// capture returns whatever was recorded so far.
func (r *FFmpegRecorder) Record(ctx context.Context) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.command(), r.args()...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil && ctx.Err() == nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, fmt.Errorf("failed to run ffmpeg: %w", err)
	}
	if stdout.Len() == 0 {
		return nil, nil
	}
	data := stdout.Bytes()
	if !IsWAV(data) {
		return nil, ErrNotWAV
	}
	return fixSizes(data), nil
}
