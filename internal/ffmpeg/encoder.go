// Package ffmpeg drives the external ffmpeg binary for container/audio conversion.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Default transform parameters.
const (
	DefaultAudioCodec    = "aac"
	DefaultAudioBitrate  = "192k"
	DefaultAudioChannels = 2
	DefaultFormat        = "mp4"
)

// waitDelay bounds how long Encode waits for stderr to drain after the process exits or is killed.
const waitDelay = 5 * time.Second

// Options configures the encoder transform.
type Options struct {
	// Path to the ffmpeg binary. Empty means look it up in PATH.
	Path string

	AudioCodec    string
	AudioBitrate  string
	AudioChannels int

	// Format is the output container extension: mp4, mkv or mov.
	Format string
}

// ExitError is returned when ffmpeg exits with a non-zero status.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("ffmpeg exited with code %d", e.Code)
	}
	return fmt.Sprintf("ffmpeg exited with code %d: %s", e.Code, e.Stderr)
}

// Encoder runs ffmpeg to copy the video stream and re-encode audio.
type Encoder struct {
	path   string
	opts   Options
	logger *slog.Logger
}

// New creates an encoder, resolving the ffmpeg binary.
func New(opts Options, logger *slog.Logger) (*Encoder, error) {
	path, err := LookPath(opts.Path)
	if err != nil {
		return nil, err
	}

	if opts.AudioCodec == "" {
		opts.AudioCodec = DefaultAudioCodec
	}
	if opts.AudioBitrate == "" {
		opts.AudioBitrate = DefaultAudioBitrate
	}
	if opts.AudioChannels <= 0 {
		opts.AudioChannels = DefaultAudioChannels
	}
	if opts.Format == "" {
		opts.Format = DefaultFormat
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Encoder{path: path, opts: opts, logger: logger}, nil
}

// LookPath resolves the ffmpeg binary. An explicit path must exist and be executable.
func LookPath(override string) (string, error) {
	if override != "" {
		path, err := exec.LookPath(override)
		if err != nil {
			return "", fmt.Errorf("ffmpeg not usable at %s: %w", override, err)
		}
		return path, nil
	}

	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return "", fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	return path, nil
}

// Path returns the resolved ffmpeg binary.
func (e *Encoder) Path() string {
	return e.path
}

// Format returns the output container extension.
func (e *Encoder) Format() string {
	return e.opts.Format
}

// BuildArgs constructs the ffmpeg arguments for one conversion.
// The first video stream is copied untouched; the first audio stream is re-encoded.
func (e *Encoder) BuildArgs(input, output string) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", input,
		"-map", "0:v:0",
		"-map", "0:a:0",
		"-c:v", "copy",
		"-c:a", e.opts.AudioCodec,
		"-b:a", e.opts.AudioBitrate,
		"-ac", strconv.Itoa(e.opts.AudioChannels),
	}

	// Relocate the moov atom so browsers can start playing before the download finishes.
	if e.opts.Format == "mp4" || e.opts.Format == "mov" {
		args = append(args, "-movflags", "+faststart")
	}

	// The output name carries a temp suffix, so the muxer cannot be inferred from it.
	args = append(args, "-f", muxerFor(e.opts.Format), output)
	return args
}

// muxerFor maps a container extension to its ffmpeg muxer name.
func muxerFor(format string) string {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "mkv":
		return "matroska"
	case "mov":
		return "mov"
	default:
		return "mp4"
	}
}

// Encode converts input into output, reporting progress as ffmpeg advances.
// onProgress is called synchronously and never after Encode returns.
// Cancelling ctx kills the process.
func (e *Encoder) Encode(ctx context.Context, input, output string, onProgress func(Progress)) error {
	args := e.BuildArgs(input, output)

	e.logger.Debug("executing ffmpeg",
		slog.String("input", input),
		slog.String("output", filepath.Base(output)),
		slog.Any("args", args),
	)

	stderr := newProgressWriter(onProgress)

	cmd := exec.CommandContext(ctx, e.path, args...) //nolint:gosec // path resolved by LookPath at construction
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	err := cmd.Wait()
	stderr.flush()

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg killed: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Code: exitErr.ExitCode(), Stderr: stderr.Tail()}
		}
		return fmt.Errorf("wait for ffmpeg: %w", err)
	}

	return nil
}
