package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/reelshelf/reelshelf-server/internal/domain"
	"github.com/reelshelf/reelshelf-server/internal/ffmpeg"
	"github.com/reelshelf/reelshelf-server/internal/metrics"
	"github.com/reelshelf/reelshelf-server/internal/sse"
)

// finalizeTimeout bounds the store write after a successful encode.
const finalizeTimeout = 10 * time.Second

// failureStage identifies where a conversion failed.
type failureStage string

const (
	stageSource   failureStage = "source"
	stageEncode   failureStage = "encode"
	stageFinalize failureStage = "finalize"
	stageWatchdog failureStage = "watchdog"
)

// conversionError is a failed attempt. Its message is what users see on the job.
type conversionError struct {
	stage failureStage
	err   error
}

func (e *conversionError) Error() string {
	switch e.stage {
	case stageSource:
		return "source file unavailable: " + e.err.Error()
	case stageFinalize:
		return "encoded but could not be saved: " + e.err.Error()
	case stageWatchdog:
		return "watchdog timeout after " + e.err.Error()
	default:
		return "encode failed: " + e.err.Error()
	}
}

func (e *conversionError) Unwrap() error { return e.err }

func fail(stage failureStage, err error) *conversionError {
	return &conversionError{stage: stage, err: err}
}

// outputPath is the deterministic final location for an item's converted file.
func (s *ConversionService) outputPath(itemID int64) string {
	return filepath.Join(s.config.CachePath, strconv.FormatInt(itemID, 10)+"."+s.config.OutputExt)
}

// tempPath is unique per attempt so a stale attempt can never clobber a fresh one.
func (s *ConversionService) tempPath(itemID int64, attempt string) string {
	return filepath.Join(s.config.CachePath,
		fmt.Sprintf("%d.%s.tmp.%s", itemID, attempt, s.config.OutputExt))
}

// runJob drives one activated job to exactly one terminal outcome.
func (s *ConversionService) runJob(e *conversionEntry) {
	defer s.wg.Done()
	defer s.schedule()
	defer close(e.done)
	defer e.kill()

	job := e.job
	logger := s.logger.With(
		slog.Int64("item_id", job.ItemID),
		slog.String("file_name", job.FileName),
	)
	logger.Info("conversion started", slog.String("source", job.SourcePath))

	start := time.Now()
	err := s.convert(e, logger)
	elapsed := time.Since(start)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.active--

	var convErr *conversionError
	switch {
	// A failure that happened before the kill landed is still reported as a failure.
	case err != nil && e.cancelled && errors.Is(err, context.Canceled):
		e.wasCancelled = true
		delete(s.entries, job.ItemID)
		s.emitter.Emit(sse.NewConversionCancelledEvent(job.ItemID, job.FileName))
		metrics.RecordJobFinished("cancelled", "")
		logger.Info("active conversion cancelled", slog.Duration("elapsed", elapsed))

	case err != nil:
		job.MarkFailed(err.Error())
		// Kept until dismissed or superseded so the user can see why it failed.
		s.emitter.Emit(sse.NewConversionFailedEvent(job.ItemID, job.FileName, job.Error))
		stage := string(stageEncode)
		if errors.As(err, &convErr) {
			stage = string(convErr.stage)
		}
		metrics.RecordJobFinished("failed", stage)
		logger.Error("conversion failed",
			slog.String("stage", stage),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", err),
		)

	default:
		job.MarkCompleted()
		s.completed++
		s.emitter.Emit(sse.NewConversionCompletedEvent(job.ItemID, job.FileName, job.OutputPath))
		s.retainLocked(e)
		metrics.RecordJobFinished("completed", "")
		metrics.ObserveEncodeDuration(elapsed)
		logger.Info("conversion completed",
			slog.String("output", job.OutputPath),
			slog.Duration("elapsed", elapsed),
		)
	}

	s.updateGaugesLocked()
}

// convert runs the encode and publishes the result. Fields of e.job read here
// without the lock are fixed at admission.
func (s *ConversionService) convert(e *conversionEntry, logger *slog.Logger) error {
	job := e.job

	if _, err := os.Stat(job.SourcePath); err != nil {
		return fail(stageSource, err)
	}

	tempPath := s.tempPath(job.ItemID, e.attempt)

	encodeCtx := e.ctx
	timeout := s.watchdogTimeout(e.duration)
	if timeout > 0 {
		var cancel context.CancelFunc
		encodeCtx, cancel = context.WithTimeout(e.ctx, timeout)
		defer cancel()
	}

	err := s.encoder.Encode(encodeCtx, job.SourcePath, tempPath, func(p ffmpeg.Progress) {
		s.reportProgress(e, p)
	})
	if err != nil {
		s.removeTemp(tempPath, logger)
		if e.ctx.Err() == nil && errors.Is(encodeCtx.Err(), context.DeadlineExceeded) {
			return fail(stageWatchdog, errors.New(timeout.String()))
		}
		return fail(stageEncode, err)
	}

	info, err := os.Stat(tempPath)
	if err != nil {
		return fail(stageEncode, errors.New("encoder exited successfully but wrote no output"))
	}
	if info.Size() == 0 {
		s.removeTemp(tempPath, logger)
		return fail(stageEncode, errors.New("encoder exited successfully but wrote an empty file"))
	}

	// Rename is atomic on the same filesystem and replaces any previous output in one step.
	if err := os.Rename(tempPath, job.OutputPath); err != nil {
		s.removeTemp(tempPath, logger)
		return fail(stageFinalize, err)
	}

	// The encode is done; a late cancel must not abort recording it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), finalizeTimeout)
	defer cancel()

	if err := s.store.SetConvertedPath(ctx, job.ItemID, job.OutputPath); err != nil {
		// Without the store pointer the file is unreachable; drop it so failure leaves no trace.
		if rmErr := os.Remove(job.OutputPath); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("failed to remove unrecorded output",
				slog.String("path", job.OutputPath),
				slog.Any("error", rmErr),
			)
		}
		return fail(stageFinalize, err)
	}

	logger.Debug("conversion output recorded",
		slog.String("output", job.OutputPath),
		slog.Int64("size", info.Size()),
	)
	return nil
}

// reportProgress updates the job from an encoder progress report.
// An unknown duration leaves progress at 0 until completion.
func (s *ConversionService) reportProgress(e *conversionEntry, p ffmpeg.Progress) {
	percent := p.Percent(e.duration)
	if percent < 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e.job.Status != domain.ConversionStatusConverting || e.cancelled {
		return
	}
	if e.job.SetProgress(percent) {
		s.emitter.Emit(sse.NewConversionProgressEvent(e.job.ItemID, e.job.FileName, e.job.Progress))
	}
}

func (s *ConversionService) removeTemp(path string, logger *slog.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove temp file",
			slog.String("path", path),
			slog.Any("error", err),
		)
	}
}
