package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/reelshelf/reelshelf-server/internal/config"
	"github.com/reelshelf/reelshelf-server/internal/domain"
	domainerrors "github.com/reelshelf/reelshelf-server/internal/errors"
	"github.com/reelshelf/reelshelf-server/internal/ffmpeg"
	"github.com/reelshelf/reelshelf-server/internal/metrics"
	"github.com/reelshelf/reelshelf-server/internal/sse"
	"github.com/reelshelf/reelshelf-server/internal/store"
)

// Encoder converts one source file into an output file.
// onProgress must not be called after Encode returns.
type Encoder interface {
	Encode(ctx context.Context, input, output string, onProgress func(ffmpeg.Progress)) error
}

// MediaStore is the slice of the item store the conversion engine reads and writes.
type MediaStore interface {
	GetMediaItem(ctx context.Context, id int64) (*domain.MediaItem, error)
	ListIncompatibleWithoutConvertedOutput(ctx context.Context) ([]*domain.MediaItem, error)
	ListConvertedPaths(ctx context.Context) (map[int64]string, error)
	SetConvertedPath(ctx context.Context, id int64, path string) error
	ClearConvertedPath(ctx context.Context, id int64) error
	ClearConvertedPathByPath(ctx context.Context, path string) (int64, error)
}

// EventEmitter publishes conversion events. Emit must not block.
type EventEmitter interface {
	Emit(event sse.Event)
}

// Admission messages.
const (
	AdmissionQueued           = "queued"
	AdmissionAlreadyQueued    = "already queued"
	AdmissionAlreadyConverted = "already converted"
)

// AdmissionResult reports whether a conversion request was accepted.
// A rejection is a normal outcome, not an error.
type AdmissionResult struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

// ConversionService owns the conversion registry, the pending queue and the workers.
// All registry state is guarded by mu; events are emitted while holding it
// so subscribers observe each item's transitions in order.
type ConversionService struct {
	store   MediaStore
	encoder Encoder
	emitter EventEmitter
	logger  *slog.Logger
	config  config.ConvertConfig

	// Worker management
	ctx    context.Context //nolint:containedctx // Context needed for worker lifecycle management
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	entries   map[int64]*conversionEntry
	pending   []int64
	active    int
	completed int
	started   bool
	stopped   bool
}

// NewConversionService creates a conversion service.
// A nil encoder leaves the service in a disabled state where requests are refused.
func NewConversionService(
	items MediaStore,
	encoder Encoder,
	emitter EventEmitter,
	cfg config.ConvertConfig,
	logger *slog.Logger,
) (*ConversionService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = noopEmitter{}
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.OutputExt == "" {
		cfg.OutputExt = ffmpeg.DefaultFormat
	}

	if err := os.MkdirAll(cfg.CachePath, 0o755); err != nil {
		return nil, fmt.Errorf("create conversion cache directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &ConversionService{
		store:   items,
		encoder: encoder,
		emitter: emitter,
		logger:  logger,
		config:  cfg,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[int64]*conversionEntry),
	}, nil
}

// IsEnabled reports whether the service accepts conversion requests.
func (s *ConversionService) IsEnabled() bool {
	return s.config.Enabled && s.encoder != nil
}

// Start sweeps temp files left by a previous process, clears stored paths whose files are
// gone and starts background maintenance.
// Requests are accepted before Start; they simply begin converting right away.
func (s *ConversionService) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	if !s.IsEnabled() {
		s.logger.Info("conversion disabled, not starting workers")
		return
	}

	s.logger.Info("starting conversion service",
		slog.Int("max_concurrent", s.config.MaxConcurrent),
		slog.String("cache_path", s.config.CachePath),
		slog.String("output_ext", s.config.OutputExt),
	)

	// No job can have started yet, so every temp file is an orphan.
	if n, err := s.sweepTempFiles(); err != nil {
		s.logger.Warn("failed to sweep temp files", slog.Any("error", err))
	} else if n > 0 {
		s.logger.Info("removed orphaned temp files", slog.Int("count", n))
	}

	if n, err := s.reconcileConvertedPaths(s.ctx); err != nil {
		s.logger.Warn("failed to reconcile converted paths", slog.Any("error", err))
	} else if n > 0 {
		s.logger.Info("cleared converted paths with missing files", slog.Int("count", n))
	}

	if s.config.EvictionEnabled() {
		s.wg.Add(1)
		go s.evictLoop()
	}
}

// Stop refuses new work, drops pending jobs, kills active encodes and waits for workers to exit.
func (s *ConversionService) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true

	s.logger.Info("stopping conversion service",
		slog.Int("active", s.active),
		slog.Int("pending", len(s.pending)),
	)

	for _, id := range s.pending {
		if e, ok := s.entries[id]; ok {
			delete(s.entries, id)
			s.emitter.Emit(sse.NewConversionCancelledEvent(id, e.job.FileName))
			metrics.RecordJobFinished("cancelled", "")
		}
	}
	s.pending = nil

	for _, e := range s.entries {
		if e.job.Status == domain.ConversionStatusConverting {
			e.cancelled = true
			e.kill()
		}
		e.stopRetention()
	}
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.logger.Info("conversion service stopped")
}

// RequestConversion admits one item into the pending queue.
// It returns an error only when the item does not exist or the service cannot accept work.
func (s *ConversionService) RequestConversion(ctx context.Context, itemID int64) (AdmissionResult, error) {
	if !s.IsEnabled() {
		return AdmissionResult{}, domainerrors.Unavailable("conversion is disabled")
	}

	item, err := s.store.GetMediaItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.RecordRequest(metrics.OutcomeNotFound)
			return AdmissionResult{}, domainerrors.NotFoundf("media item %d not found", itemID)
		}
		return AdmissionResult{}, domainerrors.Wrapf(err, domainerrors.CodeInternal, "get media item %d", itemID)
	}

	return s.admit(ctx, item)
}

func (s *ConversionService) admit(ctx context.Context, item *domain.MediaItem) (AdmissionResult, error) {
	outputPath := s.outputPath(item.ID)

	converted, err := s.hasValidOutput(ctx, item, outputPath)
	if err != nil {
		return AdmissionResult{}, err
	}
	if converted {
		metrics.RecordRequest(metrics.OutcomeAlreadyConverted)
		return AdmissionResult{Accepted: false, Message: AdmissionAlreadyConverted}, nil
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return AdmissionResult{}, domainerrors.Unavailable("conversion service is shutting down")
	}

	if existing, ok := s.entries[item.ID]; ok {
		if existing.job.IsInFlight() {
			s.mu.Unlock()
			metrics.RecordRequest(metrics.OutcomeAlreadyQueued)
			return AdmissionResult{Accepted: false, Message: AdmissionAlreadyQueued}, nil
		}
		// A retained completed or failed job is superseded by the new attempt.
		existing.stopRetention()
	}

	job := domain.NewConversionJob(item, outputPath)
	s.enqueueLocked(&conversionEntry{job: job, duration: item.Duration()})
	s.emitter.Emit(sse.NewConversionQueuedEvent(item.ID, item.FileName))
	s.mu.Unlock()

	metrics.RecordRequest(metrics.OutcomeAccepted)
	s.logger.Debug("conversion queued",
		slog.Int64("item_id", item.ID),
		slog.String("file_name", item.FileName),
	)

	s.schedule()
	return AdmissionResult{Accepted: true, Message: AdmissionQueued}, nil
}

// RequestConversionForAllIncompatible queues every item whose codecs need conversion
// and which has no converted output. Returns the number of newly accepted jobs.
func (s *ConversionService) RequestConversionForAllIncompatible(ctx context.Context) (int, error) {
	if !s.IsEnabled() {
		return 0, domainerrors.Unavailable("conversion is disabled")
	}

	items, err := s.store.ListIncompatibleWithoutConvertedOutput(ctx)
	if err != nil {
		return 0, domainerrors.Wrap(err, domainerrors.CodeInternal, "list incompatible items")
	}

	queued := 0
	for _, item := range items {
		result, err := s.admit(ctx, item)
		if err != nil {
			if errors.Is(err, domainerrors.ErrUnavailable) {
				return queued, err
			}
			s.logger.Warn("skipping item during bulk conversion",
				slog.Int64("item_id", item.ID),
				slog.Any("error", err),
			)
			continue
		}
		if result.Accepted {
			queued++
		}
	}

	s.logger.Info("queued incompatible items",
		slog.Int("candidates", len(items)),
		slog.Int("queued", queued),
	)
	return queued, nil
}

// Cancel removes a pending job or kills an active one.
// For an active job it waits until the worker has cleaned up, bounded by ctx.
// Returns false if the item has no queued or converting job, if the attempt finished
// before the kill landed, or if ctx ends first; in that last case the job may still
// complete.
func (s *ConversionService) Cancel(ctx context.Context, itemID int64) bool {
	s.mu.Lock()
	e, ok := s.entries[itemID]
	if !ok || !e.job.IsInFlight() {
		s.mu.Unlock()
		return false
	}

	if e.job.Status == domain.ConversionStatusQueued {
		s.removePendingLocked(itemID)
		delete(s.entries, itemID)
		s.emitter.Emit(sse.NewConversionCancelledEvent(itemID, e.job.FileName))
		s.updateGaugesLocked()
		s.mu.Unlock()

		metrics.RecordJobFinished("cancelled", "")
		s.logger.Info("pending conversion cancelled", slog.Int64("item_id", itemID))
		return true
	}

	if !e.cancelled {
		e.cancelled = true
		e.kill()
	}
	done := e.done
	s.mu.Unlock()

	select {
	case <-done:
		// Set by the worker before done is closed. False when the encode
		// finished before the kill landed and the result was kept.
		return e.wasCancelled
	case <-ctx.Done():
		return false
	}
}

// Dismiss removes a retained completed or failed job from the status snapshot.
func (s *ConversionService) Dismiss(itemID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[itemID]
	if !ok || !e.job.IsTerminal() {
		return false
	}
	e.stopRetention()
	delete(s.entries, itemID)
	return true
}

// schedule fills free slots from the pending queue in FIFO order.
// It is called after every admission and after every job reaches a terminal state.
func (s *ConversionService) schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.stopped && s.active < s.config.MaxConcurrent {
		e := s.activateLocked()
		if e == nil {
			break
		}
		s.emitter.Emit(sse.NewConversionStartedEvent(e.job.ItemID, e.job.FileName))

		s.wg.Add(1)
		go s.runJob(e)
	}
	s.updateGaugesLocked()
}

// watchdogTimeout returns the encode deadline for a source of the given duration, or 0 if disabled.
func (s *ConversionService) watchdogTimeout(duration time.Duration) time.Duration {
	if s.config.WatchdogFactor <= 0 {
		return 0
	}
	timeout := time.Duration(float64(duration) * s.config.WatchdogFactor)
	return max(timeout, s.config.WatchdogMinimum)
}

func (s *ConversionService) updateGaugesLocked() {
	metrics.SetQueueDepth(len(s.pending), s.active)
}

type noopEmitter struct{}

func (noopEmitter) Emit(sse.Event) {}
