package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/reelshelf/reelshelf-server/internal/domain"
	domainerrors "github.com/reelshelf/reelshelf-server/internal/errors"
	"github.com/reelshelf/reelshelf-server/internal/metrics"
	"github.com/reelshelf/reelshelf-server/internal/store"
)

var (
	// {id}.{token}.tmp.{ext}
	tempFileRegex = regexp.MustCompile(`^\d+\.[0-9A-Za-z-]+\.tmp\.[0-9A-Za-z]+$`)
	// {id}.{ext}
	outputFileRegex = regexp.MustCompile(`^(\d+)\.[0-9A-Za-z]+$`)
)

// CacheStats summarizes finished outputs in the cache directory.
type CacheStats struct {
	FileCount  int   `json:"file_count"`
	TotalBytes int64 `json:"total_size_bytes"`
}

// cachedOutput is one finished output file found on disk.
type cachedOutput struct {
	itemID  int64
	path    string
	size    int64
	modTime time.Time
}

// HasConvertedVersion reports whether the item has a recorded output that still exists on disk.
func (s *ConversionService) HasConvertedVersion(ctx context.Context, itemID int64) (bool, error) {
	_, ok, err := s.ConvertedVersion(ctx, itemID)
	return ok, err
}

// ConvertedVersion returns the item's converted path when it is recorded and the file exists.
// A recorded path whose file is gone reports false.
func (s *ConversionService) ConvertedVersion(ctx context.Context, itemID int64) (string, bool, error) {
	item, err := s.store.GetMediaItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", false, domainerrors.NotFoundf("media item %d not found", itemID)
		}
		return "", false, domainerrors.Wrapf(err, domainerrors.CodeInternal, "get media item %d", itemID)
	}
	if !item.HasConvertedPath() {
		return "", false, nil
	}
	if !fileExists(*item.ConvertedPath) {
		return "", false, nil
	}
	return *item.ConvertedPath, true, nil
}

// hasValidOutput decides whether admission should report "already converted".
// A dangling store pointer is cleared. A finished output on disk that the store does not
// know about (crash between rename and store write) is adopted.
func (s *ConversionService) hasValidOutput(ctx context.Context, item *domain.MediaItem, outputPath string) (bool, error) {
	if item.HasConvertedPath() {
		if fileExists(*item.ConvertedPath) {
			return true, nil
		}
		s.logger.Warn("converted output missing, clearing stale path",
			slog.Int64("item_id", item.ID),
			slog.String("path", *item.ConvertedPath),
		)
		if err := s.store.ClearConvertedPath(ctx, item.ID); err != nil {
			return false, domainerrors.Wrapf(err, domainerrors.CodeInternal, "clear converted path for item %d", item.ID)
		}
		return false, nil
	}

	return s.adoptOutput(ctx, item, outputPath)
}

// adoptOutput records an output file the store does not point at.
// Items with a queued or converting job are skipped: their worker owns outputPath
// and removes it if the attempt fails.
func (s *ConversionService) adoptOutput(ctx context.Context, item *domain.MediaItem, outputPath string) (bool, error) {
	if !fileExists(outputPath) || s.isInFlight(item.ID) {
		return false, nil
	}

	if err := s.store.SetConvertedPath(ctx, item.ID, outputPath); err != nil {
		return false, domainerrors.Wrapf(err, domainerrors.CodeInternal, "adopt output for item %d", item.ID)
	}
	s.logger.Info("adopted orphaned conversion output",
		slog.Int64("item_id", item.ID),
		slog.String("path", outputPath),
	)
	return true, nil
}

func (s *ConversionService) isActive(itemID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[itemID]
	return ok && e.job.Status == domain.ConversionStatusConverting
}

func (s *ConversionService) isInFlight(itemID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[itemID]
	return ok && e.job.IsInFlight()
}

// fileExists reports whether path is a non-empty regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// CacheStats lists the cache directory and sums finished outputs.
// In-progress temp files are not counted.
func (s *ConversionService) CacheStats() (CacheStats, error) {
	outputs, err := s.listOutputs()
	if err != nil {
		return CacheStats{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "read conversion cache")
	}

	var stats CacheStats
	for _, o := range outputs {
		stats.FileCount++
		stats.TotalBytes += o.size
	}
	return stats, nil
}

func (s *ConversionService) listOutputs() ([]cachedOutput, error) {
	entries, err := os.ReadDir(s.config.CachePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var outputs []cachedOutput
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		m := outputFileRegex.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		itemID, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		outputs = append(outputs, cachedOutput{
			itemID:  itemID,
			path:    filepath.Join(s.config.CachePath, entry.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	return outputs, nil
}

// sweepTempFiles deletes temp files left by attempts that never finished.
// Must only run while no job is converting.
func (s *ConversionService) sweepTempFiles() (int, error) {
	entries, err := os.ReadDir(s.config.CachePath)
	if err != nil {
		return 0, fmt.Errorf("read cache directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !tempFileRegex.MatchString(entry.Name()) {
			continue
		}
		path := filepath.Join(s.config.CachePath, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove orphaned temp file",
				slog.String("path", path),
				slog.Any("error", err),
			)
			continue
		}
		removed++
	}
	return removed, nil
}

// HandleCacheRemoval clears store pointers to an output file that has been removed from disk.
func (s *ConversionService) HandleCacheRemoval(ctx context.Context, path string) {
	if tempFileRegex.MatchString(filepath.Base(path)) {
		return
	}
	// Rename-over by a finishing job also reports a remove for the old name.
	if fileExists(path) {
		return
	}

	n, err := s.store.ClearConvertedPathByPath(ctx, path)
	if err != nil {
		s.logger.Warn("failed to clear converted path after removal",
			slog.String("path", path),
			slog.Any("error", err),
		)
		return
	}
	if n > 0 {
		s.logger.Info("converted output removed, cleared stored path",
			slog.String("path", path),
			slog.Int64("items", n),
		)
	}
}

// HandleCacheAddition adopts an output that appeared in the cache directory outside a
// conversion, such as a file restored by hand. Files that are not {id}.{ext} for a known
// item are ignored.
func (s *ConversionService) HandleCacheAddition(ctx context.Context, path string) {
	m := outputFileRegex.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return
	}
	itemID, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || filepath.Clean(path) != s.outputPath(itemID) {
		return
	}

	item, err := s.store.GetMediaItem(ctx, itemID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to load item for cache addition",
				slog.Int64("item_id", itemID),
				slog.Any("error", err),
			)
		}
		return
	}
	if item.HasConvertedPath() && fileExists(*item.ConvertedPath) {
		return
	}

	if _, err := s.adoptOutput(ctx, item, s.outputPath(itemID)); err != nil {
		s.logger.Warn("failed to adopt cache addition",
			slog.String("path", path),
			slog.Any("error", err),
		)
	}
}

// reconcileConvertedPaths clears stored paths whose files disappeared while the
// service was not watching the cache directory.
func (s *ConversionService) reconcileConvertedPaths(ctx context.Context) (int, error) {
	paths, err := s.store.ListConvertedPaths(ctx)
	if err != nil {
		return 0, fmt.Errorf("list converted paths: %w", err)
	}

	cleared := 0
	for itemID, path := range paths {
		if fileExists(path) {
			continue
		}
		if err := s.store.ClearConvertedPath(ctx, itemID); err != nil {
			return cleared, fmt.Errorf("clear converted path for item %d: %w", itemID, err)
		}
		s.logger.Debug("cleared missing converted output",
			slog.Int64("item_id", itemID),
			slog.String("path", path),
		)
		cleared++
	}
	return cleared, nil
}

func (s *ConversionService) evictLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.EvictInterval)
	defer ticker.Stop()

	s.logger.Info("cache eviction enabled",
		slog.Duration("max_age", s.config.CacheMaxAge),
		slog.Int64("max_bytes", s.config.CacheMaxBytes),
		slog.Duration("interval", s.config.EvictInterval),
	)

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			if n, err := s.EvictCache(s.ctx, now); err != nil {
				s.logger.Warn("cache eviction failed", slog.Any("error", err))
			} else if n > 0 {
				s.logger.Info("evicted converted outputs", slog.Int("count", n))
			}
		}
	}
}

// EvictCache removes outputs older than CacheMaxAge, then the oldest outputs while the cache
// exceeds CacheMaxBytes. Outputs of converting items are never touched.
// Returns the number of files removed.
func (s *ConversionService) EvictCache(ctx context.Context, now time.Time) (int, error) {
	outputs, err := s.listOutputs()
	if err != nil {
		return 0, fmt.Errorf("list cache outputs: %w", err)
	}

	slices.SortFunc(outputs, func(a, b cachedOutput) int {
		if c := a.modTime.Compare(b.modTime); c != 0 {
			return c
		}
		return cmp.Compare(a.itemID, b.itemID)
	})

	var total int64
	for _, o := range outputs {
		total += o.size
	}

	removed := 0
	for _, o := range outputs {
		reason := ""
		switch {
		case s.config.CacheMaxAge > 0 && now.Sub(o.modTime) > s.config.CacheMaxAge:
			reason = "age"
		case s.config.CacheMaxBytes > 0 && total > s.config.CacheMaxBytes:
			reason = "size"
		default:
			continue
		}

		if s.isActive(o.itemID) {
			continue
		}

		if err := os.Remove(o.path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to evict output", slog.String("path", o.path), slog.Any("error", err))
			continue
		}
		total -= o.size
		removed++
		metrics.RecordEviction(reason)

		if _, err := s.store.ClearConvertedPathByPath(ctx, o.path); err != nil {
			return removed, fmt.Errorf("clear converted path %s: %w", o.path, err)
		}
	}
	return removed, nil
}
