package service

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/reelshelf/reelshelf-server/internal/domain"
)

// conversionEntry is the registry record for one item.
// Every field is guarded by ConversionService.mu.
type conversionEntry struct {
	job      *domain.ConversionJob
	duration time.Duration // known source duration; 0 if unknown

	// Set on activation.
	ctx     context.Context //nolint:containedctx // Per-attempt kill context handed to the worker
	kill    context.CancelFunc
	attempt string        // temp-file token, unique per attempt
	done    chan struct{} // closed when the worker has finished

	cancelled    bool // kill requested by Cancel or Stop
	wasCancelled bool // outcome; readable once done is closed

	retention *time.Timer
}

func (e *conversionEntry) stopRetention() {
	if e.retention != nil {
		e.retention.Stop()
		e.retention = nil
	}
}

// ConversionStatus is a serializable snapshot of the engine.
type ConversionStatus struct {
	Active         []domain.ConversionJob `json:"active"`
	PendingIDs     []int64                `json:"pending_ids"`
	Finished       []domain.ConversionJob `json:"finished"`
	CompletedCount int                    `json:"completed_count"`
	TotalInFlight  int                    `json:"total_in_flight"`
}

func (s *ConversionService) enqueueLocked(e *conversionEntry) {
	s.entries[e.job.ItemID] = e
	s.pending = append(s.pending, e.job.ItemID)
}

// activateLocked moves the next pending item into an active slot.
// Returns nil when the queue is empty.
func (s *ConversionService) activateLocked() *conversionEntry {
	for len(s.pending) > 0 {
		id := s.pending[0]
		s.pending = s.pending[1:]

		e, ok := s.entries[id]
		if !ok || e.job.Status != domain.ConversionStatusQueued {
			continue
		}

		e.job.MarkConverting()
		e.ctx, e.kill = context.WithCancel(s.ctx)
		e.attempt = uuid.NewString()
		e.done = make(chan struct{})
		s.active++
		return e
	}
	return nil
}

func (s *ConversionService) removePendingLocked(id int64) bool {
	i := slices.Index(s.pending, id)
	if i < 0 {
		return false
	}
	s.pending = slices.Delete(s.pending, i, i+1)
	return true
}

// retainLocked keeps a completed job visible for the retention grace, then removes it
// unless a newer attempt has replaced it.
func (s *ConversionService) retainLocked(e *conversionEntry) {
	if s.config.RetentionGrace <= 0 {
		delete(s.entries, e.job.ItemID)
		return
	}
	id := e.job.ItemID
	e.retention = time.AfterFunc(s.config.RetentionGrace, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.entries[id] == e {
			delete(s.entries, id)
		}
	})
}

// Status returns a snapshot of active, pending and retained jobs.
// Jobs are copies; the snapshot never exposes live registry state.
func (s *ConversionService) Status() ConversionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := ConversionStatus{
		Active:         []domain.ConversionJob{},
		PendingIDs:     slices.Clone(s.pending),
		Finished:       []domain.ConversionJob{},
		CompletedCount: s.completed,
	}
	if status.PendingIDs == nil {
		status.PendingIDs = []int64{}
	}

	for _, e := range s.entries {
		switch {
		case e.job.Status == domain.ConversionStatusConverting:
			status.Active = append(status.Active, *e.job)
		case e.job.IsTerminal():
			status.Finished = append(status.Finished, *e.job)
		}
	}

	byItem := func(a, b domain.ConversionJob) int { return cmp.Compare(a.ItemID, b.ItemID) }
	slices.SortFunc(status.Active, byItem)
	slices.SortFunc(status.Finished, byItem)

	status.TotalInFlight = len(status.Active) + len(status.PendingIDs)
	return status
}

// Job returns a copy of the item's job, if the registry holds one.
func (s *ConversionService) Job(itemID int64) (domain.ConversionJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[itemID]
	if !ok {
		return domain.ConversionJob{}, false
	}
	return *e.job, true
}
