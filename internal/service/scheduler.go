package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/avandra/go-toggl-backend/internal/model"
)

const (
	maxRecommendedDays     = 30
	defaultRecommendedDays = 30

	schedulerInterval = time.Hour
	schedulerErrPause = 5 * time.Minute
)

// DailyRecommendation computes how many days a catch-up sync should cover:
// from the day after the last completed time-entry range through today,
// capped at maxRecommendedDays. A workspace with no history gets the full
// default window.
func (s *SyncService) DailyRecommendation(ctx context.Context, workspaceID int64) (*model.SyncRecommendation, error) {
	last, err := s.store.LastCompletedTimeEntrySync(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	days := defaultRecommendedDays
	if last != nil && last.DateRangeEnd != nil {
		days = daysBetween(*last.DateRangeEnd, s.now()) + 1
		if days < 1 {
			days = 1
		}
		if days > maxRecommendedDays {
			days = maxRecommendedDays
		}
	}
	est := EstimateCalls(model.SyncTypeTimeEntries, days)
	return &model.SyncRecommendation{
		WorkspaceID:     workspaceID,
		RecommendedDays: days,
		EstimatedCalls:  est,
		IsSafe:          IsSafe(est),
	}, nil
}

// RunAutomaticDailySync performs the unattended catch-up for one workspace.
// It is a no-op when a completed time-entry sync already ran today, and it
// skips (without error) when the recommendation is over budget.
func (s *SyncService) RunAutomaticDailySync(ctx context.Context, workspaceID int64) (*model.SyncLog, error) {
	midnight := dateOnly(s.now())
	ran, err := s.store.HasCompletedTimeEntrySyncSince(ctx, workspaceID, midnight)
	if err != nil {
		return nil, err
	}
	if ran {
		return nil, nil
	}

	rec, err := s.DailyRecommendation(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if !rec.IsSafe {
		log.Printf("auto sync: skipping workspace %d, %d estimated calls over threshold", workspaceID, rec.EstimatedCalls)
		return nil, nil
	}

	end := dateOnly(s.now())
	start := end.AddDate(0, 0, -(rec.RecommendedDays - 1))
	return s.SyncTimeEntries(ctx, workspaceID, start, end)
}

// Scheduler wakes hourly and runs the daily catch-up for every workspace
// with auto sync enabled at its configured hour.
type Scheduler struct {
	sync     *SyncService
	settings *SettingService

	interval time.Duration
	errPause time.Duration
	now      func() time.Time
}

func NewScheduler(sync *SyncService, settings *SettingService) *Scheduler {
	return &Scheduler{
		sync:     sync,
		settings: settings,
		interval: schedulerInterval,
		errPause: schedulerErrPause,
		now:      time.Now,
	}
}

// Run blocks until ctx is canceled. A failed tick pauses briefly instead of
// waiting the full interval, so transient outages are retried sooner.
func (s *Scheduler) Run(ctx context.Context) {
	log.Println("scheduler: started")
	for {
		wait := s.interval
		if err := s.tick(ctx); err != nil {
			log.Printf("scheduler: tick failed: %v", err)
			wait = s.errPause
		}
		select {
		case <-ctx.Done():
			log.Println("scheduler: stopped")
			return
		case <-time.After(wait):
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	ids, err := s.settings.AutoSyncWorkspaces(ctx)
	if err != nil {
		return err
	}
	// One workspace's failure must not starve the rest of the tick.
	hour := s.now().Hour()
	for _, id := range ids {
		configured, err := s.settings.AutoSyncHour(ctx, id)
		if err != nil {
			log.Printf("scheduler: workspace %d settings: %v", id, err)
			continue
		}
		if configured != hour {
			continue
		}
		if _, err := s.sync.RunAutomaticDailySync(ctx, id); err != nil {
			// A conflict means someone started a sync manually; leave it be.
			if errors.Is(err, ErrSyncConflict) {
				log.Printf("scheduler: workspace %d busy, skipping", id)
				continue
			}
			log.Printf("scheduler: workspace %d failed: %v", id, err)
			continue
		}
	}
	return nil
}
