package expiration

import (
	"context"
	"time"

	"smallbiznis-loyalty/pkg/config"
	"smallbiznis-loyalty/pkg/featureflags"
	"smallbiznis-loyalty/pkg/lock"
	"smallbiznis-loyalty/pkg/rediskey"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultLockTTL = 30 * time.Minute

type Scheduler struct {
	job      *Job
	flags    featureflags.FeatureFlag
	locker   lock.Locker
	interval time.Duration
	hour     int
	minute   int
	lockTTL  time.Duration
	now      func() time.Time
}

type SchedulerParams struct {
	fx.In
	Job    *Job
	Flags  featureflags.FeatureFlag
	Locker lock.Locker
	Config *config.Config
}

func NewScheduler(p SchedulerParams) *Scheduler {
	s := &Scheduler{
		job:      p.Job,
		flags:    p.Flags,
		locker:   p.Locker,
		interval: p.Config.Expiration.Interval,
		hour:     p.Config.Expiration.StartHour,
		minute:   p.Config.Expiration.StartMinute,
		lockTTL:  p.Config.Expiration.LockTTL,
		now:      time.Now,
	}
	if s.interval <= 0 {
		s.interval = 24 * time.Hour
	}
	if s.lockTTL <= 0 {
		s.lockTTL = defaultLockTTL
	}
	return s
}

// StartScheduler runs the scheduler for the lifetime of the app.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				s.run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started points expiration scheduler", zap.Duration("interval", s.interval))

	for {
		now := s.now()
		next := nextRunTime(now, s.hour, s.minute, s.interval)

		sleepDuration := next.Sub(now)
		zap.L().Info("[Scheduler] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", sleepDuration),
		)
		select {
		case <-time.After(sleepDuration):
			s.RunOnce(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

// RunOnce runs the job unless the feature is off or another instance holds
// the run lock, and reports whether it ran. On success the lock is left to
// expire so instances ticking later in the same slot skip the run.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	if !s.flags.IsEnabled(ctx, featureflags.PointsExpiration, true) {
		zap.L().Info("[Scheduler] points expiration disabled by feature flag")
		return false
	}

	h, ok, err := s.locker.TryLock(ctx, rediskey.ExpirationJobLock, s.lockTTL)
	if err != nil {
		zap.L().Error("[Scheduler] failed to take expiration lock", zap.Error(err))
		return false
	}
	if !ok {
		zap.L().Info("[Scheduler] expiration run owned by another instance")
		return false
	}

	start := time.Now()
	run, err := s.job.Run(ctx, s.now().UTC())
	if err != nil {
		zap.L().Error("[Scheduler] expiration run failed", zap.Error(err))
		if uerr := h.Unlock(context.WithoutCancel(ctx)); uerr != nil {
			zap.L().Warn("[Scheduler] failed to release expiration lock", zap.Error(uerr))
		}
		return true
	}

	zap.L().Info("[Scheduler] expiration run finished",
		zap.String("request_id", run.RequestID),
		zap.Duration("duration", time.Since(start)),
	)
	return true
}

// nextRunTime returns the first slot after now. Slots start at hour:minute
// of the current day and repeat every interval.
func nextRunTime(now time.Time, hour, minute int, interval time.Duration) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	for next.After(now.Add(interval)) {
		next = next.Add(-interval)
	}
	for !next.After(now) {
		next = next.Add(interval)
	}
	return next
}
