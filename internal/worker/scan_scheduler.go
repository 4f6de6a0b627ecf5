package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-sla/internal/scanner"
)

const scanLockKey = "helpdesk:sla_scan_lock"

// ScanRunner is the breach scanner as seen by the scheduler.
type ScanRunner interface {
	Run(ctx context.Context, now time.Time) (scanner.Report, error)
}

// Locker is a distributed lock across replicas.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}

// ScanSchedulerDependencies bundles collaborators. A nil Locker runs every tick.
type ScanSchedulerDependencies struct {
	Runner   ScanRunner
	Locker   Locker
	Schedule string
	LockTTL  time.Duration
	Clock    func() time.Time
	Logger   *zap.Logger
}

// ScanScheduler triggers the breach scanner on a cron schedule.
type ScanScheduler struct {
	cron    *cron.Cron
	runner  ScanRunner
	locker  Locker
	lockTTL time.Duration
	clock   func() time.Time
	logger  *zap.Logger
}

// NewScanScheduler validates the schedule and registers the scan job.
// Overlapping ticks are skipped while a run is still in progress.
func NewScanScheduler(deps ScanSchedulerDependencies) (*ScanScheduler, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	lockTTL := deps.LockTTL
	if lockTTL <= 0 {
		lockTTL = 9 * time.Minute
	}

	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	s := &ScanScheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		runner:  deps.Runner,
		locker:  deps.Locker,
		lockTTL: lockTTL,
		clock:   clock,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(deps.Schedule, s.tick); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins ticking in the background.
func (s *ScanScheduler) Start() {
	s.cron.Start()
	s.logger.Info("sla scan scheduler started")
}

// Stop halts scheduling and waits for a running scan to finish or ctx to end.
func (s *ScanScheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.logger.Info("sla scan scheduler stopped")
}

func (s *ScanScheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTTL)
	defer cancel()
	if _, _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("sla scan failed", zap.Error(err))
	}
}

// RunOnce runs one scan unless another replica holds the lock. It reports
// whether the scan ran. A lock backend failure does not block the scan.
func (s *ScanScheduler) RunOnce(ctx context.Context) (scanner.Report, bool, error) {
	if s.locker != nil {
		token, err := s.locker.TryLock(ctx, scanLockKey, s.lockTTL)
		switch {
		case err != nil:
			s.logger.Warn("sla scan lock unavailable; scanning without it", zap.Error(err))
		case token == "":
			s.logger.Debug("sla scan skipped; lock held elsewhere")
			return scanner.Report{}, false, nil
		default:
			defer func() {
				if err := s.locker.Unlock(context.Background(), scanLockKey, token); err != nil {
					s.logger.Warn("sla scan unlock failed", zap.Error(err))
				}
			}()
		}
	}
	report, err := s.runner.Run(ctx, s.clock())
	return report, true, err
}
