package job

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultSweepTimeout = 30 * time.Second

// Reconciler repairs persisted presence against the in-memory registry.
type Reconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

// PresenceSweepJob marks users offline in the store when they are stored
// as online but no longer in the registry, e.g. after a restart.
type PresenceSweepJob struct {
	reconciler Reconciler
	timeout    time.Duration
	logger     *zap.Logger
}

// NewPresenceSweepJob creates a new PresenceSweepJob instance
func NewPresenceSweepJob(reconciler Reconciler, logger *zap.Logger) *PresenceSweepJob {
	return &PresenceSweepJob{
		reconciler: reconciler,
		timeout:    defaultSweepTimeout,
		logger:     logger,
	}
}

// Run executes one sweep. It satisfies cron.Job.
func (j *PresenceSweepJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	fixed, err := j.reconciler.Reconcile(ctx)
	if err != nil {
		j.logger.Error("Presence sweep failed",
			zap.Int("fixed", fixed),
			zap.Error(err),
		)
		return
	}

	if fixed > 0 {
		j.logger.Info("Presence sweep corrected stale users",
			zap.Int("fixed", fixed),
		)
		return
	}
	j.logger.Debug("Presence sweep found nothing to correct")
}

// Schedule runs the job once, then registers it on a new cron scheduler
// with the given spec. The caller starts and stops the scheduler.
func Schedule(spec string, j *PresenceSweepJob) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddJob(spec, cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(j)); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	j.Run()
	return c, nil
}
