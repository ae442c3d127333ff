package cronjobs

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Rescanner loads models whose weights were missing at startup.
type Rescanner interface {
	Rescan(ctx context.Context) int
}

// rescanTimeout bounds one rescan so a stuck inference server cannot pile up
// overlapping runs.
const rescanTimeout = 2 * time.Minute

// InitCronJobs schedules the model rescan and starts the scheduler. An empty
// schedule disables it and returns a nil scheduler.
func InitCronJobs(schedule string, models Rescanner, log *zap.SugaredLogger) (*cron.Cron, error) {
	if schedule == "" {
		log.Infof("model rescan disabled")
		return nil, nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), rescanTimeout)
		defer cancel()
		if n := models.Rescan(ctx); n > 0 {
			log.Infof("CronJob: model rescan loaded %d model(s)", n)
		}
	})
	if err != nil {
		return nil, errors.Wrapf(err, "schedule model rescan %q", schedule)
	}

	c.Start()
	log.Infof("Starting Cron Jobs: model rescan %q", schedule)
	return c, nil
}
