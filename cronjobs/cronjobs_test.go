package cronjobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-civicreport/logger"
)

type countingRescanner struct{ calls int32 }

func (r *countingRescanner) Rescan(ctx context.Context) int {
	atomic.AddInt32(&r.calls, 1)
	return 1
}

func TestInitCronJobsDisabled(t *testing.T) {
	c, err := InitCronJobs("", &countingRescanner{}, logger.Nop())
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestInitCronJobsBadSchedule(t *testing.T) {
	_, err := InitCronJobs("every now and then", &countingRescanner{}, logger.Nop())
	assert.Error(t, err)
}

func TestInitCronJobsRunsRescan(t *testing.T) {
	r := &countingRescanner{}
	c, err := InitCronJobs("@every 1s", r, logger.Nop())
	require.NoError(t, err)
	defer c.Stop()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&r.calls) > 0 }, 3*time.Second, 50*time.Millisecond)
}
