package jobs

import (
	"testing"
	"time"

	"github.com/ocelotpki/ocelot/pkg/config"
	"github.com/ocelotpki/ocelot/pkg/helpers"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobSchedulerRunsScheduledJob(t *testing.T) {
	logger := helpers.SetupLogger(config.None, "Jobs", "Test")

	ran := make(chan struct{}, 1)
	job := cron.FuncJob(func() {
		select {
		case ran <- struct{}{}:
		default:
		}
	})

	scheduler := NewJobScheduler(logger, "* * * * * *", job)
	scheduler.Start()
	defer scheduler.Stop()

	require.False(t, scheduler.NextRun().IsZero())

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run within its schedule")
	}
}

func TestJobSchedulerWithoutJob(t *testing.T) {
	logger := helpers.SetupLogger(config.None, "Jobs", "Test")

	scheduler := NewJobScheduler(logger, "@hourly", nil)
	assert.True(t, scheduler.NextRun().IsZero())

	scheduler.Start()
	scheduler.Stop()
}
